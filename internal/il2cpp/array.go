package il2cpp

import (
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/native"
)

// Il2CppArray layout on amd64: klass, monitor, bounds, max_length, data.
const (
	arrayLengthOffset = 24
	arrayDataOffset   = 32
)

// MaxArrayBytes is the largest managed array ArrayBytes copies. Anything
// longer is taken to be a corrupt header.
const MaxArrayBytes = 64 << 20

// ErrBadArray means an array header or its contents could not be trusted.
var ErrBadArray = errors.New("il2cpp array unreadable")

// ArrayBytes copies the contents of the managed byte array at arr. A null
// array yields nil. The copy is all or nothing: an oversized length or a
// short read returns ErrBadArray and no bytes.
func ArrayBytes(mem native.Memory, arr uintptr) ([]byte, error) {
	if arr == 0 {
		return nil, nil
	}
	n := native.ReadUintptr(mem, arr+arrayLengthOffset)
	if n == 0 {
		return []byte{}, nil
	}
	if n > MaxArrayBytes {
		return nil, errors.Wrapf(ErrBadArray, "length %d exceeds %d", n, MaxArrayBytes)
	}
	b := mem.ReadBytes(arr+arrayDataOffset, int(n))
	if len(b) != int(n) {
		return nil, errors.Wrapf(ErrBadArray, "read %d of %d bytes", len(b), n)
	}
	return b, nil
}
