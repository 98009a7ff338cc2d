// Package native exposes the host process services the tap depends on.
package native

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned on platforms without an in-process implementation.
var ErrUnsupported = errors.New("native: unsupported platform")

// Memory reads the address space of the current process.
type Memory interface {
	// ReadBytes copies n bytes starting at addr.
	ReadBytes(addr uintptr, n int) []byte
	// ReadCString reads a NUL-terminated string of at most max bytes.
	ReadCString(addr uintptr, max int) string
}

// Process is the set of OS services used from inside the host process.
type Process interface {
	Memory

	// ModuleHandle returns the base of an already loaded module, 0 if absent.
	ModuleHandle(name string) uintptr
	// LoadModule loads a module by name or path.
	LoadModule(path string) (uintptr, error)
	// ProcAddress looks up an exported procedure of module.
	ProcAddress(module uintptr, name string) (uintptr, error)
	// ModulePath returns the on-disk path of a loaded module, 0 for the executable.
	ModulePath(module uintptr) (string, error)

	// Call invokes the native function fn with integer arguments.
	Call(fn uintptr, args ...uintptr) uintptr
	// CString returns a NUL-terminated copy of s and a func that must be
	// called once the native side no longer reads it.
	CString(s string) (uintptr, func())
	// Scratch returns size zeroed bytes for out-parameters, valid until the
	// returned func is called.
	Scratch(size int) (uintptr, func())
	// Callback wraps a Go func taking and returning uintptr values into a
	// native function pointer.
	Callback(fn interface{}) uintptr
}

// ReadUintptr reads a pointer-sized little endian value.
func ReadUintptr(mem Memory, addr uintptr) uintptr {
	b := mem.ReadBytes(addr, 8)
	if len(b) < 8 {
		return 0
	}
	return uintptr(binary.LittleEndian.Uint64(b))
}

const pageSize = 4096

// ReadUTF16String reads a NUL-terminated UTF-16 string of at most max code
// units.
func ReadUTF16String(mem Memory, addr uintptr, max int) string {
	if addr == 0 {
		return ""
	}
	const chunk = 64
	var units []uint16
	for len(units) < max {
		n := chunk
		if rest := max - len(units); rest < n {
			n = rest
		}
		at := addr + uintptr(len(units))*2
		// never read into the next page, it may be unmapped
		if room := int(pageSize-at%pageSize) / 2; room > 0 && room < n {
			n = room
		}
		b := mem.ReadBytes(at, n*2)
		if len(b) < n*2 {
			break
		}
		for i := 0; i < n; i++ {
			u := binary.LittleEndian.Uint16(b[i*2:])
			if u == 0 {
				return string(utf16.Decode(units))
			}
			units = append(units, u)
		}
	}
	return string(utf16.Decode(units))
}
