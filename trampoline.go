package uratap

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"
)

const (
	// JMP rel32
	relJumpLen = 5
	// JMP [RIP+0] followed by the absolute target
	absJumpLen = 14
	// longest x86 instruction
	maxInstLen = 15
	// bytes read from the target when building a trampoline
	maxStolen = absJumpLen + maxInstLen
)

// buildTrampoline copies the instructions covering at least minLen bytes of
// code, which lives at src, so that they run from dst. PC-relative operands
// are rewritten to keep their absolute targets, and a jump back to the first
// instruction that was not copied is appended. It returns the trampoline bytes
// and the number of bytes taken from code.
func buildTrampoline(code []byte, src, dst uintptr, minLen int) ([]byte, int, error) {
	out := make([]byte, 0, maxStolen+absJumpLen)
	off := 0
	for off < minLen {
		if off >= len(code) {
			return nil, 0, errors.Wrapf(ErrFunctionTooShort, "decoded %d of %d bytes", off, minLen)
		}
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "failed to decode instruction at %#x", src+uintptr(off))
		}
		raw := append([]byte(nil), code[off:off+inst.Len]...)
		switch inst.PCRel {
		case 0:
		case 4:
			disp := int64(int32(binary.LittleEndian.Uint32(raw[inst.PCRelOff:])))
			abs := int64(src) + int64(off+inst.Len) + disp
			next := int64(dst) + int64(len(out)+inst.Len)
			moved := abs - next
			if moved < math.MinInt32 || moved > math.MaxInt32 {
				return nil, 0, errors.Wrapf(ErrRelativeAddr, "%s at %#x out of rel32 range from trampoline", inst.Op, src+uintptr(off))
			}
			binary.LittleEndian.PutUint32(raw[inst.PCRelOff:], uint32(int32(moved)))
		default:
			return nil, 0, errors.Wrapf(ErrRelativeAddr, "%s at %#x uses a %d-byte displacement", inst.Op, src+uintptr(off), inst.PCRel)
		}
		out = append(out, raw...)
		off += inst.Len
		if endsFlow(inst) && off < minLen {
			return nil, 0, errors.Wrapf(ErrFunctionTooShort, "%s at %#x ends the function after %d bytes", inst.Op, src+uintptr(off-inst.Len), off)
		}
	}
	out = append(out, absJump(src+uintptr(off))...)
	return out, off, nil
}

func endsFlow(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.RET, x86asm.JMP:
		return true
	}
	return false
}

// absJump encodes JMP [RIP+0] with the target stored right after it.
func absJump(to uintptr) []byte {
	seq := []byte{
		0xff, 0x25, 0x00, 0x00, 0x00, 0x00, // JMP [RIP+0]
		0, 0, 0, 0, 0, 0, 0, 0, // .
	}
	binary.LittleEndian.PutUint64(seq[6:], uint64(to))
	return seq
}

// relJump encodes JMP rel32 placed at from.
func relJump(from, to uintptr) []byte {
	addr := uint32(int32(int64(to) - int64(from) - relJumpLen))
	return []byte{
		0xe9,                        // JMP rel32
		byte(addr), byte(addr >> 8), // .
		byte(addr >> 16), byte(addr >> 24), // .
	}
}

// overflowsS32 reports whether a JMP rel32 at from cannot reach to.
func overflowsS32(from, to uintptr) bool {
	diff := int64(to) - int64(from) - relJumpLen
	return diff < math.MinInt32 || diff > math.MaxInt32
}
