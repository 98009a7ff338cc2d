package uratap

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jumpTarget(t *testing.T, b []byte) uintptr {
	t.Helper()
	require.Len(t, b, absJumpLen)
	require.Equal(t, []byte{0xff, 0x25, 0, 0, 0, 0}, b[:6])
	return uintptr(binary.LittleEndian.Uint64(b[6:]))
}

func TestBuildTrampolinePlainPrologue(t *testing.T) {
	code := []byte{
		0x48, 0x89, 0x5c, 0x24, 0x08, // MOV [RSP+8], RBX
		0x57,                   // PUSH RDI
		0x48, 0x83, 0xec, 0x20, // SUB RSP, 0x20
	}
	src, dst := uintptr(0x140001000), uintptr(0x140200000)

	out, stolen, err := buildTrampoline(code, src, dst, relJumpLen)
	require.NoError(t, err)
	assert.Equal(t, 5, stolen)
	assert.Equal(t, code[:5], out[:5])
	assert.Equal(t, src+5, jumpTarget(t, out[5:]))
}

func TestBuildTrampolineCoversWholeInstructions(t *testing.T) {
	code := []byte{
		0x57,                   // PUSH RDI
		0x48, 0x83, 0xec, 0x20, // SUB RSP, 0x20
		0x48, 0x8b, 0xf9, // MOV RDI, RCX
		0xc3,
	}
	out, stolen, err := buildTrampoline(code, 0x1000, 0x2000, relJumpLen)
	require.NoError(t, err)
	assert.Equal(t, 5, stolen)
	assert.Equal(t, uintptr(0x1005), jumpTarget(t, out[5:]))

	_, stolen, err = buildTrampoline(code, 0x1000, 0x2000, 6)
	require.NoError(t, err)
	assert.Equal(t, 8, stolen)
}

func TestBuildTrampolineRelocatesRIPRelative(t *testing.T) {
	code := []byte{
		0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00, // MOV RAX, [RIP+0x10]
		0xc3,
	}
	src, dst := uintptr(0x10000000), uintptr(0x10001000)

	out, stolen, err := buildTrampoline(code, src, dst, relJumpLen)
	require.NoError(t, err)
	assert.Equal(t, 7, stolen)

	disp := int64(int32(binary.LittleEndian.Uint32(out[3:7])))
	assert.Equal(t, int64(src)+7+0x10, int64(dst)+7+disp, "absolute operand must not move")
	assert.Equal(t, code[:3], out[:3])
	assert.Equal(t, src+7, jumpTarget(t, out[7:]))
}

func TestBuildTrampolineRelocatesCall(t *testing.T) {
	code := []byte{
		0xe8, 0x00, 0x01, 0x00, 0x00, // CALL rel32
		0x90,
	}
	src, dst := uintptr(0x20000000), uintptr(0x20008000)

	out, stolen, err := buildTrampoline(code, src, dst, relJumpLen)
	require.NoError(t, err)
	assert.Equal(t, 5, stolen)
	assert.Equal(t, byte(0xe8), out[0])
	disp := int32(binary.LittleEndian.Uint32(out[1:5]))
	assert.Equal(t, int32(0x100-0x8000), disp)
}

func TestBuildTrampolineRejectsShortBranch(t *testing.T) {
	code := []byte{
		0x74, 0x05, // JE +5
		0x90, 0x90, 0x90, 0x90, 0x90,
	}
	_, _, err := buildTrampoline(code, 0x1000, 0x2000, relJumpLen)
	assert.True(t, errors.Is(err, ErrRelativeAddr))
}

func TestBuildTrampolineRejectsUnreachableOperand(t *testing.T) {
	code := []byte{
		0x48, 0x8b, 0x05, 0x10, 0x00, 0x00, 0x00, // MOV RAX, [RIP+0x10]
	}
	_, _, err := buildTrampoline(code, 0x10000000, 0x7ff000000000, relJumpLen)
	assert.True(t, errors.Is(err, ErrRelativeAddr))
}

func TestBuildTrampolineRejectsShortFunction(t *testing.T) {
	code := []byte{
		0x31, 0xc0, // XOR EAX, EAX
		0xc3,       // RET
		0xcc, 0xcc, 0xcc,
	}
	_, _, err := buildTrampoline(code, 0x1000, 0x2000, relJumpLen)
	assert.True(t, errors.Is(err, ErrFunctionTooShort))
}

func TestRelJump(t *testing.T) {
	b := relJump(0x1000, 0x2000)
	assert.Equal(t, byte(0xe9), b[0])
	assert.Equal(t, int32(0x2000-0x1005), int32(binary.LittleEndian.Uint32(b[1:])))

	b = relJump(0x2000, 0x1000)
	assert.Equal(t, int32(0x1000-0x2005), int32(binary.LittleEndian.Uint32(b[1:])))
}

func TestOverflowsS32(t *testing.T) {
	assert.False(t, overflowsS32(0x140001000, 0x140100000))
	assert.False(t, overflowsS32(0x140100000, 0x140001000))
	assert.True(t, overflowsS32(0x140001000, 0x7ff000000000))
	assert.True(t, overflowsS32(0x7ff000000000, 0x140001000))
}
