package uratap

import (
	"fmt"

	"github.com/pkg/errors"
)

// OriginalFunc is the entry point of a function before it was hooked.
type OriginalFunc uintptr

// Trampoline is the address that runs the original, unhooked implementation.
type Trampoline uintptr

func (o OriginalFunc) String() string { return fmt.Sprintf("%#x", uintptr(o)) }
func (t Trampoline) String() string { return fmt.Sprintf("%#x", uintptr(t)) }

// HookRecord is one active hook.
type HookRecord struct {
	Original   OriginalFunc
	Trampoline Trampoline
}

type hook struct {
	// the modified instructions
	target uintptr
	// original bytes of the patched region
	stolen []byte
	// bytes written over the target when enabled
	patch []byte
	// relay stub followed by the trampoline
	slot    uintptr
	jumper  uintptr
	enabled bool
}

var (
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrHookNotFound means the hook not found
	ErrHookNotFound = errors.New("hook not found")
	// ErrRelativeAddr means an instruction in the patched region cannot be relocated
	ErrRelativeAddr = errors.New("relative address in instruction")
	// ErrFunctionTooShort means the function ends before the patch fits
	ErrFunctionTooShort = errors.New("function too short to patch")
	// ErrEngine is matched by every *EngineError
	ErrEngine = errors.New("hook engine failure")
)

// EngineError carries the hook engine's own diagnostic for a failed operation.
type EngineError struct {
	Op     string
	Target OriginalFunc
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("hook engine: %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Is reports ErrEngine for any engine error so callers can classify failures.
func (e *EngineError) Is(target error) bool { return target == ErrEngine }

func engineError(op string, target OriginalFunc, err error) error {
	return &EngineError{Op: op, Target: target, Err: err}
}
