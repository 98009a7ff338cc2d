package uratap

import (
	"sync"

	"github.com/pkg/errors"
)

// Engine creates and toggles inline hooks. Manager serializes its own calls
// but an Engine must tolerate being driven from any thread.
type Engine interface {
	Create(target OriginalFunc, detour uintptr) (Trampoline, error)
	Enable(target OriginalFunc) error
	Disable(target OriginalFunc) error
	Remove(target OriginalFunc) error
}

// codeMemory is the executable memory of the current process.
type codeMemory interface {
	// allocNear returns size bytes of executable memory, preferably within
	// rel32 reach of addr.
	allocNear(addr uintptr, size int) (uintptr, error)
	free(addr uintptr, size int) error
	read(addr uintptr, size int) []byte
	// write copies b over code at addr, restoring protection afterwards.
	write(addr uintptr, b []byte) error
}

// one slot holds the relay stub and the trampoline of a single hook
const slotSize = 64

// InlineEngine patches x86-64 function prologues in the current process.
type InlineEngine struct {
	mem codeMemory
	// hooks applied with target addresses as keys
	hooks map[uintptr]*hook
	// protect the hooks map
	lock sync.Mutex
}

// NewEngine returns an engine that patches the memory of the running process.
func NewEngine() *InlineEngine {
	return newEngine(systemMemory{})
}

func newEngine(mem codeMemory) *InlineEngine {
	return &InlineEngine{
		mem:   mem,
		hooks: make(map[uintptr]*hook),
	}
}

// Create prepares a hook redirecting target to detour and returns the
// trampoline. The target is not modified until Enable.
func (e *InlineEngine) Create(target OriginalFunc, detour uintptr) (Trampoline, error) {
	if target == 0 || detour == 0 {
		return 0, errors.New("nil target or detour")
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	if _, ok := e.hooks[uintptr(target)]; ok {
		return 0, ErrDoubleHook
	}
	from := uintptr(target)
	slot, err := e.mem.allocNear(from, slotSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate trampoline slot")
	}
	// slot layout: [absolute jump to detour][trampoline]
	jumper := slot + absJumpLen
	patchLen := relJumpLen
	near := !overflowsS32(from, slot)
	if !near {
		patchLen = absJumpLen
	}
	code := e.mem.read(from, maxStolen)
	tramp, stolen, err := buildTrampoline(code, from, jumper, patchLen)
	if err != nil {
		e.mem.free(slot, slotSize)
		return 0, err
	}
	if err := e.mem.write(slot, append(absJump(detour), tramp...)); err != nil {
		e.mem.free(slot, slotSize)
		return 0, errors.Wrap(err, "failed to write trampoline")
	}
	var patch []byte
	if near {
		patch = relJump(from, slot)
	} else {
		patch = absJump(detour)
	}
	// pad the rest of the stolen region so a disassembler stays in sync
	for len(patch) < stolen {
		patch = append(patch, 0x90)
	}
	e.hooks[from] = &hook{
		target: from,
		stolen: append([]byte(nil), code[:stolen]...),
		patch:  patch,
		slot:   slot,
		jumper: jumper,
	}
	return Trampoline(jumper), nil
}

// Enable writes the jump into target.
func (e *InlineEngine) Enable(target OriginalFunc) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	h, ok := e.hooks[uintptr(target)]
	if !ok {
		return ErrHookNotFound
	}
	if h.enabled {
		return nil
	}
	if err := e.mem.write(h.target, h.patch); err != nil {
		return err
	}
	h.enabled = true
	return nil
}

// Disable restores the original bytes of target.
func (e *InlineEngine) Disable(target OriginalFunc) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	h, ok := e.hooks[uintptr(target)]
	if !ok {
		return ErrHookNotFound
	}
	return e.disable(h)
}

func (e *InlineEngine) disable(h *hook) error {
	if !h.enabled {
		return nil
	}
	if err := e.mem.write(h.target, h.stolen); err != nil {
		return err
	}
	h.enabled = false
	return nil
}

// Remove disables the hook and releases its trampoline. Calls still running
// inside the trampoline must have returned before the memory is reused.
func (e *InlineEngine) Remove(target OriginalFunc) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	h, ok := e.hooks[uintptr(target)]
	if !ok {
		return ErrHookNotFound
	}
	if err := e.disable(h); err != nil {
		return err
	}
	delete(e.hooks, h.target)
	return e.mem.free(h.slot, slotSize)
}
