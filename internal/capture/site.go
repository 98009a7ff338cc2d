// Package capture holds the hook bodies placed on the game's payload and
// frame-rate entry points.
package capture

import (
	"fmt"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/uratap"
	"github.com/k2io/uratap/internal/il2cpp"
)

// Hooker installs hooks and finds their trampolines.
type Hooker interface {
	Install(original uratap.OriginalFunc, replacement uintptr) (uratap.Trampoline, error)
	TrampolineFor(original uratap.OriginalFunc) (uratap.Trampoline, error)
}

// Introspector locates managed methods and internal calls.
type Introspector interface {
	FindAssemblyImage(name string) (il2cpp.Image, error)
	FindClass(image il2cpp.Image, namespace, name string) (il2cpp.Class, error)
	FindMethodAddress(class il2cpp.Class, name string, params int) (il2cpp.NativeMethod, error)
	ResolveInternalCall(signature string) (il2cpp.NativeMethod, error)
}

// Site is one hooked function. Its target is published before the hook is
// enabled so the detour can find its trampoline from the first call on.
type Site struct {
	Name      string
	target    atomic.Uintptr
	installed atomic.Bool
}

// Install hooks addr with detour. Installing an installed site is a no-op.
func (s *Site) Install(hooks Hooker, addr uintptr, detour uintptr) error {
	if s.installed.Load() {
		return nil
	}
	s.target.Store(addr)
	if _, err := hooks.Install(uratap.OriginalFunc(addr), detour); err != nil {
		s.target.Store(0)
		return errors.Wrapf(err, "failed to hook %s", s.Name)
	}
	s.installed.Store(true)
	return nil
}

// Installed reports whether the hook is active.
func (s *Site) Installed() bool { return s.installed.Load() }

// Target returns the hooked address, 0 when not hooked.
func (s *Site) Target() uintptr { return s.target.Load() }

// Trampoline returns the address that runs the original implementation.
func (s *Site) Trampoline(hooks Hooker) (uintptr, error) {
	target := s.target.Load()
	if target == 0 {
		return 0, errors.Wrap(uratap.ErrHookNotFound, s.Name)
	}
	t, err := hooks.TrampolineFor(uratap.OriginalFunc(target))
	if err != nil {
		return 0, errors.Wrap(err, s.Name)
	}
	return uintptr(t), nil
}

// guard turns a panic in a hook body into a log entry; unwinding into the
// game's frames would crash the process.
func guard(logger log.Interface, name string) {
	if r := recover(); r != nil {
		logger.WithField("hook", name).Errorf("recovered from panic: %v", r)
	}
}

func hex(v uintptr) string { return fmt.Sprintf("%#x", v) }
