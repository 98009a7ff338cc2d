package capture

import (
	"sync/atomic"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/native"
)

// NoOverride leaves the game's own value in place.
const NoOverride = -1

// Internal calls carrying the frame pacing settings.
const (
	TargetFrameRateICall = "UnityEngine.Application::set_targetFrameRate(System.Int32)"
	VSyncCountICall      = "UnityEngine.QualitySettings::set_vSyncCount(System.Int32)"
)

// FrameRate replaces the game's frame rate and vsync settings with the
// configured overrides. The hooks stay in place even without an override so
// the values can change at runtime.
type FrameRate struct {
	proc  native.Process
	hooks Hooker
	log   log.Interface

	targetFPS atomic.Int32
	vsync     atomic.Int32

	fpsSite   Site
	vsyncSite Site

	fpsDetour   uintptr
	vsyncDetour uintptr
}

// NewFrameRate returns frame rate hooks starting with the given overrides.
func NewFrameRate(proc native.Process, hooks Hooker, logger log.Interface, targetFPS, vsyncCount int32) *FrameRate {
	if logger == nil {
		logger = log.Log
	}
	f := &FrameRate{
		proc:      proc,
		hooks:     hooks,
		log:       logger,
		fpsSite:   Site{Name: "set_targetFrameRate"},
		vsyncSite: Site{Name: "set_vSyncCount"},
	}
	f.SetOverrides(targetFPS, vsyncCount)
	f.fpsDetour = proc.Callback(f.setTargetFrameRate)
	f.vsyncDetour = proc.Callback(f.setVSyncCount)
	return f
}

// SetOverrides replaces both overrides. NoOverride disables one.
func (f *FrameRate) SetOverrides(targetFPS, vsyncCount int32) {
	f.targetFPS.Store(targetFPS)
	f.vsync.Store(vsyncCount)
}

// Overrides returns the current overrides.
func (f *FrameRate) Overrides() (targetFPS, vsyncCount int32) {
	return f.targetFPS.Load(), f.vsync.Load()
}

// Install hooks both setters. Each one is attempted even if the other fails;
// the first failure is returned.
func (f *FrameRate) Install(rt Introspector) error {
	var first error
	for _, h := range []struct {
		site   *Site
		icall  string
		detour uintptr
	}{
		{&f.fpsSite, TargetFrameRateICall, f.fpsDetour},
		{&f.vsyncSite, VSyncCountICall, f.vsyncDetour},
	} {
		ctx := f.log.WithField("icall", h.icall)
		if err := f.install(rt, h.site, h.icall, h.detour); err != nil {
			ctx.WithError(err).Warn("frame rate hook not installed")
			if first == nil {
				first = err
			}
			continue
		}
		ctx.WithField("addr", hex(h.site.Target())).Info("frame rate hook installed")
	}
	fps, vsync := f.Overrides()
	f.log.WithFields(log.Fields{"target_fps": fps, "vsync_count": vsync}).Info("frame rate overrides")
	return first
}

func (f *FrameRate) install(rt Introspector, site *Site, icall string, detour uintptr) error {
	if site.Installed() {
		return nil
	}
	addr, err := rt.ResolveInternalCall(icall)
	if err != nil {
		return errors.Wrap(err, "resolve")
	}
	return site.Install(f.hooks, uintptr(addr), detour)
}

func (f *FrameRate) setTargetFrameRate(value uintptr) uintptr {
	f.forward(&f.fpsSite, &f.targetFPS, value)
	return 0
}

func (f *FrameRate) setVSyncCount(value uintptr) uintptr {
	f.forward(&f.vsyncSite, &f.vsync, value)
	return 0
}

// forward substitutes the override, if any, and calls the original setter.
func (f *FrameRate) forward(site *Site, override *atomic.Int32, raw uintptr) {
	defer guard(f.log, site.Name)
	// only the low 32 bits of an int32 argument are defined
	value := int32(uint32(raw))
	if o := override.Load(); o != NoOverride {
		f.log.WithFields(log.Fields{"from": value, "to": o}).Infof("overriding %s", site.Name)
		value = o
	}
	tramp, err := site.Trampoline(f.hooks)
	if err != nil {
		f.log.WithError(err).Error("original unreachable")
		return
	}
	f.proc.Call(tramp, uintptr(value))
}
