package bootstrap

import (
	"runtime/debug"

	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/capture"
	"github.com/k2io/uratap/internal/native"
)

// The loader entry point every module load goes through.
const (
	LoaderModule = "kernel32.dll"
	LoaderProc   = "LoadLibraryW"
)

// maxModuleName bounds module names read from the loader's argument.
const maxModuleName = 32768

// watcher hooks the loader and reports every load to the bootstrapper.
type watcher struct {
	b      *Bootstrapper
	site   capture.Site
	detour uintptr
}

func (w *watcher) init(b *Bootstrapper) {
	w.b = b
	w.site.Name = LoaderProc
	w.detour = b.ctx.Proc.Callback(w.loadLibrary)
}

func (w *watcher) install() error {
	proc := w.b.ctx.Proc
	kernel := proc.ModuleHandle(LoaderModule)
	if kernel == 0 {
		return errors.Errorf("%s not loaded", LoaderModule)
	}
	addr, err := proc.ProcAddress(kernel, LoaderProc)
	if err != nil {
		return err
	}
	return w.site.Install(w.b.ctx.Hooks, addr, w.detour)
}

// loadLibrary runs the original loader first; the module must be loaded
// before the bootstrap can use it.
func (w *watcher) loadLibrary(name uintptr) uintptr {
	tramp, err := w.site.Trampoline(w.b.ctx.Hooks)
	if err != nil {
		w.b.log.WithError(err).Error("loader original unreachable")
		return 0
	}
	h := w.b.ctx.Proc.Call(tramp, name)
	w.notify(name)
	return h
}

func (w *watcher) notify(name uintptr) {
	defer w.b.recoverPanic()
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	w.b.OnModuleLoad(native.ReadUTF16String(w.b.ctx.Proc, name, maxModuleName))
}
