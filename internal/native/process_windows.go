package native

import (
	"runtime"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// System is the Process of the running executable.
type System struct{}

var _ Process = System{}

func (System) ReadBytes(addr uintptr, n int) []byte {
	if addr == 0 || n <= 0 {
		return nil
	}
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)...)
}

func (System) ReadCString(addr uintptr, max int) string {
	if addr == 0 {
		return ""
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), max)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (System) ModuleHandle(name string) uintptr {
	var h windows.Handle
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0
	}
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h); err != nil {
		return 0
	}
	return uintptr(h)
}

func (System) LoadModule(path string) (uintptr, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return 0, errors.Wrapf(err, "LoadLibrary %s", path)
	}
	return uintptr(h), nil
}

func (System) ProcAddress(module uintptr, name string) (uintptr, error) {
	p, err := windows.GetProcAddress(windows.Handle(module), name)
	if err != nil {
		return 0, errors.Wrapf(err, "GetProcAddress %s", name)
	}
	return p, nil
}

func (System) ModulePath(module uintptr) (string, error) {
	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetModuleFileName(windows.Handle(module), &buf[0], uint32(len(buf)))
	if err != nil {
		return "", errors.Wrap(err, "GetModuleFileName")
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func (System) Call(fn uintptr, args ...uintptr) uintptr {
	r, _, _ := syscall.SyscallN(fn, args...)
	return r
}

func (System) CString(s string) (uintptr, func()) {
	b := append([]byte(s), 0)
	return uintptr(unsafe.Pointer(&b[0])), func() { runtime.KeepAlive(b) }
}

func (System) Scratch(size int) (uintptr, func()) {
	b := make([]byte, size)
	return uintptr(unsafe.Pointer(&b[0])), func() { runtime.KeepAlive(b) }
}

func (System) Callback(fn interface{}) uintptr {
	return syscall.NewCallback(fn)
}
