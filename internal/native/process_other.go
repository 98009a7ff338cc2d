//go:build !windows

package native

// System is the Process of the running executable. Outside windows it only
// reports ErrUnsupported.
type System struct{}

var _ Process = System{}

func (System) ReadBytes(uintptr, int) []byte { return nil }

func (System) ReadCString(uintptr, int) string { return "" }

func (System) ModuleHandle(string) uintptr { return 0 }

func (System) LoadModule(string) (uintptr, error) { return 0, ErrUnsupported }

func (System) ProcAddress(uintptr, string) (uintptr, error) { return 0, ErrUnsupported }

func (System) ModulePath(uintptr) (string, error) { return "", ErrUnsupported }

func (System) Call(uintptr, ...uintptr) uintptr { return 0 }

func (System) CString(string) (uintptr, func()) { return 0, func() {} }

func (System) Scratch(int) (uintptr, func()) { return 0, func() {} }

func (System) Callback(interface{}) uintptr { return 0 }
