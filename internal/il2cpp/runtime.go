// Package il2cpp queries the embedded managed runtime for the native
// addresses of managed methods and internal calls.
//
// A Runtime is bound to the runtime module once Initialize succeeds. All
// lookups go through the module's own API, whose entry points are recovered by
// the symbol resolver because the module does not export them.
package il2cpp

import (
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/native"
)

var (
	// ErrNotReady means the runtime is loaded but not yet initialized
	// enough to answer. Retry after a delay.
	ErrNotReady = errors.New("il2cpp runtime not ready")
	// ErrNotFound means the runtime answered and the item does not exist.
	ErrNotFound = errors.New("il2cpp item not found")
	// ErrUnresolved means an API entry point could not be located.
	ErrUnresolved = errors.New("il2cpp api unresolved")
	// ErrNotInitialized means Initialize has not completed.
	ErrNotInitialized = errors.New("il2cpp runtime not initialized")
)

// Image is a loaded assembly image.
type Image uintptr

// Class is a runtime class.
type Class uintptr

// NativeMethod is the machine-code entry of a managed method or icall.
type NativeMethod uintptr

func (i Image) String() string        { return fmt.Sprintf("%#x", uintptr(i)) }
func (c Class) String() string        { return fmt.Sprintf("%#x", uintptr(c)) }
func (m NativeMethod) String() string { return fmt.Sprintf("%#x", uintptr(m)) }

// Symbols resolves a canonical API name inside the runtime module.
type Symbols interface {
	Lookup(proc native.Process, module uintptr, canonical string) (uintptr, error)
}

// maxImageName bounds image names read from the runtime.
const maxImageName = 260

type api struct {
	domainGet           uintptr
	domainGetAssemblies uintptr
	assemblyGetImage    uintptr
	imageGetName        uintptr
	classFromName       uintptr
	methodFromName      uintptr
	resolveICall        uintptr
}

// Runtime is a handle on the managed runtime of one process.
type Runtime struct {
	proc native.Process
	syms Symbols
	log  log.Interface

	mu     sync.RWMutex
	api    *api
	domain uintptr
}

// New returns a Runtime that resolves its entry points through syms.
func New(proc native.Process, syms Symbols, logger log.Interface) *Runtime {
	if logger == nil {
		logger = log.Log
	}
	return &Runtime{proc: proc, syms: syms, log: logger}
}

// Initialize resolves the API of the runtime module and caches the current
// domain. It may be called again after ErrNotReady; once a domain is cached
// later calls are no-ops.
func (r *Runtime) Initialize(module uintptr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.domain != 0 {
		return nil
	}
	if module == 0 {
		return errors.Wrap(ErrNotReady, "runtime module not loaded")
	}
	if r.api == nil {
		a, err := r.resolve(module)
		if err != nil {
			return err
		}
		r.api = a
	}
	domain := r.proc.Call(r.api.domainGet)
	r.log.WithField("domain", fmt.Sprintf("%#x", domain)).Info("runtime domain")
	if domain == 0 {
		return errors.Wrap(ErrNotReady, "domain is null")
	}
	r.domain = domain
	return nil
}

func (r *Runtime) resolve(module uintptr) (*api, error) {
	a := &api{}
	for _, e := range []struct {
		name string
		dst  *uintptr
	}{
		{"il2cpp_domain_get", &a.domainGet},
		{"il2cpp_domain_get_assemblies", &a.domainGetAssemblies},
		{"il2cpp_assembly_get_image", &a.assemblyGetImage},
		{"il2cpp_image_get_name", &a.imageGetName},
		{"il2cpp_class_from_name", &a.classFromName},
		{"il2cpp_class_get_method_from_name", &a.methodFromName},
		{"il2cpp_resolve_icall", &a.resolveICall},
	} {
		addr, err := r.syms.Lookup(r.proc, module, e.name)
		if err != nil {
			// symbol table failures keep their own identity for the caller
			return nil, errors.Wrapf(err, "resolving %s", e.name)
		}
		if addr == 0 {
			return nil, errors.Wrap(ErrUnresolved, e.name)
		}
		*e.dst = addr
		r.log.WithField("addr", fmt.Sprintf("%#x", addr)).Debugf("resolved %s", e.name)
	}
	return a, nil
}

func (r *Runtime) ready() (*api, uintptr, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.api == nil || r.domain == 0 {
		return nil, 0, ErrNotInitialized
	}
	return r.api, r.domain, nil
}

// FindAssemblyImage returns the image whose name equals name exactly.
func (r *Runtime) FindAssemblyImage(name string) (Image, error) {
	a, domain, err := r.ready()
	if err != nil {
		return 0, err
	}
	sizeOut, release := r.proc.Scratch(8)
	defer release()
	assemblies := r.proc.Call(a.domainGetAssemblies, domain, sizeOut)
	count := native.ReadUintptr(r.proc, sizeOut)
	r.log.WithField("count", count).Debug("enumerating assemblies")
	if count == 0 || assemblies == 0 {
		return 0, errors.Wrap(ErrNotReady, "no assemblies loaded")
	}
	for i := uintptr(0); i < count; i++ {
		assembly := native.ReadUintptr(r.proc, assemblies+i*8)
		if assembly == 0 {
			continue
		}
		image := r.proc.Call(a.assemblyGetImage, assembly)
		if image == 0 {
			continue
		}
		n := r.proc.ReadCString(r.proc.Call(a.imageGetName, image), maxImageName)
		if n == name {
			r.log.WithFields(log.Fields{"assembly": name, "image": Image(image)}).Info("found assembly")
			return Image(image), nil
		}
	}
	return 0, errors.Wrapf(ErrNotFound, "assembly %s among %d", name, count)
}

// FindClass returns namespace.name from image.
func (r *Runtime) FindClass(image Image, namespace, name string) (Class, error) {
	a, _, err := r.ready()
	if err != nil {
		return 0, err
	}
	ns, freeNS := r.proc.CString(namespace)
	defer freeNS()
	n, freeN := r.proc.CString(name)
	defer freeN()
	klass := r.proc.Call(a.classFromName, uintptr(image), ns, n)
	if klass == 0 {
		return 0, errors.Wrapf(ErrNotFound, "class %s.%s", namespace, name)
	}
	return Class(klass), nil
}

// FindMethodAddress returns the compiled entry of the method of class with
// the given name and parameter count.
func (r *Runtime) FindMethodAddress(class Class, name string, params int) (NativeMethod, error) {
	a, _, err := r.ready()
	if err != nil {
		return 0, err
	}
	n, free := r.proc.CString(name)
	defer free()
	info := r.proc.Call(a.methodFromName, uintptr(class), n, uintptr(params))
	if info == 0 {
		return 0, errors.Wrapf(ErrNotFound, "method %s/%d", name, params)
	}
	// MethodInfo starts with the method pointer
	addr := native.ReadUintptr(r.proc, info)
	if addr == 0 {
		return 0, errors.Wrapf(ErrNotFound, "method %s/%d has no code", name, params)
	}
	return NativeMethod(addr), nil
}

// ResolveInternalCall returns the native implementation of an internal call,
// for example "UnityEngine.Application::set_targetFrameRate(System.Int32)".
func (r *Runtime) ResolveInternalCall(signature string) (NativeMethod, error) {
	a, _, err := r.ready()
	if err != nil {
		return 0, err
	}
	s, free := r.proc.CString(signature)
	defer free()
	addr := r.proc.Call(a.resolveICall, s)
	if addr == 0 {
		return 0, errors.Wrapf(ErrNotFound, "icall %s", signature)
	}
	return NativeMethod(addr), nil
}
