// Package il2cpptest simulates a managed runtime inside a nativetest process.
package il2cpptest

import (
	"encoding/binary"
	"sync"

	"github.com/k2io/uratap/internal/il2cpp"
	"github.com/k2io/uratap/internal/native"
	"github.com/k2io/uratap/internal/native/nativetest"
)

// World is a fake runtime module whose API is exported under the canonical
// names, so Exports can resolve it without a symbol table.
type World struct {
	Proc   *nativetest.Process
	Module uintptr

	// Entry points of the fake API, by canonical name.
	Entry map[string]uintptr

	mu         sync.Mutex
	domain     uintptr
	assemblies []uintptr
	images     map[uintptr]uintptr
	names      map[uintptr]uintptr
	classes    map[string]uintptr
	methods    map[string]uintptr
	icalls     map[string]uintptr
}

// New registers a runtime at module in proc. The domain starts non-null.
func New(proc *nativetest.Process, module uintptr) *World {
	w := &World{
		Proc:    proc,
		Module:  module,
		Entry:   make(map[string]uintptr),
		domain:  proc.Alloc(64),
		images:  make(map[uintptr]uintptr),
		names:   make(map[uintptr]uintptr),
		classes: make(map[string]uintptr),
		methods: make(map[string]uintptr),
		icalls:  make(map[string]uintptr),
	}
	w.export("il2cpp_domain_get", w.domainGet)
	w.export("il2cpp_domain_get_assemblies", w.domainGetAssemblies)
	w.export("il2cpp_assembly_get_image", w.assemblyGetImage)
	w.export("il2cpp_image_get_name", w.imageGetName)
	w.export("il2cpp_class_from_name", w.classFromName)
	w.export("il2cpp_class_get_method_from_name", w.methodFromName)
	w.export("il2cpp_resolve_icall", w.resolveICall)
	return w
}

func (w *World) export(name string, fn interface{}) {
	addr := w.Proc.Alloc(16)
	w.Entry[name] = addr
	w.Proc.AddProc(w.Module, name, addr, fn)
}

// SetDomain replaces the domain returned by the runtime; 0 simulates a
// runtime that is still starting.
func (w *World) SetDomain(d uintptr) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.domain = d
}

// AddAssembly loads an assembly whose image is called name.
func (w *World) AddAssembly(name string) il2cpp.Image {
	asm := w.Proc.Alloc(32)
	image := w.Proc.Alloc(32)
	nameAddr := w.Proc.Alloc(len(name) + 1)
	w.Proc.PutCString(nameAddr, name)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.assemblies = append(w.assemblies, asm)
	w.images[asm] = image
	w.names[image] = nameAddr
	return il2cpp.Image(image)
}

// AddClass defines namespace.name in image.
func (w *World) AddClass(image il2cpp.Image, namespace, name string) il2cpp.Class {
	klass := w.Proc.Alloc(64)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.classes[classKey(uintptr(image), namespace, name)] = klass
	return il2cpp.Class(klass)
}

// AddMethod defines a method of class compiled at code.
func (w *World) AddMethod(class il2cpp.Class, name string, params int, code uintptr) {
	info := w.Proc.Alloc(64)
	w.Proc.PutUintptr(info, code)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.methods[methodKey(uintptr(class), name, uintptr(params))] = info
}

// AddICall registers the native implementation of an internal call.
func (w *World) AddICall(signature string, code uintptr) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.icalls[signature] = code
}

// PutArray builds a managed byte array holding data and returns it.
func (w *World) PutArray(data []byte) uintptr {
	arr := w.Proc.Alloc(32 + len(data))
	var hdr [32]byte
	binary.LittleEndian.PutUint64(hdr[24:], uint64(len(data)))
	w.Proc.Put(arr, hdr[:])
	w.Proc.Put(arr+32, data)
	return arr
}

func (w *World) domainGet() uintptr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.domain
}

func (w *World) domainGetAssemblies(domain, sizeOut uintptr) uintptr {
	w.mu.Lock()
	list := append([]uintptr(nil), w.assemblies...)
	w.mu.Unlock()
	w.Proc.PutUintptr(sizeOut, uintptr(len(list)))
	if len(list) == 0 {
		return 0
	}
	arr := w.Proc.Alloc(8 * len(list))
	for i, a := range list {
		w.Proc.PutUintptr(arr+uintptr(i)*8, a)
	}
	return arr
}

func (w *World) assemblyGetImage(asm uintptr) uintptr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.images[asm]
}

func (w *World) imageGetName(image uintptr) uintptr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.names[image]
}

func (w *World) classFromName(image, ns, name uintptr) uintptr {
	key := classKey(image, w.Proc.ReadCString(ns, 256), w.Proc.ReadCString(name, 256))
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.classes[key]
}

func (w *World) methodFromName(klass, name, params uintptr) uintptr {
	key := methodKey(klass, w.Proc.ReadCString(name, 256), params)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.methods[key]
}

func (w *World) resolveICall(sig uintptr) uintptr {
	s := w.Proc.ReadCString(sig, 512)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.icalls[s]
}

func classKey(image uintptr, ns, name string) string {
	return string(binary.LittleEndian.AppendUint64(nil, uint64(image))) + ns + "." + name
}

func methodKey(klass uintptr, name string, params uintptr) string {
	b := binary.LittleEndian.AppendUint64(nil, uint64(klass))
	b = binary.LittleEndian.AppendUint64(b, uint64(params))
	return string(b) + name
}

// Exports resolves canonical names straight from the module's export
// table, for runtimes that export their API.
type Exports struct{}

func (Exports) Lookup(proc native.Process, module uintptr, canonical string) (uintptr, error) {
	return proc.ProcAddress(module, canonical)
}
