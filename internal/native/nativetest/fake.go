// Package nativetest provides an in-memory native.Process for tests.
package nativetest

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/k2io/uratap/internal/native"
)

// Call is one recorded native call.
type Call struct {
	Fn   uintptr
	Args []uintptr
}

// Process is a fake address space with registered modules and functions.
type Process struct {
	mu        sync.Mutex
	mem       map[uintptr]byte
	modules   map[string]uintptr
	paths     map[uintptr]string
	procs     map[uintptr]map[string]uintptr
	funcs     map[uintptr]interface{}
	calls     []Call
	loads     []string
	nextAlloc uintptr

	// Loadable maps lower-cased module names or paths to the handle
	// LoadModule returns. Missing entries fail to load.
	Loadable map[string]uintptr
}

var _ native.Process = (*Process)(nil)

// New returns an empty fake process.
func New() *Process {
	return &Process{
		mem:       make(map[uintptr]byte),
		modules:   make(map[string]uintptr),
		paths:     make(map[uintptr]string),
		procs:     make(map[uintptr]map[string]uintptr),
		funcs:     make(map[uintptr]interface{}),
		nextAlloc: 0x7f0000000000,
		Loadable:  make(map[string]uintptr),
	}
}

// Put stores b at addr.
func (p *Process) Put(addr uintptr, b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range b {
		p.mem[addr+uintptr(i)] = c
	}
}

// PutUintptr stores a little endian pointer at addr.
func (p *Process) PutUintptr(addr, v uintptr) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	p.Put(addr, b[:])
}

// PutCString stores s followed by a NUL at addr.
func (p *Process) PutCString(addr uintptr, s string) {
	p.Put(addr, append([]byte(s), 0))
}

// Alloc reserves size bytes of fake memory and returns the address.
func (p *Process) Alloc(size int) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.nextAlloc
	p.nextAlloc += uintptr(size+15) &^ 15
	return addr
}

// AddModule registers a resident module.
func (p *Process) AddModule(name, path string, base uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modules[strings.ToLower(name)] = base
	p.paths[base] = path
}

// AddProc registers an export of module implemented by fn. fn must be a
// func whose parameters and result are uintptr.
func (p *Process) AddProc(module uintptr, name string, addr uintptr, fn interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.procs[module] == nil {
		p.procs[module] = make(map[string]uintptr)
	}
	p.procs[module][name] = addr
	if fn != nil {
		p.funcs[addr] = fn
	}
}

// SetFunc makes addr callable.
func (p *Process) SetFunc(addr uintptr, fn interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs[addr] = fn
}

// Calls returns the recorded calls to fn.
func (p *Process) Calls(fn uintptr) []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Call
	for _, c := range p.calls {
		if c.Fn == fn {
			out = append(out, c)
		}
	}
	return out
}

// Loads returns the names passed to LoadModule.
func (p *Process) Loads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.loads...)
}

func (p *Process) ReadBytes(addr uintptr, n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr == 0 || n <= 0 {
		return nil
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = p.mem[addr+uintptr(i)]
	}
	return out
}

func (p *Process) ReadCString(addr uintptr, max int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < max; i++ {
		c := p.mem[addr+uintptr(i)]
		if c == 0 {
			break
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func (p *Process) ModuleHandle(name string) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modules[strings.ToLower(name)]
}

func (p *Process) LoadModule(path string) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, path)
	key := strings.ToLower(path)
	if h, ok := p.modules[key]; ok {
		return h, nil
	}
	h, ok := p.Loadable[key]
	if !ok {
		return 0, fmt.Errorf("cannot load %s", path)
	}
	p.modules[key] = h
	if _, ok := p.paths[h]; !ok {
		p.paths[h] = path
	}
	return h, nil
}

func (p *Process) ProcAddress(module uintptr, name string) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, ok := p.procs[module][name]
	if !ok {
		return 0, fmt.Errorf("procedure %s not found in %#x", name, module)
	}
	return addr, nil
}

func (p *Process) ModulePath(module uintptr) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path, ok := p.paths[module]
	if !ok {
		return "", fmt.Errorf("no module at %#x", module)
	}
	return path, nil
}

// Call records the call and runs the function registered at fn, if any.
func (p *Process) Call(fn uintptr, args ...uintptr) uintptr {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Fn: fn, Args: append([]uintptr(nil), args...)})
	impl := p.funcs[fn]
	p.mu.Unlock()
	if impl == nil {
		return 0
	}
	v := reflect.ValueOf(impl)
	in := make([]reflect.Value, v.Type().NumIn())
	for i := range in {
		var a uintptr
		if i < len(args) {
			a = args[i]
		}
		in[i] = reflect.ValueOf(a)
	}
	out := v.Call(in)
	if len(out) == 0 {
		return 0
	}
	return uintptr(out[0].Uint())
}

func (p *Process) CString(s string) (uintptr, func()) {
	addr := p.Alloc(len(s) + 1)
	p.PutCString(addr, s)
	return addr, func() {}
}

func (p *Process) Scratch(size int) (uintptr, func()) {
	addr := p.Alloc(size)
	p.Put(addr, make([]byte, size))
	return addr, func() {}
}

// Callback registers fn at a fresh address so Call can reach it.
func (p *Process) Callback(fn interface{}) uintptr {
	addr := p.Alloc(16)
	p.SetFunc(addr, fn)
	return addr
}
