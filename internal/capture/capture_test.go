package capture

import (
	"fmt"
	"sync"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/uratap"
	"github.com/k2io/uratap/internal/il2cpp"
	"github.com/k2io/uratap/internal/il2cpp/il2cpptest"
	"github.com/k2io/uratap/internal/native/nativetest"
	"github.com/k2io/uratap/internal/notify"
)

const runtimeModule = 0x180000000

func quiet() log.Interface {
	return &log.Logger{Handler: discard.Default, Level: log.DebugLevel}
}

// journal keeps the order in which notifications and original calls happen.
type journal struct {
	mu     sync.Mutex
	events []string
	sent   map[string][][]byte
	panic  bool
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) Send(path string, data []byte) {
	if j.panic {
		panic("notifier exploded")
	}
	j.add("notify " + path)
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sent == nil {
		j.sent = make(map[string][][]byte)
	}
	j.sent[path] = append(j.sent[path], data)
}

type fakeHooker struct {
	proc     *nativetest.Process
	mu       sync.Mutex
	tramps   map[uratap.OriginalFunc]uratap.Trampoline
	detours  map[uratap.OriginalFunc]uintptr
	installs int
	fail     error
}

func newFakeHooker(proc *nativetest.Process) *fakeHooker {
	return &fakeHooker{
		proc:    proc,
		tramps:  make(map[uratap.OriginalFunc]uratap.Trampoline),
		detours: make(map[uratap.OriginalFunc]uintptr),
	}
}

func (h *fakeHooker) Install(original uratap.OriginalFunc, replacement uintptr) (uratap.Trampoline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installs++
	if h.fail != nil {
		return 0, h.fail
	}
	if _, ok := h.tramps[original]; ok {
		return 0, uratap.ErrDoubleHook
	}
	t := uratap.Trampoline(h.proc.Alloc(16))
	h.tramps[original] = t
	h.detours[original] = replacement
	return t, nil
}

func (h *fakeHooker) TrampolineFor(original uratap.OriginalFunc) (uratap.Trampoline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tramps[original]
	if !ok {
		return 0, uratap.ErrHookNotFound
	}
	return t, nil
}

// game calls the hooked function at original the way the game would.
func (h *fakeHooker) game(original uintptr, arg uintptr) uintptr {
	h.mu.Lock()
	detour := h.detours[uratap.OriginalFunc(original)]
	h.mu.Unlock()
	return h.proc.Call(detour, arg)
}

func (h *fakeHooker) original(original uintptr, fn interface{}) {
	h.mu.Lock()
	t := h.tramps[uratap.OriginalFunc(original)]
	h.mu.Unlock()
	h.proc.SetFunc(uintptr(t), fn)
}

func newRuntime(t *testing.T) (*il2cpp.Runtime, *il2cpptest.World) {
	t.Helper()
	w := il2cpptest.New(nativetest.New(), runtimeModule)
	rt := il2cpp.New(w.Proc, il2cpptest.Exports{}, quiet())
	require.NoError(t, rt.Initialize(runtimeModule))
	return rt, w
}

const (
	fpsAddr   = 0x7ffb00001000
	vsyncAddr = 0x7ffb00002000
)

func TestFrameRatePassThroughAndOverride(t *testing.T) {
	rt, w := newRuntime(t)
	w.AddICall(TargetFrameRateICall, fpsAddr)
	w.AddICall(VSyncCountICall, vsyncAddr)
	hooks := newFakeHooker(w.Proc)

	f := NewFrameRate(w.Proc, hooks, quiet(), NoOverride, NoOverride)
	require.NoError(t, f.Install(rt))

	var got []int32
	hooks.original(fpsAddr, func(v uintptr) uintptr {
		got = append(got, int32(v))
		return 0
	})

	hooks.game(fpsAddr, 60)
	assert.Equal(t, []int32{60}, got, "no override forwards the input")

	f.SetOverrides(120, NoOverride)
	hooks.game(fpsAddr, 60)
	assert.Equal(t, []int32{60, 120}, got)

	f.SetOverrides(NoOverride, NoOverride)
	hooks.game(fpsAddr, 30)
	assert.Equal(t, []int32{60, 120, 30}, got)
}

func TestFrameRateIgnoresUpperRegisterBits(t *testing.T) {
	rt, w := newRuntime(t)
	w.AddICall(TargetFrameRateICall, fpsAddr)
	w.AddICall(VSyncCountICall, vsyncAddr)
	hooks := newFakeHooker(w.Proc)
	f := NewFrameRate(w.Proc, hooks, quiet(), NoOverride, NoOverride)
	require.NoError(t, f.Install(rt))

	var got []uintptr
	hooks.original(vsyncAddr, func(v uintptr) uintptr {
		got = append(got, v)
		return 0
	})
	hooks.game(vsyncAddr, 0xdeadbeef00000001)
	hooks.game(vsyncAddr, 0x00000000ffffffff)
	assert.Equal(t, uintptr(1), got[0])
	assert.Equal(t, int32(-1), int32(got[1]))
}

func TestFrameRateInstallsWhatItCan(t *testing.T) {
	rt, w := newRuntime(t)
	w.AddICall(TargetFrameRateICall, fpsAddr)
	hooks := newFakeHooker(w.Proc)
	f := NewFrameRate(w.Proc, hooks, quiet(), 144, 0)

	err := f.Install(rt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, il2cpp.ErrNotFound))
	assert.True(t, f.fpsSite.Installed())
	assert.False(t, f.vsyncSite.Installed())

	w.AddICall(VSyncCountICall, vsyncAddr)
	require.NoError(t, f.Install(rt))
	assert.Equal(t, 2, hooks.installs, "installed hooks are not reinstalled")

	fps, vsync := f.Overrides()
	assert.Equal(t, int32(144), fps)
	assert.Equal(t, int32(0), vsync)
}

const (
	compressAddr   = 0x7ffc00001000
	decompressAddr = 0x7ffc00002000
)

func payloadWorld(t *testing.T, methods ...string) (*il2cpp.Runtime, *il2cpptest.World, il2cpp.Class) {
	t.Helper()
	rt, w := newRuntime(t)
	image := w.AddAssembly(PayloadAssembly)
	class := w.AddClass(image, PayloadNamespace, PayloadClass)
	for _, m := range methods {
		switch m {
		case CompressMethod:
			w.AddMethod(class, m, 1, compressAddr)
		case DecompressMethod:
			w.AddMethod(class, m, 1, decompressAddr)
		}
	}
	return rt, w, class
}

func TestPayloadRequestCapturedBeforeOriginal(t *testing.T) {
	rt, w, _ := payloadWorld(t, CompressMethod, DecompressMethod)
	hooks := newFakeHooker(w.Proc)
	j := &journal{}
	p := NewPayload(w.Proc, hooks, j, quiet())
	require.NoError(t, p.Install(rt))
	assert.True(t, p.Installed())

	compressed := w.PutArray([]byte{0x1f, 0x8b})
	hooks.original(compressAddr, func(arr uintptr) uintptr {
		j.add("original")
		return compressed
	})

	body := []byte{0x82, 0xa3, 'f', 'o', 'o', 0x01}
	ret := hooks.game(compressAddr, w.PutArray(body))

	assert.Equal(t, compressed, ret)
	assert.Equal(t, []string{"notify " + notify.RequestPath, "original"}, j.events)
	assert.Equal(t, [][]byte{body}, j.sent[notify.RequestPath])
}

func TestPayloadResponseCapturedAfterOriginal(t *testing.T) {
	rt, w, _ := payloadWorld(t, CompressMethod, DecompressMethod)
	hooks := newFakeHooker(w.Proc)
	j := &journal{}
	p := NewPayload(w.Proc, hooks, j, quiet())
	require.NoError(t, p.Install(rt))

	plain := []byte{0x81, 0xa4, 'd', 'a', 't', 'a', 0xc3}
	decompressed := w.PutArray(plain)
	hooks.original(decompressAddr, func(arr uintptr) uintptr {
		j.add("original")
		return decompressed
	})

	raw := w.PutArray([]byte{0x1f, 0x8b, 0x08})
	ret := hooks.game(decompressAddr, raw)

	assert.Equal(t, decompressed, ret)
	assert.Equal(t, []string{"original", "notify " + notify.ResponsePath}, j.events)
	assert.Equal(t, [][]byte{plain}, j.sent[notify.ResponsePath])
}

func TestPayloadNullBuffersAreForwarded(t *testing.T) {
	rt, w, _ := payloadWorld(t, CompressMethod, DecompressMethod)
	hooks := newFakeHooker(w.Proc)
	j := &journal{}
	p := NewPayload(w.Proc, hooks, j, quiet())
	require.NoError(t, p.Install(rt))

	calls := 0
	hooks.original(compressAddr, func(arr uintptr) uintptr { calls++; return 0 })
	hooks.original(decompressAddr, func(arr uintptr) uintptr { calls++; return 0 })

	assert.Zero(t, hooks.game(compressAddr, 0))
	assert.Zero(t, hooks.game(decompressAddr, w.PutArray([]byte("x"))))
	assert.Equal(t, 2, calls)
	assert.Empty(t, j.sent)
}

func TestPayloadSkipsOversizedArray(t *testing.T) {
	rt, w, _ := payloadWorld(t, CompressMethod, DecompressMethod)
	hooks := newFakeHooker(w.Proc)
	j := &journal{}
	p := NewPayload(w.Proc, hooks, j, quiet())
	require.NoError(t, p.Install(rt))

	calls := 0
	hooks.original(compressAddr, func(arr uintptr) uintptr { calls++; return 0x42 })
	body := w.PutArray([]byte("req"))
	w.Proc.PutUintptr(body+24, il2cpp.MaxArrayBytes+1)

	assert.Equal(t, uintptr(0x42), hooks.game(compressAddr, body))
	assert.Equal(t, 1, calls, "the call is still forwarded")
	assert.Empty(t, j.sent, "a corrupt array is never sent")
}

func TestPayloadSurvivesNotifierPanic(t *testing.T) {
	rt, w, _ := payloadWorld(t, CompressMethod, DecompressMethod)
	hooks := newFakeHooker(w.Proc)
	j := &journal{panic: true}
	p := NewPayload(w.Proc, hooks, j, quiet())
	require.NoError(t, p.Install(rt))

	hooks.original(compressAddr, func(arr uintptr) uintptr { return 0x42 })
	assert.NotPanics(t, func() {
		assert.Equal(t, uintptr(0x42), hooks.game(compressAddr, w.PutArray([]byte("req"))))
	})
}

func TestPayloadInstallRetriesMissingHalf(t *testing.T) {
	rt, w, class := payloadWorld(t, CompressMethod)
	hooks := newFakeHooker(w.Proc)
	p := NewPayload(w.Proc, hooks, &journal{}, quiet())

	err := p.Install(rt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, il2cpp.ErrNotFound))
	assert.True(t, p.compress.Installed())
	assert.False(t, p.Installed())

	w.AddMethod(class, DecompressMethod, 1, decompressAddr)
	require.NoError(t, p.Install(rt))
	assert.True(t, p.Installed())
	assert.Equal(t, 2, hooks.installs)
}

func TestPayloadInstallNotReady(t *testing.T) {
	rt, w := newRuntime(t)
	p := NewPayload(w.Proc, newFakeHooker(w.Proc), &journal{}, quiet())
	err := p.Install(rt)
	assert.True(t, errors.Is(err, il2cpp.ErrNotReady))
}

func TestPayloadEngineFailure(t *testing.T) {
	rt, w, _ := payloadWorld(t, CompressMethod, DecompressMethod)
	hooks := newFakeHooker(w.Proc)
	hooks.fail = &uratap.EngineError{Op: "create", Target: compressAddr, Err: fmt.Errorf("not patchable")}
	p := NewPayload(w.Proc, hooks, &journal{}, quiet())

	err := p.Install(rt)
	assert.True(t, errors.Is(err, uratap.ErrEngine))
	assert.Zero(t, p.compress.Target())
}

func TestSiteTrampolineBeforeInstall(t *testing.T) {
	proc := nativetest.New()
	s := Site{Name: "x"}
	_, err := s.Trampoline(newFakeHooker(proc))
	assert.True(t, errors.Is(err, uratap.ErrHookNotFound))
}
