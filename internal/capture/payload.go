package capture

import (
	"runtime/debug"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/il2cpp"
	"github.com/k2io/uratap/internal/native"
	"github.com/k2io/uratap/internal/notify"
)

// Where the game serializes its API traffic.
const (
	PayloadAssembly  = "umamusume.dll"
	PayloadNamespace = "Gallop"
	PayloadClass     = "HttpHelper"
	CompressMethod   = "CompressRequest"
	DecompressMethod = "DecompressResponse"
)

// Payload captures the plaintext of outgoing requests before compression
// and of incoming responses after decompression.
type Payload struct {
	proc     native.Process
	hooks    Hooker
	notifier notify.Sender
	log      log.Interface

	compress   Site
	decompress Site

	compressDetour   uintptr
	decompressDetour uintptr
}

// NewPayload returns payload hooks relaying to notifier.
func NewPayload(proc native.Process, hooks Hooker, notifier notify.Sender, logger log.Interface) *Payload {
	if logger == nil {
		logger = log.Log
	}
	p := &Payload{
		proc:       proc,
		hooks:      hooks,
		notifier:   notifier,
		log:        logger,
		compress:   Site{Name: CompressMethod},
		decompress: Site{Name: DecompressMethod},
	}
	p.compressDetour = proc.Callback(p.compressRequest)
	p.decompressDetour = proc.Callback(p.decompressResponse)
	return p
}

// Install locates both methods and hooks them. A hook installed by an
// earlier, partly failed call is kept.
func (p *Payload) Install(rt Introspector) error {
	if p.compress.Installed() && p.decompress.Installed() {
		return nil
	}
	image, err := rt.FindAssemblyImage(PayloadAssembly)
	if err != nil {
		return errors.Wrap(err, "payload assembly")
	}
	class, err := rt.FindClass(image, PayloadNamespace, PayloadClass)
	if err != nil {
		return errors.Wrap(err, "payload class")
	}
	for _, h := range []struct {
		site   *Site
		detour uintptr
	}{
		{&p.compress, p.compressDetour},
		{&p.decompress, p.decompressDetour},
	} {
		if h.site.Installed() {
			continue
		}
		addr, err := rt.FindMethodAddress(class, h.site.Name, 1)
		if err != nil {
			return errors.Wrapf(err, "payload method %s", h.site.Name)
		}
		if err := h.site.Install(p.hooks, uintptr(addr), h.detour); err != nil {
			return err
		}
		p.log.WithFields(log.Fields{"method": h.site.Name, "addr": hex(uintptr(addr))}).Info("payload hook installed")
	}
	return nil
}

// Installed reports whether both hooks are active.
func (p *Payload) Installed() bool {
	return p.compress.Installed() && p.decompress.Installed()
}

// compressRequest sees the request before it is compressed, so the capture
// happens even when compression fails.
func (p *Payload) compressRequest(data uintptr) uintptr {
	p.capture(notify.RequestPath, data)
	return p.callOriginal(&p.compress, data)
}

// decompressResponse only has plaintext once the original has run.
func (p *Payload) decompressResponse(data uintptr) uintptr {
	out := p.callOriginal(&p.decompress, data)
	p.capture(notify.ResponsePath, out)
	return out
}

func (p *Payload) capture(path string, arr uintptr) {
	defer guard(p.log, path)
	// a stale array faults instead of killing the game
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	if arr == 0 {
		return
	}
	b, err := il2cpp.ArrayBytes(p.proc, arr)
	if err != nil {
		p.log.WithError(err).WithField("path", path).Warn("payload not captured")
		return
	}
	p.log.WithFields(log.Fields{"path": path, "size": humanize.Bytes(uint64(len(b)))}).Debug("captured payload")
	p.notifier.Send(path, b)
}

func (p *Payload) callOriginal(site *Site, arg uintptr) (ret uintptr) {
	defer guard(p.log, site.Name)
	tramp, err := site.Trampoline(p.hooks)
	if err != nil {
		p.log.WithError(err).Error("original unreachable")
		return 0
	}
	return p.proc.Call(tramp, arg)
}
