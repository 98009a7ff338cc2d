package bootstrap

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/apex/log"

	"github.com/k2io/uratap"
	"github.com/k2io/uratap/internal/capture"
	"github.com/k2io/uratap/internal/config"
	"github.com/k2io/uratap/internal/il2cpp"
	"github.com/k2io/uratap/internal/native"
	"github.com/k2io/uratap/internal/notify"
	"github.com/k2io/uratap/internal/proxy"
	"github.com/k2io/uratap/internal/symbols"
)

// Hooks installs hooks and tears all of them down on detach.
type Hooks interface {
	capture.Hooker
	RemoveAll()
}

// Runtime is the managed runtime as seen by the bootstrap.
type Runtime interface {
	capture.Introspector
	Initialize(module uintptr) error
}

// Installer places one group of hooks.
type Installer interface {
	Install(rt capture.Introspector) error
}

// Proxy loads the original module of a variant.
type Proxy interface {
	Setup(v proxy.Variant) error
}

// Drainer waits for pending notifications.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Context is everything the tap holds for the lifetime of the process. It is
// built once on attach and handed to every component.
type Context struct {
	Config config.Config
	Proc   native.Process
	Log    log.Interface

	Hooks     Hooks
	Runtime   Runtime
	FrameRate Installer
	Payload   Installer
	Proxy     Proxy
	Notifier  Drainer

	runtimeHandle atomic.Uintptr
}

// SetRuntimeHandle records the runtime module. Only the first non-zero
// handle is kept; it reports whether h was stored.
func (c *Context) SetRuntimeHandle(h uintptr) bool {
	if h == 0 {
		return false
	}
	return c.runtimeHandle.CompareAndSwap(0, h)
}

// RuntimeHandle returns the runtime module, 0 until it is known.
func (c *Context) RuntimeHandle() uintptr { return c.runtimeHandle.Load() }

// Components are the concrete parts built by NewContext, for callers that
// need more than the Context interfaces.
type Components struct {
	Manager   *uratap.Manager
	Resolver  *symbols.Resolver
	Runtime   *il2cpp.Runtime
	Notifier  *notify.Client
	FrameRate *capture.FrameRate
	Payload   *capture.Payload
	Proxy     *proxy.Loader
}

// NewContext wires the production components for the game in gameDir.
func NewContext(cfg config.Config, proc native.Process, gameDir string, logger log.Interface) (*Context, *Components) {
	if logger == nil {
		logger = log.Log
	}
	component := func(name string) log.Interface { return logger.WithField("component", name) }

	layout := symbols.DefaultLayout
	layout.Anchor = cfg.SymbolAnchorRVA
	c := &Components{
		Manager:  uratap.NewManager(uratap.NewEngine(), component("hooks")),
		Resolver: symbols.NewResolver(filepath.Join(gameDir, SymbolModule), layout, component("symbols")),
		Notifier: notify.New(cfg.NotifierHost, cfg.Timeout(), component("notify")),
		Proxy:    proxy.NewLoader(proc, gameDir, component("proxy")),
	}
	c.Runtime = il2cpp.New(proc, c.Resolver, component("il2cpp"))
	c.FrameRate = capture.NewFrameRate(proc, c.Manager, component("framerate"), cfg.TargetFPS, cfg.VSyncCount)
	c.Payload = capture.NewPayload(proc, c.Manager, c.Notifier, component("payload"))

	return &Context{
		Config:    cfg,
		Proc:      proc,
		Log:       logger,
		Hooks:     c.Manager,
		Runtime:   c.Runtime,
		FrameRate: c.FrameRate,
		Payload:   c.Payload,
		Proxy:     c.Proxy,
		Notifier:  c.Notifier,
	}, c
}

// Shutdown removes every hook and gives pending notifications until
// timeout to finish.
func (c *Context) Shutdown(timeout time.Duration) {
	c.Hooks.RemoveAll()
	if c.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := c.Notifier.Drain(ctx); err != nil {
		c.Log.WithError(err).Warn("notifications still pending at detach")
	}
}
