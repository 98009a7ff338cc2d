// Package bootstrap drives the tap from process attach to installed hooks.
//
// The runtime module may already be resident when the tap attaches, in
// which case hooks are installed right away. Otherwise the tap sets up the
// module proxy and watches module loads until the engine's media libraries
// appear, which marks the runtime as usable.
package bootstrap

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/il2cpp"
	"github.com/k2io/uratap/internal/proxy"
	"github.com/k2io/uratap/internal/symbols"
)

// Module names the bootstrap cares about.
const (
	RuntimeModule = "GameAssembly.dll"
	// SymbolModule carries the runtime's name table on disk.
	SymbolModule = "UnityPlayer.dll"
)

// Markers are module name fragments whose load means the engine is up.
var Markers = []string{"cri_ware_unity", "cri_mana_vpx"}

// Executable stems of the known variants.
var variantStems = map[string]proxy.Variant{
	"umamusumeprettyderby_jpn": proxy.Steam,
	"umamusume":                proxy.DMM,
}

var (
	// ErrUnknownVariant means the executable is not a known variant.
	ErrUnknownVariant = proxy.ErrUnknownVariant
	// ErrExhausted means installation gave up.
	ErrExhausted = errors.New("hook installation exhausted")
	// ErrBackoff means a trigger arrived before the retry delay elapsed.
	ErrBackoff = errors.New("hook installation backing off")
)

// Stage is a bootstrap state.
type Stage int32

const (
	Start Stage = iota
	LateAttach
	NormalAttach
	VariantDetermined
	ProxyInstalled
	WatchingForLoad
	RuntimeReady
	HooksInstalled
	Exhausted
)

var stageNames = [...]string{
	"start", "late-attach", "normal-attach", "variant-determined", "proxy-installed",
	"watching-for-load", "runtime-ready", "hooks-installed", "exhausted",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "invalid"
	}
	return stageNames[s]
}

// install flag values
const (
	pending int32 = iota
	installAttempted
	installed
)

// Policy bounds installation retries.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Delay is the wait required after the given number of failures.
func (p Policy) Delay(failures int) time.Duration {
	if failures <= 0 || p.Backoff <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Bootstrapper runs the attach sequence for one Context.
type Bootstrapper struct {
	ctx    *Context
	log    log.Interface
	policy Policy

	stage atomic.Int32
	flag  atomic.Int32
	// set while a background retry loop owns installation retries
	retrying atomic.Bool

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	exhausted   bool

	watcher watcher
	wg      sync.WaitGroup

	// Executable returns the path of the host executable.
	Executable func() (string, error)
	now        func() time.Time
	sleep      func(time.Duration)
}

// New returns a bootstrapper for ctx, with retry limits taken from its
// configuration.
func New(ctx *Context) *Bootstrapper {
	logger := ctx.Log
	if logger == nil {
		logger = log.Log
	}
	b := &Bootstrapper{
		ctx: ctx,
		log: logger.WithField("component", "bootstrap"),
		policy: Policy{
			MaxAttempts: ctx.Config.RetryMaxAttempts,
			Backoff:     ctx.Config.RetryBackoff(),
			MaxBackoff:  30 * time.Second,
		},
		Executable: func() (string, error) { return ctx.Proc.ModulePath(0) },
		now:        time.Now,
		sleep:      time.Sleep,
	}
	b.watcher.init(b)
	return b
}

// Stage returns the current stage.
func (b *Bootstrapper) Stage() Stage { return Stage(b.stage.Load()) }

func (b *Bootstrapper) setStage(s Stage) {
	prev := Stage(b.stage.Swap(int32(s)))
	if prev != s {
		b.log.WithFields(log.Fields{"from": prev, "to": s}).Info("stage")
	}
}

// advance moves to s unless the bootstrap is already past it.
func (b *Bootstrapper) advance(s Stage) {
	for {
		cur := b.stage.Load()
		if Stage(cur) >= s {
			return
		}
		if b.stage.CompareAndSwap(cur, int32(s)) {
			b.log.WithFields(log.Fields{"from": Stage(cur), "to": s}).Info("stage")
			return
		}
	}
}

// Attach starts the bootstrap. It returns once the watcher is in place or,
// when the runtime is already resident, once background installation has
// started.
func (b *Bootstrapper) Attach() error {
	b.setStage(Start)
	if h := b.ctx.Proc.ModuleHandle(RuntimeModule); h != 0 {
		b.setStage(LateAttach)
		b.log.WithField("module", RuntimeModule).Info("runtime already resident")
		b.ctx.SetRuntimeHandle(h)
		b.setStage(RuntimeReady)
		b.retry()
		return nil
	}

	b.setStage(NormalAttach)
	v, err := b.detectVariant()
	b.setStage(VariantDetermined)
	ctx := b.log.WithField("variant", v)
	if err != nil {
		ctx.WithError(err).Error("no proxy for this executable")
	} else if err := b.ctx.Proxy.Setup(v); err != nil {
		ctx.WithError(err).Error("proxy setup failed")
	}
	b.setStage(ProxyInstalled)

	if err := b.watcher.install(); err != nil {
		return errors.Wrap(err, "failed to watch module loads")
	}
	b.setStage(WatchingForLoad)
	return nil
}

func (b *Bootstrapper) detectVariant() (proxy.Variant, error) {
	exe, err := b.Executable()
	if err != nil {
		return proxy.Unknown, errors.Wrap(err, "executable path")
	}
	base := filepath.Base(strings.ReplaceAll(exe, "\\", "/"))
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	if v, ok := variantStems[stem]; ok {
		return v, nil
	}
	return proxy.Unknown, errors.Wrap(ErrUnknownVariant, stem)
}

func matchesMarker(name string) bool {
	name = strings.ToLower(name)
	for _, m := range Markers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// OnModuleLoad is called after the host loaded the module requested as name.
// A marker module makes the runtime ready and triggers installation.
func (b *Bootstrapper) OnModuleLoad(name string) {
	if !matchesMarker(name) {
		return
	}
	if b.flag.Load() == installed {
		return
	}
	ctx := b.log.WithField("module", name)
	ctx.Info("engine library loaded")
	if b.ctx.RuntimeHandle() == 0 {
		h := b.ctx.Proc.ModuleHandle(RuntimeModule)
		if h == 0 {
			var err error
			if h, err = b.ctx.Proc.LoadModule(RuntimeModule); err != nil {
				ctx.WithError(err).Error("failed to load runtime module")
				return
			}
		}
		if b.ctx.SetRuntimeHandle(h) {
			ctx.WithField("handle", fmt.Sprintf("%#x", h)).Info("runtime module loaded")
		}
	}
	b.advance(RuntimeReady)
	if err := b.Trigger(); err != nil && !errors.Is(err, ErrBackoff) && !errors.Is(err, ErrExhausted) {
		ctx.WithError(err).Warn("hook installation failed, retrying in the background")
	}
}

// Trigger runs the install sequence unless it already succeeded, is
// running, is backing off after a failure or has given up. A failure that
// leaves attempts in the budget starts a background retry, so installation
// does not depend on further triggers.
func (b *Bootstrapper) Trigger() error {
	_, err := b.trigger()
	return err
}

// trigger reports whether this call ran the install sequence.
func (b *Bootstrapper) trigger() (bool, error) {
	b.mu.Lock()
	if b.exhausted {
		b.mu.Unlock()
		return false, ErrExhausted
	}
	if wait := b.policy.Delay(b.failures) - b.now().Sub(b.lastFailure); b.failures > 0 && wait > 0 {
		b.mu.Unlock()
		b.log.WithField("wait", wait).Debug("install trigger ignored while backing off")
		return false, ErrBackoff
	}
	b.mu.Unlock()

	if !b.flag.CompareAndSwap(pending, installAttempted) {
		return false, nil
	}
	err := b.install()
	if err == nil {
		b.flag.Store(installed)
		b.setStage(HooksInstalled)
		return true, nil
	}
	exhausted := b.fail(err)
	b.flag.Store(pending)
	if !exhausted {
		b.retry()
	}
	return true, err
}

// fail records a failed attempt and reports whether the budget is spent.
func (b *Bootstrapper) fail(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	ctx := b.log.WithError(err).WithField("failures", b.failures)
	switch {
	case terminal(err):
		ctx.Error("hook installation cannot succeed")
	case b.failures >= b.policy.MaxAttempts:
		ctx.Error("hook installation attempts exhausted")
	default:
		ctx.WithField("retry_in", b.policy.Delay(b.failures)).Warn("hook installation failed")
		b.setStage(RuntimeReady)
		return false
	}
	b.exhausted = true
	b.setStage(Exhausted)
	return true
}

// terminal reports failures that no retry can fix.
func terminal(err error) bool {
	return errors.Is(err, symbols.ErrTableUnavailable) ||
		errors.Is(err, symbols.ErrSymbolMissing) ||
		errors.Is(err, il2cpp.ErrUnresolved)
}

func (b *Bootstrapper) install() error {
	rt := b.ctx.Runtime
	if err := rt.Initialize(b.ctx.RuntimeHandle()); err != nil {
		return errors.Wrap(err, "runtime")
	}
	// the runtime finishes its own setup on another thread
	b.sleep(b.ctx.Config.SettleDelay())
	if err := b.ctx.FrameRate.Install(rt); err != nil {
		b.log.WithError(err).Warn("frame rate hooks incomplete")
	}
	if err := b.ctx.Payload.Install(rt); err != nil {
		return errors.Wrap(err, "payload hooks")
	}
	b.log.Info("hooks installed")
	return nil
}

// retry starts the background install loop unless one is already running.
func (b *Bootstrapper) retry() {
	if !b.retrying.CompareAndSwap(false, true) {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.recoverPanic()
		b.installUntilDone()
	}()
}

// installUntilDone retries until installation succeeds or gives up. It owns
// the retrying flag and releases it before returning.
func (b *Bootstrapper) installUntilDone() {
	for {
		ran, err := b.trigger()
		switch {
		case errors.Is(err, ErrExhausted), ran && err == nil:
			b.retrying.Store(false)
			return
		case !ran && err == nil:
			// another caller holds the install flag. If it failed before the
			// release below, its retry was skipped and this loop takes over.
			b.retrying.Store(false)
			if b.flag.Load() != pending || !b.retrying.CompareAndSwap(false, true) {
				return
			}
			continue
		}
		b.mu.Lock()
		exhausted := b.exhausted
		wait := b.policy.Delay(b.failures) - b.now().Sub(b.lastFailure)
		b.mu.Unlock()
		if exhausted {
			b.retrying.Store(false)
			return
		}
		if wait > 0 {
			b.sleep(wait)
		}
	}
}

// Wait blocks until background installation has ended.
func (b *Bootstrapper) Wait() { b.wg.Wait() }

func (b *Bootstrapper) recoverPanic() {
	if r := recover(); r != nil {
		b.log.Errorf("recovered from panic: %v", r)
	}
}
