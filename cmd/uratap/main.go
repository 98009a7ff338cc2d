// Command uratap is built with -buildmode=c-shared and loaded into the game
// in place of one of its modules. Attaching happens from init; main is never
// called.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/apex/log"

	"github.com/k2io/uratap/internal/bootstrap"
	"github.com/k2io/uratap/internal/config"
	"github.com/k2io/uratap/internal/logging"
	"github.com/k2io/uratap/internal/native"
	"github.com/k2io/uratap/internal/proxy"
)

var version = "dev"

// drainTimeout bounds how long detach waits for pending notifications.
const drainTimeout = 500 * time.Millisecond

var tap struct {
	once   sync.Once
	ctx    *bootstrap.Context
	logger log.Interface
	closer io.Closer
}

func init() {
	defer handleInitPanic()
	debug.SetPanicOnFault(true)
	attach()
}

func attach() {
	early := logging.New("info", logging.DebugWriter())
	exe, err := os.Executable()
	if err != nil {
		early.WithError(err).Error("cannot locate the game executable")
		return
	}
	gameDir := filepath.Dir(exe)
	dataDir := filepath.Join(gameDir, proxy.DataDirName)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		early.WithError(err).Warn("cannot create data directory")
	}
	loader := config.NewLoader(gameDir, early)
	cfg := loader.Load()

	logger, closer, err := logging.Setup(cfg.LogLevel, dataDir)
	if err != nil {
		logger.WithError(err).Warn("logging to the debugger only")
	}
	logger.WithFields(log.Fields{
		"version":  version,
		"pid":      os.Getpid(),
		"notifier": cfg.NotifierHost,
		"game":     gameDir,
	}).Info("uratap attaching")

	ctx, c := bootstrap.NewContext(cfg, native.System{}, gameDir, logger)
	tap.ctx, tap.logger, tap.closer = ctx, logger, closer

	loader.Watch(func(next config.Config) {
		c.FrameRate.SetOverrides(next.TargetFPS, next.VSyncCount)
		logger.WithFields(log.Fields{
			"target_fps":  next.TargetFPS,
			"vsync_count": next.VSyncCount,
		}).Info("frame rate overrides reloaded")
	})

	if err := bootstrap.New(ctx).Attach(); err != nil {
		logger.WithError(err).Error("attach failed")
	}
}

func handleInitPanic() {
	if r := recover(); r != nil {
		msg := fmt.Sprintf("panic during attach: %v\n%s", r, debug.Stack())
		logging.DebugWriter().Write([]byte(msg))
	}
}

// shutdown removes every hook. It runs at most once.
func shutdown() {
	tap.once.Do(func() {
		defer handleInitPanic()
		if tap.ctx == nil {
			return
		}
		tap.logger.Info("uratap detaching")
		tap.ctx.Shutdown(drainTimeout)
		if tap.closer != nil {
			tap.closer.Close()
		}
	})
}

func main() {}
