// Package config loads uratap.json from the game directory.
package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/caarlos0/env/v8"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// FileName is the configuration file kept next to the game executable.
const FileName = "uratap.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "URATAP_"

// Config is the process configuration. Only the frame pacing overrides may
// change after attach.
type Config struct {
	NotifierHost     string `mapstructure:"notifier_host" env:"NOTIFIER_HOST"`
	TimeoutMS        int    `mapstructure:"timeout_ms" env:"TIMEOUT_MS"`
	TargetFPS        int32  `mapstructure:"target_fps" env:"TARGET_FPS"`
	VSyncCount       int32  `mapstructure:"vsync_count" env:"VSYNC_COUNT"`
	LogLevel         string `mapstructure:"log_level" env:"LOG_LEVEL"`
	SettleDelayMS    int    `mapstructure:"settle_delay_ms" env:"SETTLE_DELAY_MS"`
	SymbolAnchorRVA  uint32 `mapstructure:"symbol_anchor_rva" env:"SYMBOL_ANCHOR_RVA"`
	RetryMaxAttempts int    `mapstructure:"retry_max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	RetryBackoffMS   int    `mapstructure:"retry_backoff_ms" env:"RETRY_BACKOFF_MS"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		NotifierHost:     "http://127.0.0.1:4693",
		TimeoutMS:        100,
		TargetFPS:        -1,
		VSyncCount:       -1,
		LogLevel:         "info",
		SettleDelayMS:    100,
		SymbolAnchorRVA:  0x782c92,
		RetryMaxAttempts: 5,
		RetryBackoffMS:   500,
	}
}

// Timeout is the per-request notifier timeout.
func (c Config) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }

// SettleDelay is the pause between runtime initialization and hooking.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// RetryBackoff is the wait after the first failed install.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

// Loader reads the configuration file and applies environment overrides.
type Loader struct {
	path string
	log  log.Interface
	v    *viper.Viper

	// Environ replaces the process environment when set.
	Environ map[string]string

	mu sync.Mutex
}

// NewLoader returns a loader for FileName inside dir.
func NewLoader(dir string, logger log.Interface) *Loader {
	if logger == nil {
		logger = log.Log
	}
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, FileName))
	v.SetConfigType("json")
	d := Default()
	v.SetDefault("notifier_host", d.NotifierHost)
	v.SetDefault("timeout_ms", d.TimeoutMS)
	v.SetDefault("target_fps", d.TargetFPS)
	v.SetDefault("vsync_count", d.VSyncCount)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("settle_delay_ms", d.SettleDelayMS)
	v.SetDefault("symbol_anchor_rva", d.SymbolAnchorRVA)
	v.SetDefault("retry_max_attempts", d.RetryMaxAttempts)
	v.SetDefault("retry_backoff_ms", d.RetryBackoffMS)
	return &Loader{path: filepath.Join(dir, FileName), log: logger, v: v}
}

// Path is the configuration file location.
func (l *Loader) Path() string { return l.path }

// Load returns the configuration. A missing file is written with the
// defaults; an unreadable one is reported and ignored.
func (l *Loader) Load() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := l.log.WithField("path", l.path)
	if err := l.v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(l.path); os.IsNotExist(statErr) {
			if werr := l.v.WriteConfigAs(l.path); werr != nil {
				ctx.WithError(werr).Warn("failed to write default config")
			} else {
				ctx.Info("wrote default config")
			}
		} else {
			ctx.WithError(err).Warn("failed to read config, using defaults")
		}
	}
	return l.decode()
}

func (l *Loader) decode() Config {
	c := Default()
	if err := l.v.Unmarshal(&c); err != nil {
		l.log.WithError(err).Warn("invalid config values, using defaults")
		c = Default()
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix, Environment: l.Environ}); err != nil {
		l.log.WithError(err).Warn("ignoring invalid environment override")
	}
	return c.sanitize(l.log)
}

// sanitize replaces values that cannot work with their defaults.
func (c Config) sanitize(logger log.Interface) Config {
	d := Default()
	fix := func(key string, bad bool, apply func()) {
		if bad {
			logger.WithField("key", key).Warn("invalid value, using default")
			apply()
		}
	}
	fix("notifier_host", c.NotifierHost == "", func() { c.NotifierHost = d.NotifierHost })
	fix("timeout_ms", c.TimeoutMS <= 0, func() { c.TimeoutMS = d.TimeoutMS })
	fix("settle_delay_ms", c.SettleDelayMS < 0, func() { c.SettleDelayMS = d.SettleDelayMS })
	fix("retry_max_attempts", c.RetryMaxAttempts <= 0, func() { c.RetryMaxAttempts = d.RetryMaxAttempts })
	fix("retry_backoff_ms", c.RetryBackoffMS < 0, func() { c.RetryBackoffMS = d.RetryBackoffMS })
	fix("symbol_anchor_rva", c.SymbolAnchorRVA == 0, func() { c.SymbolAnchorRVA = d.SymbolAnchorRVA })
	return c
}

// Watch calls fn with the new configuration whenever the file changes.
func (l *Loader) Watch(fn func(Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.reload(e, fn); err != nil {
			l.log.WithError(err).Warn("config reload failed")
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) reload(e fsnotify.Event, fn func(Config)) error {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return nil
	}
	l.mu.Lock()
	if err := l.v.ReadInConfig(); err != nil {
		l.mu.Unlock()
		return errors.Wrapf(err, "reading %s", e.Name)
	}
	c := l.decode()
	l.mu.Unlock()
	l.log.WithField("path", e.Name).Info("config changed")
	fn(c)
	return nil
}
