// Package proxy loads the original copy of the module the tap replaced so
// that the replaced module's exports can be forwarded to it.
package proxy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/native"
)

// DataDirName is the private directory, inside the game directory, holding
// the original modules.
const DataDirName = "uratap_data"

// Variant is a distribution of the game; each one loads the tap through a
// different module.
type Variant int

const (
	Unknown Variant = iota
	// Steam loads the tap in place of cri_mana_vpx.dll.
	Steam
	// DMM loads the tap in place of UnityPlayer.dll.
	DMM
)

func (v Variant) String() string {
	switch v {
	case Steam:
		return "steam"
	case DMM:
		return "dmm"
	default:
		return "unknown"
	}
}

// ErrUnknownVariant means no proxy exists for the variant.
var ErrUnknownVariant = errors.New("unknown game variant")

// Original module files and the exports forwarded to them.
const (
	CriManaOriginal     = "cri_mana_vpx_orig.dll"
	UnityPlayer         = "UnityPlayer.dll"
	UnityPlayerOriginal = "UnityPlayer_orig.dll"
)

var (
	criManaExports     = []string{"criVvp9_GetAlphaInterface", "criVvp9_GetInterface", "criVvp9_SetUserAllocator"}
	unityPlayerExports = []string{"UnityMain"}
)

// Loader prepares and loads the original module of one variant.
type Loader struct {
	proc    native.Process
	gameDir string
	dataDir string
	log     log.Interface

	mu      sync.RWMutex
	module  uintptr
	exports map[string]uintptr
}

// NewLoader returns a loader for the game installed in gameDir.
func NewLoader(proc native.Process, gameDir string, logger log.Interface) *Loader {
	if logger == nil {
		logger = log.Log
	}
	return &Loader{
		proc:    proc,
		gameDir: gameDir,
		dataDir: filepath.Join(gameDir, DataDirName),
		log:     logger,
		exports: make(map[string]uintptr),
	}
}

// DataDir is the directory holding the original modules.
func (l *Loader) DataDir() string { return l.dataDir }

// Setup loads the original module of v and records its exports.
func (l *Loader) Setup(v Variant) error {
	ctx := l.log.WithField("variant", v)
	switch v {
	case Steam:
		path := filepath.Join(l.dataDir, CriManaOriginal)
		if _, err := os.Stat(path); err != nil {
			// the DMM build never ships this module
			ctx.WithField("path", path).Warn("original module missing, skipping proxy")
			return nil
		}
		return l.load(ctx, path, criManaExports, false)
	case DMM:
		path, err := l.prepareUnityPlayer()
		if err != nil {
			return err
		}
		return l.load(ctx, path, unityPlayerExports, true)
	default:
		return errors.Wrap(ErrUnknownVariant, v.String())
	}
}

// LoadOriginal loads the module at path.
func (l *Loader) LoadOriginal(path string) (uintptr, error) {
	h, err := l.proc.LoadModule(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to load %s", filepath.Base(path))
	}
	return h, nil
}

func (l *Loader) load(ctx log.Interface, path string, names []string, required bool) error {
	h, err := l.LoadOriginal(path)
	if err != nil {
		return err
	}
	found := make(map[string]uintptr, len(names))
	for _, name := range names {
		addr, err := l.proc.ProcAddress(h, name)
		if err != nil {
			if required {
				return errors.Wrapf(err, "export %s", name)
			}
			ctx.WithError(err).Warnf("export %s missing", name)
			continue
		}
		found[name] = addr
		ctx.WithField("addr", fmt.Sprintf("%#x", addr)).Infof("forwarding %s", name)
	}
	l.mu.Lock()
	l.module = h
	for k, v := range found {
		l.exports[k] = v
	}
	l.mu.Unlock()
	return nil
}

// prepareUnityPlayer refreshes the copy of UnityPlayer.dll when it is
// missing or older than the game's file.
func (l *Loader) prepareUnityPlayer() (string, error) {
	src := filepath.Join(l.gameDir, UnityPlayer)
	dst := filepath.Join(l.dataDir, UnityPlayerOriginal)
	if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create data directory")
	}
	si, err := os.Stat(src)
	if err != nil {
		return "", errors.Wrapf(err, "stat %s", UnityPlayer)
	}
	if di, err := os.Stat(dst); err == nil && !di.ModTime().Before(si.ModTime()) {
		return dst, nil
	}
	if err := copyFile(src, dst); err != nil {
		return "", errors.Wrapf(err, "failed to copy %s", UnityPlayer)
	}
	l.log.WithField("path", dst).Info("refreshed original module copy")
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// Export returns the recorded address of an export of the original module.
func (l *Loader) Export(name string) (uintptr, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addr, ok := l.exports[name]
	return addr, ok
}

// Module returns the handle of the loaded original module, 0 before Setup.
func (l *Loader) Module() uintptr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.module
}
