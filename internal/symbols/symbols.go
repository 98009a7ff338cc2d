// Package symbols recovers the names of runtime entry points that a stripped
// module keeps out of its export table.
//
// The anchor module carries a table of fixed-size entries. Each entry holds a
// 32-bit displacement to the entry point's real, obfuscated name. Entries are
// positional: the Nth entry names the Nth function of the runtime API list,
// so the list order must match the module build.
package symbols

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/k2io/uratap/internal/native"
)

var (
	// ErrTableUnavailable wraps the cached failure of a table build.
	ErrTableUnavailable = errors.New("symbol table unavailable")
	// ErrSymbolMissing means a canonical name is not part of the table.
	ErrSymbolMissing = errors.New("symbol not in table")
	// ErrBadRVA means an RVA lies outside every section.
	ErrBadRVA = errors.New("rva outside image")
	// ErrOutOfBounds means a read would leave the file.
	ErrOutOfBounds = errors.New("read out of bounds")
	// ErrLayoutDrift means a recovered name does not look like a symbol,
	// which happens when the module build no longer matches Layout.
	ErrLayoutDrift = errors.New("symbol table layout drift")
)

// MaxNameLen bounds a recovered name, terminator excluded.
const MaxNameLen = 256

// Layout describes where the positional table lives in one module build.
type Layout struct {
	// Anchor is the RVA of the first entry's displacement.
	Anchor uint32
	// FirstStride separates the first entry from the second; the first entry
	// carries extra header fields.
	FirstStride uint32
	// Stride separates every later entry.
	Stride uint32
	// HeaderWidth is added to the entry RVA before the displacement applies.
	HeaderWidth uint32
}

// DefaultLayout matches the module build the tap was written against.
var DefaultLayout = Layout{
	Anchor:      0x782c92,
	FirstStride: 0x28,
	Stride:      0x26,
	HeaderWidth: 4,
}

// Table maps canonical names to the module's native names.
type Table map[string]string

// Resolver builds a Table from a module file once and caches the outcome,
// successful or not, for the lifetime of the process.
type Resolver struct {
	Path   string
	Layout Layout
	Names  []string
	Log    log.Interface

	open  func(string) (image, error)
	once  sync.Once
	table Table
	err   error
}

// NewResolver returns a resolver over the module at path using the default
// name list.
func NewResolver(path string, layout Layout, logger log.Interface) *Resolver {
	if logger == nil {
		logger = log.Log
	}
	return &Resolver{
		Path:   path,
		Layout: layout,
		Names:  RuntimeAPI,
		Log:    logger,
	}
}

// Table returns the resolved table. The file is parsed on the first call
// only; later calls return the same table or the same error.
func (r *Resolver) Table() (Table, error) {
	r.once.Do(func() {
		open := r.open
		if open == nil {
			open = func(path string) (image, error) { return openPE(path) }
		}
		r.Log.WithField("path", r.Path).Info("parsing symbol table")
		img, err := open(r.Path)
		if err != nil {
			r.err = &tableError{err}
			return
		}
		defer img.Close()
		t, err := walk(img, r.Layout, r.Names)
		if err != nil {
			r.err = &tableError{err}
			return
		}
		r.table = t
		r.Log.WithField("entries", len(t)).Info("symbol table built")
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.table, nil
}

type tableError struct{ err error }

func (e *tableError) Error() string { return "symbol table unavailable: " + e.err.Error() }
func (e *tableError) Unwrap() error { return e.err }
func (e *tableError) Is(target error) bool { return target == ErrTableUnavailable }

// Native returns the module's name for canonical.
func (r *Resolver) Native(canonical string) (string, error) {
	t, err := r.Table()
	if err != nil {
		return "", err
	}
	name, ok := t[canonical]
	if !ok {
		return "", errors.Wrap(ErrSymbolMissing, canonical)
	}
	return name, nil
}

// Lookup resolves canonical to a callable address inside the loaded module.
func (r *Resolver) Lookup(proc native.Process, module uintptr, canonical string) (uintptr, error) {
	name, err := r.Native(canonical)
	if err != nil {
		return 0, err
	}
	addr, err := proc.ProcAddress(module, name)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to look up %s (native %q)", canonical, name)
	}
	return addr, nil
}

// walk consumes one entry per name, in order. Any failure aborts the whole
// table.
func walk(img image, l Layout, names []string) (Table, error) {
	t := make(Table, len(names))
	seen := make(map[string]string, len(names))
	rva := l.Anchor
	var disp [4]byte
	for i, canonical := range names {
		off, err := img.Offset(rva)
		if err != nil {
			return nil, errors.Wrapf(err, "entry %d (%s)", i, canonical)
		}
		if _, err := img.ReadAt(disp[:], off); err != nil {
			return nil, errors.Wrapf(ErrOutOfBounds, "entry %d (%s) at %#x: %v", i, canonical, off, err)
		}
		nameRVA := uint32(int64(rva) + int64(l.HeaderWidth) + int64(int32(binary.LittleEndian.Uint32(disp[:]))))
		nameOff, err := img.Offset(nameRVA)
		if err != nil {
			return nil, errors.Wrapf(err, "name of entry %d (%s)", i, canonical)
		}
		name, err := readName(img, nameOff)
		if err != nil {
			return nil, errors.Wrapf(err, "name of entry %d (%s)", i, canonical)
		}
		if prev, dup := seen[name]; dup {
			return nil, errors.Wrapf(ErrLayoutDrift, "%s and %s both resolve to %q", prev, canonical, name)
		}
		seen[name] = canonical
		t[canonical] = name
		if i == 0 {
			rva += l.FirstStride
		} else {
			rva += l.Stride
		}
	}
	return t, nil
}

func readName(img image, off int64) (string, error) {
	buf := make([]byte, MaxNameLen+1)
	n, err := img.ReadAt(buf, off)
	if n == 0 && err != nil {
		return "", errors.Wrapf(ErrOutOfBounds, "name at %#x: %v", off, err)
	}
	end := bytes.IndexByte(buf[:n], 0)
	if end < 0 {
		return "", errors.Wrapf(ErrOutOfBounds, "unterminated name at %#x", off)
	}
	name := string(buf[:end])
	if !validName(name) {
		return "", errors.Wrapf(ErrLayoutDrift, "implausible name %q at %#x", name, off)
	}
	return name, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}
