package symbols

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/mmap"

	"github.com/k2io/uratap/internal/native/nativetest"
)

// flatImage maps RVAs one to one onto its bytes.
type flatImage struct {
	data []byte
}

func (f *flatImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(f.data)) {
		return 0, errors.New("EOF")
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, errors.New("EOF")
	}
	return n, nil
}

func (f *flatImage) Close() error { return nil }

func (f *flatImage) Len() int { return len(f.data) }

func (f *flatImage) Offset(rva uint32) (int64, error) {
	if int(rva) >= len(f.data) {
		return 0, ErrBadRVA
	}
	return int64(rva), nil
}

var testLayout = Layout{Anchor: 0x100, FirstStride: 0x28, Stride: 0x26, HeaderWidth: 4}

// buildImage lays out one table entry per native name, with the names
// stored from nameBase on.
func buildImage(natives []string, nameBase uint32) *flatImage {
	img := &flatImage{data: make([]byte, 0x4000)}
	rva := testLayout.Anchor
	at := nameBase
	for i, n := range natives {
		disp := int32(int64(at) - int64(rva) - int64(testLayout.HeaderWidth))
		binary.LittleEndian.PutUint32(img.data[rva:], uint32(disp))
		copy(img.data[at:], append([]byte(n), 0))
		at += uint32(len(n) + 1)
		if i == 0 {
			rva += testLayout.FirstStride
		} else {
			rva += testLayout.Stride
		}
	}
	return img
}

func quiet() log.Interface {
	return &log.Logger{Handler: discard.Default, Level: log.DebugLevel}
}

func newTestResolver(names []string, img image, openErr error) (*Resolver, *int) {
	opens := 0
	r := NewResolver("UnityPlayer.dll", testLayout, quiet())
	r.Names = names
	r.open = func(string) (image, error) {
		opens++
		if openErr != nil {
			return nil, openErr
		}
		return img, nil
	}
	return r, &opens
}

var canonical = []string{"il2cpp_domain_get", "il2cpp_domain_get_assemblies", "il2cpp_class_from_name"}

func TestResolverWalksInOrder(t *testing.T) {
	img := buildImage([]string{"xQz1", "aB_r9", "Kp0w"}, 0x2000)
	r, _ := newTestResolver(canonical, img, nil)

	table, err := r.Table()
	require.NoError(t, err)
	assert.Equal(t, Table{
		"il2cpp_domain_get":            "xQz1",
		"il2cpp_domain_get_assemblies": "aB_r9",
		"il2cpp_class_from_name":       "Kp0w",
	}, table)
}

func TestResolverNegativeDisplacement(t *testing.T) {
	img := buildImage([]string{"first", "second", "third"}, 0x10)
	r, _ := newTestResolver(canonical, img, nil)

	name, err := r.Native("il2cpp_class_from_name")
	require.NoError(t, err)
	assert.Equal(t, "third", name)
}

func TestResolverResolvesOnce(t *testing.T) {
	img := buildImage([]string{"xQz1", "aB_r9", "Kp0w"}, 0x2000)
	r, opens := newTestResolver(canonical, img, nil)

	first, err := r.Table()
	require.NoError(t, err)
	second, err := r.Table()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, *opens)
}

func TestResolverMissingFileIsTerminal(t *testing.T) {
	r, opens := newTestResolver(canonical, nil, os.ErrNotExist)

	table, err := r.Table()
	assert.Nil(t, table)
	assert.True(t, errors.Is(err, ErrTableUnavailable))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = r.Native("il2cpp_domain_get")
	assert.True(t, errors.Is(err, ErrTableUnavailable))
	assert.Equal(t, 1, *opens, "a failed build is not retried")
}

func TestResolverNoPartialTable(t *testing.T) {
	img := buildImage([]string{"xQz1", "aB_r9", "Kp0w"}, 0x2000)
	// third entry now points far outside the image
	binary.LittleEndian.PutUint32(img.data[testLayout.Anchor+testLayout.FirstStride+testLayout.Stride:], 0x7ffffff0)
	r, _ := newTestResolver(canonical, img, nil)

	table, err := r.Table()
	assert.Nil(t, table)
	assert.True(t, errors.Is(err, ErrTableUnavailable))
	assert.True(t, errors.Is(err, ErrBadRVA))

	_, err = r.Native("il2cpp_domain_get")
	assert.Error(t, err, "entries before the failure must not be served")
}

func TestResolverDetectsLayoutDrift(t *testing.T) {
	t.Run("implausible name", func(t *testing.T) {
		img := buildImage([]string{"xQz1", "bad name", "Kp0w"}, 0x2000)
		r, _ := newTestResolver(canonical, img, nil)
		_, err := r.Table()
		assert.True(t, errors.Is(err, ErrLayoutDrift))
	})
	t.Run("empty name", func(t *testing.T) {
		img := buildImage([]string{"xQz1", "", "Kp0w"}, 0x2000)
		r, _ := newTestResolver(canonical, img, nil)
		_, err := r.Table()
		assert.True(t, errors.Is(err, ErrLayoutDrift))
	})
	t.Run("duplicate name", func(t *testing.T) {
		img := buildImage([]string{"xQz1", "aB_r9", "xQz1"}, 0x2000)
		r, _ := newTestResolver(canonical, img, nil)
		_, err := r.Table()
		assert.True(t, errors.Is(err, ErrLayoutDrift))
	})
}

func TestResolverUnterminatedName(t *testing.T) {
	img := buildImage([]string{"xQz1"}, 0x2000)
	for i := 0x2000; i < len(img.data); i++ {
		img.data[i] = 'A'
	}
	r, _ := newTestResolver(canonical[:1], img, nil)
	_, err := r.Table()
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestResolverLookup(t *testing.T) {
	img := buildImage([]string{"xQz1", "aB_r9", "Kp0w"}, 0x2000)
	r, _ := newTestResolver(canonical, img, nil)
	proc := nativetest.New()
	proc.AddProc(0x180000000, "aB_r9", 0x180012340, nil)

	addr, err := r.Lookup(proc, 0x180000000, "il2cpp_domain_get_assemblies")
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x180012340), addr)

	_, err = r.Lookup(proc, 0x180000000, "il2cpp_domain_get")
	assert.Error(t, err, "name is known but not exported")

	_, err = r.Lookup(proc, 0x180000000, "il2cpp_init")
	assert.True(t, errors.Is(err, ErrSymbolMissing))
}

func TestOpenPERejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	_, err := openPE(filepath.Join(dir, "missing.dll"))
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.dll")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not a portable executable at all"), 0o644))
	_, err = openPE(garbage)
	assert.Error(t, err)

	r := NewResolver(garbage, DefaultLayout, quiet())
	_, err = r.Table()
	assert.True(t, errors.Is(err, ErrTableUnavailable))
}

func TestPEImageOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 0x800), 0o644))
	r, err := mmap.Open(path)
	require.NoError(t, err)
	defer r.Close()

	img := &peImage{ReaderAt: r, sections: []section{
		{va: 0x1000, vsize: 0x200, off: 0x400, size: 0x200},
		{va: 0x2000, vsize: 0x1000, off: 0x600, size: 0x200},
	}}

	off, err := img.Offset(0x1010)
	require.NoError(t, err)
	assert.Equal(t, int64(0x410), off)

	off, err = img.Offset(0x2100)
	require.NoError(t, err)
	assert.Equal(t, int64(0x700), off)

	_, err = img.Offset(0x2300)
	assert.True(t, errors.Is(err, ErrOutOfBounds), "zero-filled tail has no file data")

	_, err = img.Offset(0x500)
	assert.True(t, errors.Is(err, ErrBadRVA))
}

func TestRuntimeAPIOrder(t *testing.T) {
	assert.Equal(t, "il2cpp_init", RuntimeAPI[0])
	seen := make(map[string]bool)
	for _, n := range RuntimeAPI {
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
	for _, n := range []string{
		"il2cpp_domain_get", "il2cpp_domain_get_assemblies", "il2cpp_assembly_get_image",
		"il2cpp_image_get_name", "il2cpp_class_from_name", "il2cpp_class_get_method_from_name",
		"il2cpp_resolve_icall",
	} {
		assert.True(t, seen[n], n)
	}
}
