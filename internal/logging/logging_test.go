package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToEverySink(t *testing.T) {
	var a, b bytes.Buffer
	l := New("debug", &a, &b)
	l.WithField("target", "0x1000").Debug("hook installed")

	for _, buf := range []*bytes.Buffer{&a, &b} {
		assert.Contains(t, buf.String(), "hook installed")
		assert.Contains(t, buf.String(), "target")
	}
}

func TestNewLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", &buf)
	l.Info("quiet")
	l.Warn("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")

	assert.Equal(t, log.InfoLevel, New("chatty", &buf).Level)
}

func TestSetupAppendsToFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("earlier\n"), 0o644))

	l, closer, err := Setup("info", dir)
	require.NoError(t, err)
	l.Info("attached")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "earlier")
	assert.Contains(t, string(raw), "attached")
}

func TestSetupMissingDirectory(t *testing.T) {
	l, closer, err := Setup("info", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	require.NotNil(t, l)
	assert.NoError(t, closer.Close())
}
