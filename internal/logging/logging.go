// Package logging builds the apex/log logger shared by every component.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/apex/log/handlers/text"
	"github.com/pkg/errors"
)

// FileName is the log file written into the data directory.
const FileName = "uratap.log"

// New returns a logger at level writing text entries to every sink. An
// unknown level falls back to info.
func New(level string, sinks ...io.Writer) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	handlers := make([]log.Handler, 0, len(sinks))
	for _, w := range sinks {
		handlers = append(handlers, text.New(w))
	}
	return &log.Logger{Handler: multi.New(handlers...), Level: lvl}
}

// Setup logs to the debugger and to FileName inside dir. The returned
// closer releases the log file.
func Setup(level, dir string) (*log.Logger, io.Closer, error) {
	dbg := DebugWriter()
	if dir == "" {
		return New(level, dbg), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l := New(level, dbg)
		return l, io.NopCloser(nil), errors.Wrap(err, "failed to open log file")
	}
	return New(level, dbg, f), f, nil
}
