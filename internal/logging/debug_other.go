//go:build !windows

package logging

import (
	"io"
	"os"
)

// DebugWriter writes to stderr where no debugger channel exists.
func DebugWriter() io.Writer { return os.Stderr }
