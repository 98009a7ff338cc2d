package logging

import (
	"io"
	"strings"

	"golang.org/x/sys/windows"
)

type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	s, err := windows.UTF16PtrFromString(strings.ReplaceAll(string(p), "\x00", ""))
	if err != nil {
		return 0, err
	}
	windows.OutputDebugString(s)
	return len(p), nil
}

// DebugWriter writes to the attached debugger.
func DebugWriter() io.Writer { return debugWriter{} }
