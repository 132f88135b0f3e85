package runner

import (
	"fmt"
	"runtime"
)

// ExcInfo is the closed exception shape the host attaches to failed steps
// and interrupted reports. Source errors are mapped into it at the boundary;
// no live error values cross into the plugin.
type ExcInfo struct {
	// Type is the fully-qualified error type, e.g. "*fs.PathError".
	Type string
	// Message is the error's rendered message.
	Message string
	// Traceback holds formatted stack frames, innermost last. May be empty.
	Traceback []string
}

// NewExcInfo captures err and the current goroutine's stack into an ExcInfo.
// Hosts that carry their own stack data should build the struct directly.
func NewExcInfo(err error) *ExcInfo {
	return &ExcInfo{
		Type:      fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Traceback: captureStack(2),
	}
}

func captureStack(skip int) []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	var out []string
	for {
		frame, more := frames.Next()
		out = append(out, fmt.Sprintf("%s:%d in %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return out
}
