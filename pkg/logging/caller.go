package logging

import (
	"runtime"
	"strings"
)

const maxCallerDepth = 25

// getCaller returns the first frame outside logrus and this package, so lines
// report the code that logged rather than the wrapper.
func getCaller() *runtime.Frame {
	pcs := make([]uintptr, maxCallerDepth)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isLoggingFrame(frame.Function) {
			return &frame
		}
		if !more {
			return nil
		}
	}
}

func isLoggingFrame(function string) bool {
	return strings.HasPrefix(function, "github.com/sirupsen/logrus") ||
		strings.HasPrefix(function, ModuleName+"/pkg/logging.")
}
