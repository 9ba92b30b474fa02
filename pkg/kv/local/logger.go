package local

import (
	"github.com/unmanic/unmanic/pkg/logging"
)

// BadgerLogger adapts logging.Logger to badger's logger. Badger is chatty, so info and debug go to trace.
type BadgerLogger struct {
	logging.Logger
}

func (l *BadgerLogger) Errorf(format string, args ...interface{}) {
	l.Logger.Errorf(format, args...)
}

func (l *BadgerLogger) Warningf(format string, args ...interface{}) {
	l.Logger.Warnf(format, args...)
}

func (l *BadgerLogger) Infof(format string, args ...interface{}) {
	l.Logger.Tracef(format, args...)
}

func (l *BadgerLogger) Debugf(format string, args ...interface{}) {
	l.Logger.Tracef(format, args...)
}
