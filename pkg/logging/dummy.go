package logging

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
)

var dummyLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}()

// Dummy returns a logger that drops everything. Useful for tests and for
// drivers that were asked to stay quiet.
func Dummy() Logger {
	return &DummyLogger{}
}

type DummyLogger struct{}

func (d *DummyLogger) WithContext(context.Context) Logger      { return d }
func (d *DummyLogger) WithField(string, interface{}) Logger    { return d }
func (d *DummyLogger) WithFields(Fields) Logger                { return d }
func (d *DummyLogger) WithError(error) Logger                  { return d }
func (*DummyLogger) Trace(...interface{})                      {}
func (*DummyLogger) Debug(...interface{})                      {}
func (*DummyLogger) Info(...interface{})                       {}
func (*DummyLogger) Warn(...interface{})                       {}
func (*DummyLogger) Error(...interface{})                      {}
func (*DummyLogger) Fatal(args ...interface{})                 { dummyLogger.Fatal(args...) }
func (*DummyLogger) Tracef(string, ...interface{})             {}
func (*DummyLogger) Debugf(string, ...interface{})             {}
func (*DummyLogger) Infof(string, ...interface{})              {}
func (*DummyLogger) Warnf(string, ...interface{})              {}
func (*DummyLogger) Errorf(string, ...interface{})             {}
func (*DummyLogger) Fatalf(format string, args ...interface{}) { dummyLogger.Fatalf(format, args...) }
func (*DummyLogger) IsTracing() bool                           { return false }
func (*DummyLogger) IsDebugging() bool                         { return false }
