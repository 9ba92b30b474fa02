package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

const (
	LogFieldsContextKey = contextKey("log_fields")

	ProjectDirectoryName = "unmanic"
	ModuleName           = "github.com/unmanic/unmanic"
)

// log_fields keys
const (
	// ComponentFieldKey name of the component writing the line (string, ex: Session)
	ComponentFieldKey = "component"
	// InstallationIDFieldKey installation identifier (string)
	InstallationIDFieldKey = "installation_id"
	// StoreFieldKey kv driver name (string, ex: sqlite)
	StoreFieldKey = "store"
	// PartitionFieldKey kv partition a component reads and writes (string, ex: installation)
	PartitionFieldKey = "partition"
	// PhaseFieldKey process phase (string, ex: startup)
	PhaseFieldKey = "phase"
	// CommandFieldKey cli command path (string)
	CommandFieldKey = "command"
)

var ErrUnknownOutput = errors.New("unknown log output")

var (
	formatterInitOnce sync.Once
	defaultLogger     = logrus.New()

	closersMu sync.Mutex
	closers   []io.Closer
)

func Level() string {
	return defaultLogger.GetLevel().String()
}

type Fields map[string]interface{}

// logCallerTrimmer trims the caller paths to be relative to the project root
func logCallerTrimmer(frame *runtime.Frame) (function string, file string) {
	indexOfModule := strings.Index(strings.ToLower(frame.File), ProjectDirectoryName)
	file = frame.File
	if indexOfModule != -1 {
		file = frame.File[indexOfModule+len(ProjectDirectoryName):]
		// skip the rest of the project directory name (unmanic-dev, unmanic_go)
		if sep := strings.IndexByte(file, '/'); sep != -1 {
			file = file[sep+1:]
		}
	}
	file = fmt.Sprintf("%s:%d", file, frame.Line)
	function = strings.TrimPrefix(frame.Function, ModuleName+"/")
	return
}

func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "trace":
		defaultLogger.SetLevel(logrus.TraceLevel)
	case "debug":
		defaultLogger.SetLevel(logrus.DebugLevel)
	case "info":
		defaultLogger.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		defaultLogger.SetLevel(logrus.WarnLevel)
	case "error":
		defaultLogger.SetLevel(logrus.ErrorLevel)
	case "panic":
		defaultLogger.SetLevel(logrus.PanicLevel)
	case "null", "none":
		defaultLogger.SetLevel(logrus.PanicLevel)
		defaultLogger.SetOutput(io.Discard)
	}
}

// SetOutputs sets the default logger outputs. "-" is stdout, "=" is stderr and
// anything else is a file path rotated by size.
func SetOutputs(outputs []string, fileMaxSizeMB, filesKeep int) error {
	var (
		writers    []io.Writer
		newClosers []io.Closer
	)
	for _, output := range outputs {
		var w io.Writer
		switch output {
		case "":
			continue
		case "-":
			w = os.Stdout
		case "=":
			w = os.Stderr
		default:
			if strings.HasSuffix(output, string(os.PathSeparator)) {
				return fmt.Errorf("%w: '%s' is a directory", ErrUnknownOutput, output)
			}
			lj := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    fileMaxSizeMB,
				MaxBackups: filesKeep,
			}
			newClosers = append(newClosers, lj)
			w = lj
		}
		writers = append(writers, w)
	}
	if len(writers) == 1 {
		defaultLogger.SetOutput(writers[0])
	} else if len(writers) > 1 {
		defaultLogger.SetOutput(io.MultiWriter(writers...))
	}
	closersMu.Lock()
	closers = append(closers, newClosers...)
	closersMu.Unlock()
	return nil
}

// CloseWriters closes any file outputs opened by SetOutputs
func CloseWriters() error {
	closersMu.Lock()
	defer closersMu.Unlock()
	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	closers = nil
	return errors.Join(errs...)
}

func SetOutputFormat(format string) {
	var formatter logrus.Formatter
	switch strings.ToLower(format) {
	case "text":
		formatter = &logrus.TextFormatter{
			FullTimestamp:          true,
			DisableLevelTruncation: true,
			PadLevelText:           true,
			QuoteEmptyFields:       true,
			CallerPrettyfier:       logCallerTrimmer,
		}
	case "json":
		formatter = &logrus.JSONFormatter{
			CallerPrettyfier: logCallerTrimmer,
			PrettyPrint:      false,
		}
	default:
		return // no known formatter found
	}

	defaultLogger.SetFormatter(logrusCallerFormatter{formatter})
}

type Logger interface {
	WithContext(ctx context.Context) Logger
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	IsTracing() bool
	IsDebugging() bool
}

type logrusEntryWrapper struct {
	e *logrus.Entry
}

func (l *logrusEntryWrapper) WithContext(ctx context.Context) Logger {
	return addFromContext(
		&logrusEntryWrapper{l.e.WithContext(ctx)},
		ctx,
	)
}

func (l *logrusEntryWrapper) WithField(key string, value interface{}) Logger {
	return &logrusEntryWrapper{l.e.WithField(key, value)}
}

func (l *logrusEntryWrapper) WithFields(fields Fields) Logger {
	return &logrusEntryWrapper{l.e.WithFields(logrus.Fields(fields))}
}

func (l *logrusEntryWrapper) WithError(err error) Logger {
	return &logrusEntryWrapper{l.e.WithError(err)}
}

func (l *logrusEntryWrapper) Trace(args ...interface{}) {
	l.e.Trace(args...)
}

func (l *logrusEntryWrapper) Debug(args ...interface{}) {
	l.e.Debug(args...)
}

func (l *logrusEntryWrapper) Info(args ...interface{}) {
	l.e.Info(args...)
}

func (l *logrusEntryWrapper) Warn(args ...interface{}) {
	l.e.Warn(args...)
}

func (l *logrusEntryWrapper) Error(args ...interface{}) {
	l.e.Error(args...)
}

func (l *logrusEntryWrapper) Fatal(args ...interface{}) {
	l.e.Fatal(args...)
}

func (l *logrusEntryWrapper) Tracef(format string, args ...interface{}) {
	l.e.Tracef(format, args...)
}

func (l *logrusEntryWrapper) Debugf(format string, args ...interface{}) {
	l.e.Debugf(format, args...)
}

func (l *logrusEntryWrapper) Infof(format string, args ...interface{}) {
	l.e.Infof(format, args...)
}

func (l *logrusEntryWrapper) Warnf(format string, args ...interface{}) {
	l.e.Warnf(format, args...)
}

func (l *logrusEntryWrapper) Errorf(format string, args ...interface{}) {
	l.e.Errorf(format, args...)
}

func (l *logrusEntryWrapper) Fatalf(format string, args ...interface{}) {
	l.e.Fatalf(format, args...)
}

func (*logrusEntryWrapper) IsTracing() bool {
	return defaultLogger.IsLevelEnabled(logrus.TraceLevel)
}

func (*logrusEntryWrapper) IsDebugging() bool {
	return defaultLogger.IsLevelEnabled(logrus.DebugLevel)
}

type logrusCallerFormatter struct {
	f logrus.Formatter
}

func (lf logrusCallerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	e.Caller = getCaller()
	return lf.f.Format(e)
}

func Default() Logger {
	formatterInitOnce.Do(func() {
		defaultLogger.SetReportCaller(true)
		defaultLogger.Formatter = logrusCallerFormatter{defaultLogger.Formatter}
	})
	return &logrusEntryWrapper{
		e: logrus.NewEntry(defaultLogger),
	}
}

// New returns a Logger writing through l instead of the default logger.
func New(l *logrus.Logger) Logger {
	return &logrusEntryWrapper{e: logrus.NewEntry(l)}
}

func addFromContext(log Logger, ctx context.Context) Logger {
	fields, ok := ctx.Value(LogFieldsContextKey).(Fields)
	if !ok {
		return log
	}
	return log.WithFields(fields)
}

func FromContext(ctx context.Context) Logger {
	return addFromContext(Default(), ctx)
}

// AddFields returns a context carrying fields merged over any fields already on ctx.
// The parent's map is never modified.
func AddFields(ctx context.Context, fields Fields) context.Context {
	loggerFields := Fields{}
	if ctxFields, ok := ctx.Value(LogFieldsContextKey).(Fields); ok {
		for k, v := range ctxFields {
			loggerFields[k] = v
		}
	}
	for k, v := range fields {
		loggerFields[k] = v
	}
	return context.WithValue(ctx, LogFieldsContextKey, loggerFields)
}
