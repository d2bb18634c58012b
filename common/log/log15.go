package log

import (
	"fmt"
	"os"
	"sync"

	"github.com/inconshreveable/log15"
)

var (
	defaultLogger Logger
	loggerMut     sync.Mutex

	// root owns the handler shared by every logger derived from the default
	// logger, so Init takes effect for loggers created before it ran.
	root = func() log15.Logger {
		l := log15.New()
		l.SetHandler(log15.StreamHandler(os.Stderr, log15.LogfmtFormat()))
		return l
	}()
)

type Logger interface {
	// New returns a new Logger that has this logger's context plus the given context
	New(ctx ...interface{}) Logger

	Debug(v ...interface{})
	Debugf(format string, v ...interface{})

	Error(v ...interface{})
	Errorf(format string, v ...interface{})

	Info(v ...interface{})
	Infof(format string, v ...interface{})

	Warning(v ...interface{})
	Warningf(format string, v ...interface{})

	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})

	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
}

func SetLogger(l Logger) {
	loggerMut.Lock()
	defer loggerMut.Unlock()
	defaultLogger = l
}

func GetLogger(ctx ...interface{}) Logger {
	loggerMut.Lock()
	if defaultLogger == nil {
		defaultLogger = Logger(&DefaultLogger{root.New("logger", "hotstuff")})
	}
	l := defaultLogger
	loggerMut.Unlock()

	if len(ctx) == 0 {
		return l
	}
	return l.New(ctx...)
}

// DefaultLogger is a default implementation of the Logger interface.
type DefaultLogger struct {
	log15.Logger
}

func (l *DefaultLogger) New(ctx ...interface{}) Logger {
	return &DefaultLogger{l.Logger.New(ctx...)}
}

func (l *DefaultLogger) Debug(v ...interface{}) {
	if len(v) > 0 {
		ctx := v[1:]
		l.Logger.Debug(fmt.Sprint(v[0]), ctx...)
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	l.Logger.Debug(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Error(v ...interface{}) {
	if len(v) > 0 {
		ctx := v[1:]
		l.Logger.Error(fmt.Sprint(v[0]), ctx...)
	}
}

func (l *DefaultLogger) Errorf(format string, v ...interface{}) {
	l.Logger.Error(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Info(v ...interface{}) {
	if len(v) > 0 {
		ctx := v[1:]
		l.Logger.Info(fmt.Sprint(v[0]), ctx...)
	}
}

func (l *DefaultLogger) Infof(format string, v ...interface{}) {
	l.Logger.Info(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Warning(v ...interface{}) {
	if len(v) > 0 {
		ctx := v[1:]
		l.Logger.Warn(fmt.Sprint(v[0]), ctx...)
	}
}

func (l *DefaultLogger) Warningf(format string, v ...interface{}) {
	l.Logger.Warn(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Fatal(v ...interface{}) {
	if len(v) > 0 {
		ctx := v[1:]
		l.Logger.Crit(fmt.Sprint(v[0]), ctx...)
	}
}

func (l *DefaultLogger) Fatalf(format string, v ...interface{}) {
	l.Logger.Crit(fmt.Sprintf(format, v...))
}

func (l *DefaultLogger) Panic(v ...interface{}) {
	panic(fmt.Sprint(v...))
}

func (l *DefaultLogger) Panicf(format string, v ...interface{}) {
	panic(fmt.Sprintf(format, v...))
}
