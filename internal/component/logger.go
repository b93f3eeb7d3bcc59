package component

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is the logging contract used throughout the decode chain.
type Logger interface {
	Log(sev Severity, msg string)
	Logf(sev Severity, format string, args ...interface{})
	Error(err error)
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
}

// StdLogger implements Logger on top of the standard library's *log.Logger,
// one instance per severity so each can carry its own prefix and
// destination stream.
type StdLogger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	minLevel   Severity
}

func NewStdLogger(minLevel Severity) *StdLogger {
	return NewStdLoggerWithWriter(os.Stdout, os.Stderr, minLevel)
}

func NewStdLoggerWithWriter(stdout, stderr io.Writer, minLevel Severity) *StdLogger {
	return &StdLogger{
		debugLog:   log.New(stdout, "DEBUG: ", log.Ltime|log.Lshortfile),
		infoLog:    log.New(stdout, "INFO: ", log.Ltime),
		warningLog: log.New(stdout, "WARNING: ", log.Ltime),
		errorLog:   log.New(stderr, "ERROR: ", log.Ltime|log.Lshortfile),
		minLevel:   minLevel,
	}
}

func (l *StdLogger) Log(sev Severity, msg string) {
	if sev > l.minLevel && l.minLevel != SevNone {
		return
	}
	switch sev {
	case SevDebug:
		l.debugLog.Output(2, msg)
	case SevInfo:
		l.infoLog.Output(2, msg)
	case SevWarn:
		l.warningLog.Output(2, msg)
	case SevError:
		l.errorLog.Output(2, msg)
	}
}

func (l *StdLogger) Logf(sev Severity, format string, args ...interface{}) {
	l.Log(sev, fmt.Sprintf(format, args...))
}

func (l *StdLogger) Error(err error) {
	if err != nil {
		l.Log(SevError, err.Error())
	}
}

func (l *StdLogger) Debug(msg string)   { l.Log(SevDebug, msg) }
func (l *StdLogger) Info(msg string)    { l.Log(SevInfo, msg) }
func (l *StdLogger) Warning(msg string) { l.Log(SevWarn, msg) }

// LogError and LogMessage satisfy the ErrorLog interface so a *StdLogger
// can be attached directly to any component's Base.
func (l *StdLogger) LogError(err *Error) { l.Error(err) }
func (l *StdLogger) LogMessage(sev Severity, msg string) { l.Log(sev, msg) }

// NoOpLogger discards everything; used in tests that don't care about
// log output.
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (l *NoOpLogger) Log(Severity, string)             {}
func (l *NoOpLogger) Logf(Severity, string, ...interface{}) {}
func (l *NoOpLogger) Error(error)                      {}
func (l *NoOpLogger) Debug(string)                     {}
func (l *NoOpLogger) Info(string)                      {}
func (l *NoOpLogger) Warning(string)                   {}
func (l *NoOpLogger) LogError(*Error)                  {}
func (l *NoOpLogger) LogMessage(Severity, string)      {}
