// Package dsilog extends Go's logging with multiple independent sinks,
// each filtered at its own level, plus a scoped-trace helper standing in
// for the component-level TRC_SCOPE tracing of the original runtime.
//
// Call AddLogger to register one or more sinks, then use the package-level
// Debug/Info/Warn/Error/Fatal functions to fan a message out to every
// sink whose level permits it.
package dsilog

import (
	"fmt"
	"io"
	golog "log"
	"os"
	"strings"
	"sync"
)

type sink struct {
	*golog.Logger
	level   Level
	filters []string
}

var (
	sinks   = make(map[string]*sink)
	sinksMu sync.RWMutex
)

// AddLogger registers a named sink writing to output, filtered at level.
func AddLogger(name string, output io.Writer, level Level) {
	sinksMu.Lock()
	defer sinksMu.Unlock()

	sinks[name] = &sink{Logger: golog.New(output, "", golog.LstdFlags), level: level}
}

// DelLogger removes a previously registered sink.
func DelLogger(name string) {
	sinksMu.Lock()
	defer sinksMu.Unlock()

	delete(sinks, name)
}

// WillLog reports whether logging at level would reach at least one sink.
// Useful when the message itself is expensive to compute.
func WillLog(level Level) bool {
	sinksMu.RLock()
	defer sinksMu.RUnlock()

	for _, s := range sinks {
		if s.level <= level {
			return true
		}
	}
	return false
}

// AddFilter suppresses messages on logger name that contain substr.
func AddFilter(name, substr string) error {
	sinksMu.Lock()
	defer sinksMu.Unlock()

	s, ok := sinks[name]
	if !ok {
		return fmt.Errorf("dsilog: no such logger %v", name)
	}
	for _, f := range s.filters {
		if f == substr {
			return nil
		}
	}
	s.filters = append(s.filters, substr)
	return nil
}

func dispatch(level Level, format string, args ...interface{}) {
	sinksMu.RLock()
	defer sinksMu.RUnlock()

	var msg string
	for _, s := range sinks {
		if s.level > level {
			continue
		}
		if msg == "" {
			msg = prologue(level) + fmt.Sprintf(format, args...)
		}
		if filtered(s, msg) {
			continue
		}
		s.Logger.Println(msg)
	}
}

func prologue(level Level) string {
	switch level {
	case DEBUG:
		return "DEBUG "
	case INFO:
		return "INFO "
	case WARN:
		return "WARN "
	case ERROR:
		return "ERROR "
	default:
		return "FATAL "
	}
}

func filtered(s *sink, msg string) bool {
	for _, f := range s.filters {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

func Debug(format string, args ...interface{}) { dispatch(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { dispatch(INFO, format, args...) }
func Warn(format string, args ...interface{})  { dispatch(WARN, format, args...) }
func Error(format string, args ...interface{}) { dispatch(ERROR, format, args...) }

// Fatal logs at FATAL and terminates the process with exit status 1.
func Fatal(format string, args ...interface{}) {
	dispatch(FATAL, format, args...)
	os.Exit(1)
}

func Debugln(args ...interface{}) { dispatch(DEBUG, "%s", fmt.Sprint(args...)) }
func Infoln(args ...interface{})  { dispatch(INFO, "%s", fmt.Sprint(args...)) }
func Warnln(args ...interface{})  { dispatch(WARN, "%s", fmt.Sprint(args...)) }
func Errorln(args ...interface{}) { dispatch(ERROR, "%s", fmt.Sprint(args...)) }

// Scope logs entry at DEBUG and returns a function that logs exit; callers
// defer the returned function. This is the runtime's substitute for the
// original TRC_SCOPE macro family, which bracketed a component/method pair
// on every call.
func Scope(component, name string) func() {
	if !WillLog(DEBUG) {
		return func() {}
	}
	Debug("%s.%s: enter", component, name)
	return func() {
		Debug("%s.%s: exit", component, name)
	}
}
