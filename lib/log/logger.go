package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	TRACE LogLevel = 5
	DEBUG LogLevel = 10
	INFO  LogLevel = 20
	WARN  LogLevel = 30
	ERROR LogLevel = 40
)

var prefixes = map[LogLevel]string{
	TRACE: "TRACE ",
	DEBUG: "DEBUG ",
	INFO:  "INFO  ",
	WARN:  "WARN  ",
	ERROR: "ERROR ",
}

var (
	mu       sync.RWMutex
	loggers  map[LogLevel]*log.Logger
	minLevel LogLevel = TRACE

	// file currently written to, nil when logging to stdout or disabled
	logfile *os.File
)

// Init (re)configures the global loggers. A nil file disables logging. When
// useStdout is set, the file is never closed by a subsequent Init.
func Init(file *os.File, useStdout bool, level LogLevel) error {
	mu.Lock()
	defer mu.Unlock()

	if logfile != nil {
		if err := logfile.Close(); err != nil {
			return err
		}
		logfile = nil
	}
	loggers = nil
	minLevel = level

	if file == nil {
		return nil
	}
	if !useStdout {
		logfile = file
	}
	setOutput(file)
	return nil
}

func setOutput(w io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	loggers = make(map[LogLevel]*log.Logger, len(prefixes))
	for level, prefix := range prefixes {
		loggers[level] = log.New(w, prefix, flags)
	}
}

func ParseLevel(value string) (LogLevel, error) {
	switch strings.ToLower(value) {
	case "trace":
		return TRACE, nil
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "err", "error":
		return ERROR, nil
	}
	return 0, fmt.Errorf("%s: invalid log level", value)
}

func ErrorLogger() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := loggers[ERROR]; ok {
		return l
	}
	return log.New(io.Discard, "", log.LstdFlags)
}

type Logger interface {
	Tracef(string, ...any)
	Debugf(string, ...any)
	Infof(string, ...any)
	Warnf(string, ...any)
	Errorf(string, ...any)
}

type logger struct {
	name      string
	calldepth int
}

// NewLogger returns a Logger that prefixes every message with [name].
func NewLogger(name string, calldepth int) Logger {
	return &logger{name: name, calldepth: calldepth}
}

func (l *logger) output(level LogLevel, message string, args ...any) {
	mu.RLock()
	out, ok := loggers[level]
	enabled := ok && minLevel <= level
	mu.RUnlock()
	if !enabled {
		return
	}
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	if l.name != "" {
		message = fmt.Sprintf("[%s] %s", l.name, message)
	}
	out.Output(l.calldepth+1, message) //nolint:errcheck // we can't do anything with what we log
}

func (l *logger) Tracef(message string, args ...any) {
	l.output(TRACE, message, args...)
}

func (l *logger) Debugf(message string, args ...any) {
	l.output(DEBUG, message, args...)
}

func (l *logger) Infof(message string, args ...any) {
	l.output(INFO, message, args...)
}

func (l *logger) Warnf(message string, args ...any) {
	l.output(WARN, message, args...)
}

func (l *logger) Errorf(message string, args ...any) {
	l.output(ERROR, message, args...)
}

var root = logger{calldepth: 3}

func Tracef(message string, args ...any) {
	root.Tracef(message, args...)
}

func Debugf(message string, args ...any) {
	root.Debugf(message, args...)
}

func Infof(message string, args ...any) {
	root.Infof(message, args...)
}

func Warnf(message string, args ...any) {
	root.Warnf(message, args...)
}

func Errorf(message string, args ...any) {
	root.Errorf(message, args...)
}
