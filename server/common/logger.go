package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Log sink
// --------------------------------------------------------------------------

// logSink serializes the lines of all package loggers of one process.
// The pid column tells lines of forked workers apart, they share the parent's stdout.
type logSink struct {
	mu  sync.Mutex
	w   io.Writer
	pid int
}

var sink = &logSink{w: os.Stdout, pid: os.Getpid()}

// SetLogOutput redirects every package logger, nil restores stdout
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.w = w
}

func (s *logSink) writeLine(tag, pkg, msg string) {
	ts := time.Now().Format("2006/01/02 15:04:05.000")
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "%s %-5s | %-6d | %-8s | %s\n", ts, tag, s.pid, pkg, strings.TrimRight(msg, "\n"))
}

// --------------------------------------------------------------------------
// Package logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

var levelTags = map[logger.LogLevel]string{
	logger.CRITICAL: "CRIT",
	logger.ERROR:    "ERROR",
	logger.WARNING:  "WARN",
	logger.INFO:     "INFO",
	logger.DEBUG:    "DEBUG",
}

// packageLogger is the logger of one package. SetLevel may race with logging calls.
type packageLogger struct {
	pkg   string
	level atomic.Int32
}

func (l *packageLogger) SetLevel(level logger.LogLevel) { l.level.Store(int32(level)) }

func (l *packageLogger) Debugf(format string, args ...interface{}) {
	l.logf(logger.DEBUG, format, args...)
}

func (l *packageLogger) Infof(format string, args ...interface{}) {
	l.logf(logger.INFO, format, args...)
}

func (l *packageLogger) Warningf(format string, args ...interface{}) {
	l.logf(logger.WARNING, format, args...)
}

func (l *packageLogger) Errorf(format string, args ...interface{}) {
	l.logf(logger.ERROR, format, args...)
}

// Panicf always logs, whatever the level, then panics with the message
func (l *packageLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	sink.writeLine(levelTags[logger.CRITICAL], l.pkg, msg)
	panic(msg)
}

func (l *packageLogger) logf(level logger.LogLevel, format string, args ...interface{}) {
	if level > logger.LogLevel(l.level.Load()) {
		return
	}
	sink.writeLine(levelTags[level], l.pkg, fmt.Sprintf(format, args...))
}

// CreateLogger is the logger.Factory of this module, new loggers start at INFO
func CreateLogger(pkgName string) logger.ILogger {
	l := &packageLogger{pkg: pkgName}
	l.SetLevel(logger.INFO)
	return l
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

var levelNames = map[string]logger.LogLevel{
	"debug":   logger.DEBUG,
	"info":    logger.INFO,
	"warn":    logger.WARNING,
	"warning": logger.WARNING,
	"error":   logger.ERROR,
}

// ParseLogLevel converts a level name (case-insensitive) to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lvl, nil
	}
	return logger.INFO, fmt.Errorf("invalid log level %q, must be one of debug, info, warn, error", level)
}

// PackageLoggers are the names of all loggers owned by this module
var PackageLoggers = []string{"socket", "channel", "rio", "dispatch", "client", "metrics"}

// InitLoggers installs CreateLogger as factory and sets the level of every package logger
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)
	for _, name := range PackageLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
