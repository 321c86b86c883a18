// SPDX-License-Identifier: MIT
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string (case-insensitive) to a LogLevel.
// Returns LevelInfo and false if the string is not recognized.
func ParseLevel(levelStr string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

var (
	currentLevel atomic.Uint32
	logger       = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)
	exit         = os.Exit
)

func init() {
	SetLevel(LevelInfo)
}

// SetLevel sets the global logging level atomically.
func SetLevel(level LogLevel) {
	currentLevel.Store(uint32(level))
}

// GetLevel gets the current global logging level atomically.
func GetLevel() LogLevel {
	return LogLevel(currentLevel.Load())
}

// SetOutput redirects all log output, e.g. to a buffer in tests or to a file
// while the terminal UI owns stderr.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// output writes one line. Levels are padded so messages line up.
func output(level LogLevel, msg string) {
	logger.Printf("[%-5s] %s", level, msg)
}

func Debugf(format string, v ...any) {
	if shouldLog(LevelDebug) {
		output(LevelDebug, fmt.Sprintf(format, v...))
	}
}

func Infof(format string, v ...any) {
	if shouldLog(LevelInfo) {
		output(LevelInfo, fmt.Sprintf(format, v...))
	}
}

func Warnf(format string, v ...any) {
	if shouldLog(LevelWarn) {
		output(LevelWarn, fmt.Sprintf(format, v...))
	}
}

func Errorf(format string, v ...any) {
	if shouldLog(LevelError) {
		output(LevelError, fmt.Sprintf(format, v...))
	}
}

// Fatalf always logs, regardless of level, and exits with status 1.
func Fatalf(format string, v ...any) {
	output(LevelFatal, fmt.Sprintf(format, v...))
	exit(1)
}

// Component prefixes every message with a component name, e.g.
// "FrameLoop: tick overran by 3ms".
type Component struct {
	prefix string
}

// For returns a logger for the named component.
func For(name string) Component {
	return Component{prefix: name + ": "}
}

func (c Component) Debugf(format string, v ...any) {
	if shouldLog(LevelDebug) {
		output(LevelDebug, c.prefix+fmt.Sprintf(format, v...))
	}
}

func (c Component) Infof(format string, v ...any) {
	if shouldLog(LevelInfo) {
		output(LevelInfo, c.prefix+fmt.Sprintf(format, v...))
	}
}

func (c Component) Warnf(format string, v ...any) {
	if shouldLog(LevelWarn) {
		output(LevelWarn, c.prefix+fmt.Sprintf(format, v...))
	}
}

func (c Component) Errorf(format string, v ...any) {
	if shouldLog(LevelError) {
		output(LevelError, c.prefix+fmt.Sprintf(format, v...))
	}
}
