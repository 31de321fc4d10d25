package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger tags every line with a component name, e.g. "[session/host]".
// The zero value logs without a tag.
type Logger struct {
	tag string
}

// Tagged returns a Logger that prefixes its output with tag.
func Tagged(tag string) Logger {
	return Logger{tag: tag}
}

func (l Logger) format(format string) string {
	if l.tag == "" {
		return format
	}
	return "[" + l.tag + "] " + format
}

func (l Logger) Debug(format string, args ...interface{}) { LogDebug(l.format(format), args...) }
func (l Logger) Info(format string, args ...interface{})  { LogInfo(l.format(format), args...) }
func (l Logger) Warn(format string, args ...interface{})  { LogWarning(l.format(format), args...) }
func (l Logger) Error(format string, args ...interface{}) { LogError(l.format(format), args...) }
