package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// Logger provides color-coded leveled console logging
type Logger struct {
	Verbose bool
	Quiet   bool
	NoColor bool

	out    io.Writer
	prefix string

	info    *color.Color
	success *color.Color
	warning *color.Color
	errc    *color.Color
	debug   *color.Color
}

// NewLogger creates a new logger writing to stderr
func NewLogger(verbose, quiet, noColor bool) *Logger {
	return NewLoggerTo(os.Stderr, verbose, quiet, noColor)
}

// NewLoggerTo creates a new logger writing to w
func NewLoggerTo(w io.Writer, verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
		out:     w,
		info:    color.New(color.FgBlue),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		errc:    color.New(color.FgRed),
		debug:   color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{l.info, l.success, l.warning, l.errc, l.debug} {
			c.DisableColor()
		}
	}
	return l
}

// Scope returns a logger that tags every line with name and a fresh run id.
// Used to keep the output of one workflow run distinguishable.
func (l *Logger) Scope(name string) *Logger {
	scoped := *l
	scoped.prefix = fmt.Sprintf("[%s %s] ", name, uuid.NewString()[:8])
	return &scoped
}

// Writer returns the destination of log output
func (l *Logger) Writer() io.Writer {
	return l.out
}

func (l *Logger) emit(c *color.Color, level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(l.out, c.Sprint(level+" "+l.prefix+msg))
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.emit(l.info, "[INFO]", format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.emit(l.success, "[SUCCESS]", format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.emit(l.warning, "[WARNING]", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.emit(l.errc, "[ERROR]", format, args...)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.emit(l.debug, "[DEBUG]", format, args...)
}
