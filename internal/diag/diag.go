// Package diag provides the diagnostic sink injected into every engine
// component. Components never log through ambient global state; they receive
// a Sink at construction and thread the verbosity flag explicitly.
package diag

import (
	"fmt"
	"log/slog"
	"os"
)

// Sink receives diagnostic output from engine components.
type Sink interface {
	// Debugf logs verbose diagnostics. Only emitted when Verbose() is true.
	Debugf(format string, args ...any)
	// Infof logs normal operational messages.
	Infof(format string, args ...any)
	// Warnf logs recoverable problems (dropped protocol lines, missed probes).
	Warnf(format string, args ...any)
	// Errorf logs failures surfaced to the caller.
	Errorf(format string, args ...any)
	// Verbose reports whether verbose diagnostics are enabled.
	Verbose() bool
}

// slogSink writes to stderr through slog, keeping diagnostics out of the
// protocol streams on stdout.
type slogSink struct {
	logger  *slog.Logger
	verbose bool
}

// New returns a Sink backed by slog writing to stderr.
func New(verbose bool) Sink {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogSink{logger: slog.New(handler), verbose: verbose}
}

func (s *slogSink) Debugf(format string, args ...any) {
	if !s.verbose {
		return
	}
	s.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *slogSink) Infof(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

func (s *slogSink) Warnf(format string, args ...any) {
	s.logger.Warn(fmt.Sprintf(format, args...))
}

func (s *slogSink) Errorf(format string, args ...any) {
	s.logger.Error(fmt.Sprintf(format, args...))
}

func (s *slogSink) Verbose() bool { return s.verbose }

// discardSink drops everything. Used by tests and as a default when no sink
// is supplied.
type discardSink struct{}

// Discard returns a Sink that drops all output.
func Discard() Sink { return discardSink{} }

func (discardSink) Debugf(string, ...any) {}
func (discardSink) Infof(string, ...any)  {}
func (discardSink) Warnf(string, ...any)  {}
func (discardSink) Errorf(string, ...any) {}
func (discardSink) Verbose() bool         { return false }
