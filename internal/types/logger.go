package types

import "log/slog"

// SlogAdapter wraps *slog.Logger to satisfy the Logger interface, whose With
// must return a Logger rather than *slog.Logger.
type SlogAdapter struct {
	L *slog.Logger
}

// NewSlogAdapter returns a Logger backed by l, or by slog.Default when l is nil.
func NewSlogAdapter(l *slog.Logger) *SlogAdapter {
	if l == nil {
		l = slog.Default()
	}
	return &SlogAdapter{L: l}
}

func (a *SlogAdapter) Info(msg string, args ...any)  { a.L.Info(msg, args...) }
func (a *SlogAdapter) Warn(msg string, args ...any)  { a.L.Warn(msg, args...) }
func (a *SlogAdapter) Error(msg string, args ...any) { a.L.Error(msg, args...) }

// With returns a child logger carrying the given attributes.
func (a *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{L: a.L.With(args...)}
}

// NopLogger discards everything. Useful as a default in constructors.
type NopLogger struct{}

func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
func (NopLogger) With(...any) Logger   { return NopLogger{} }
