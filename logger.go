package bwtree

// Logger receives the tree's diagnostic events: root growth, failed or
// abandoned structure changes, flush hook panics and corruption. Arguments
// are alternating key/value pairs, so *slog.Logger satisfies it as is.
// Package logger adapts zap and logrus.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
}

// DiscardLogger drops every event. It is the default.
type DiscardLogger struct{}

func (d DiscardLogger) Error(string, ...any) {}

func (d DiscardLogger) Warn(string, ...any) {}

func (d DiscardLogger) Info(string, ...any) {}
