package logger

import (
	"github.com/sirupsen/logrus"

	"github.com/alexhholmes/bwtree"
)

// Logrus sends tree events to a logrus logger or entry.
type Logrus struct {
	logger logrus.FieldLogger
}

// NewLogrus accepts a *logrus.Logger or a *logrus.Entry; fields already set
// on an entry appear on every tree event.
func NewLogrus(logger logrus.FieldLogger) bwtree.Logger {
	return &Logrus{logger: logger}
}

func (l *Logrus) Error(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Error(msg)
}

func (l *Logrus) Warn(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Warn(msg)
}

func (l *Logrus) Info(msg string, args ...any) {
	l.logger.WithFields(fields(args)).Info(msg)
}

func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, (len(args)+1)/2)
	pairs(args, func(key string, value any) {
		f[key] = value
	})
	return f
}
