// Package logger provides context-aware structured logging built on logrus.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// G retrieves the logger attached to a context, falling back to L.
	G = FromContext
	// L is the process-wide fallback logger entry.
	L = logrus.NewEntry(newLogger())
)

type ctxKey struct{}

// WithLogger returns a context carrying the given logger entry.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry.WithContext(ctx))
}

// FromContext returns the logger entry stored in ctx, or L if none is set.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L.WithContext(ctx)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	applyFormat(l, "text")
	return l
}

func applyFormat(l *logrus.Logger, format string) {
	switch format {
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		}
	default:
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat: time.RFC3339Nano,
			FullTimestamp:   true,
		}
	}
}

// SetLevel sets the level of the fallback logger. Invalid levels are an error.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(parsed)
	return nil
}

// SetFormat switches the fallback logger between "text" and "json" output.
func SetFormat(format string) {
	applyFormat(L.Logger, format)
}

// SetOutput redirects the fallback logger's output.
func SetOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
