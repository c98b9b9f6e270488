package zapimpl

import (
	"go.uber.org/zap"

	"github.com/ringmr/ringmr/internal/logger"
)

// Adapter satisfies logger.Logger on top of a *zap.Logger.
type Adapter struct {
	l *zap.Logger
}

// NewAdapter wraps l, skipping one extra frame so callers see their own
// call site rather than this file.
func NewAdapter(l *zap.Logger) Adapter {
	return Adapter{l: l.WithOptions(zap.AddCallerSkip(1))}
}

func (a Adapter) With(fields ...logger.Field) logger.Logger {
	return Adapter{l: a.l.With(toZap(fields)...)}
}

func (a Adapter) Named(name string) logger.Logger {
	return Adapter{l: a.l.Named(name)}
}

func (a Adapter) Debug(msg string, fields ...logger.Field) {
	if ce := a.l.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (a Adapter) Info(msg string, fields ...logger.Field) {
	if ce := a.l.Check(zap.InfoLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (a Adapter) Warn(msg string, fields ...logger.Field) {
	if ce := a.l.Check(zap.WarnLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func (a Adapter) Error(msg string, fields ...logger.Field) {
	if ce := a.l.Check(zap.ErrorLevel, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

func toZap(fs []logger.Field) []zap.Field {
	if len(fs) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fs))
	for _, f := range fs {
		out = append(out, zap.Any(f.Key, f.Val))
	}
	return out
}
