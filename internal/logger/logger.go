// Package logger is a small zap wrapper. The construction and call idiom
// (New, WithServiceName, OnExit) mirrors the way this codebase's
// pipelines use a service-scoped sugared logger: one cheap struct passed
// down a constructor chain rather than a package-global.
package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared logging handle used by the save and load
// pipelines.
type Logger struct {
	sugar *zap.SugaredLogger
}

var (
	initOnce sync.Once
	base     *zap.Logger
)

func bootstrap() {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		// Fall back to a no-op core rather than panic: logging must never
		// be the reason a save or load fails.
		l = zap.NewNop()
	}
	base = l
}

// New returns a Logger scoped to the given service/component name. Pass
// "NOOP" in tests that don't want log noise.
func New(service string) Logger {
	initOnce.Do(bootstrap)
	if service == "NOOP" {
		return Logger{sugar: zap.NewNop().Sugar()}
	}
	return Logger{sugar: base.Sugar().With("service", service)}
}

// WithServiceName returns a derived Logger tagged with an additional
// component name, for sub-stages of a pipeline (e.g. "save.pipeline",
// "save.pipeline.stream").
func (l Logger) WithServiceName(component string) Logger {
	if l.sugar == nil {
		return New(component)
	}
	return Logger{sugar: l.sugar.With("component", component)}
}

func (l Logger) Debugf(format string, args ...any) { l.safe().Debugf(format, args...) }
func (l Logger) Infof(format string, args ...any)  { l.safe().Infof(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.safe().Warnf(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.safe().Errorf(format, args...) }

func (l Logger) safe() *zap.SugaredLogger {
	if l.sugar == nil {
		return zap.NewNop().Sugar()
	}
	return l.sugar
}

// OnExit flushes any buffered log entries. Callers defer this once from
// main, and tests may call it to avoid noisy "sync /dev/stdout" errors on
// process exit.
func OnExit() {
	if base == nil {
		return
	}
	_ = base.Sync()
}
