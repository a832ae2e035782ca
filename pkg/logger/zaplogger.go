package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// ZapLogger adapts a sugared zap logger to Logger. Each method adds one
// frame, so the wrapped logger is built with a caller skip of one.
type ZapLogger struct {
	log *zap.SugaredLogger
}

// global holds two views of the same core: direct for methods called on a
// child logger, wrapped for the package-level helpers one frame further out.
type global struct {
	direct  *ZapLogger
	wrapped *ZapLogger
}

var current atomic.Pointer[global]

// NewLogger builds a logger from config and installs it as the package default.
func NewLogger(config zap.Config) (*ZapLogger, error) {
	base, err := config.Build()
	if err != nil {
		return nil, err
	}
	g := &global{
		direct:  &ZapLogger{log: base.WithOptions(zap.AddCallerSkip(1)).Sugar()},
		wrapped: &ZapLogger{log: base.WithOptions(zap.AddCallerSkip(2)).Sugar()},
	}
	if old := current.Swap(g); old != nil {
		_ = old.direct.log.Sync()
	}
	return g.direct, nil
}

// GetLogger returns the default logger for callers that hold it directly.
func GetLogger() *ZapLogger {
	return current.Load().direct
}

func wrapped() *ZapLogger {
	return current.Load().wrapped
}

func (l *ZapLogger) With(values ...any) Logger {
	return &ZapLogger{log: l.log.With(values...)}
}

// Named scopes entries under a dotted component name such as "audit.consumer".
func (l *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{log: l.log.Named(name)}
}

func (l *ZapLogger) Info(message string, values ...any) {
	l.log.Infow(message, values...)
}

func (l *ZapLogger) Warn(message string, values ...any) {
	l.log.Warnw(message, values...)
}

func (l *ZapLogger) Error(message string, values ...any) {
	l.log.Errorw(message, values...)
}

func (l *ZapLogger) Debug(message string, values ...any) {
	l.log.Debugw(message, values...)
}

func (l *ZapLogger) Panic(message string, values ...any) {
	l.log.Panicw(message, values...)
}

func (l *ZapLogger) Fatal(err error, values ...any) {
	l.log.Fatalw(err.Error(), values...)
}

// Printf lets fasthttp report server errors through zap.
func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}
