package logger

import (
	"os"

	"go.uber.org/zap"
)

type Logger interface {
	Info(msg string, values ...any)
	Warn(msg string, values ...any)
	Error(msg string, values ...any)
	Debug(msg string, values ...any)
	Panic(message string, values ...any)
	Fatal(error error, values ...any)
	Printf(format string, args ...interface{})
	With(values ...any) Logger
}

func init() {
	if _, err := NewLogger(configFor(os.Getenv("LOG_ENV"), "")); err != nil {
		panic(err)
	}
}

// Init rebuilds the global logger once the application config is known.
// env "production" switches to JSON output; level is a zap level name.
func Init(env string, level string) error {
	_, err := NewLogger(configFor(env, level))
	return err
}

func configFor(env string, level string) zap.Config {
	var config zap.Config
	if env == "production" || env == "prod" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}
	if level != "" {
		if lvl, err := zap.ParseAtomicLevel(level); err == nil {
			config.Level = lvl
		}
	}
	return config
}

func Info(msg string, values ...any) {
	wrapped().Info(msg, values...)
}

func Warn(msg string, values ...any) {
	wrapped().Warn(msg, values...)
}

func Error(msg string, values ...any) {
	wrapped().Error(msg, values...)
}

func Debug(msg string, values ...any) {
	wrapped().Debug(msg, values...)
}

func Panic(msg string, values ...any) {
	wrapped().Panic(msg, values...)
}

func Fatal(error error, values ...any) {
	wrapped().Fatal(error, values...)
}

// With returns a child logger that carries the given key/value pairs on every entry.
func With(values ...any) Logger {
	return GetLogger().With(values...)
}

// Named returns a child logger scoped to a component.
func Named(name string) Logger {
	return GetLogger().Named(name)
}

func Sync() {
	_ = GetLogger().Sync()
}
