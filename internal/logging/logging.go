// Package logging builds the zap logger used throughout the service.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level, console encoding and an optional rotated log file.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	File   string // empty disables file output
}

// New builds a logger writing to stdout and, when opts.File is set, to a
// rotated JSON file. Standard library log output is redirected into it so
// chromedp and net/http messages end up in the same stream.
func New(opts Options) *zap.Logger {
	logger, _ := newLogger(opts, zapcore.Lock(os.Stdout))
	return logger
}

// newLogger also returns the function that undoes the standard library
// redirection.
func newLogger(opts Options, console zapcore.WriteSyncer) (*zap.Logger, func()) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder(opts.Format), console, level)}

	if opts.File != "" {
		file := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(encoder("json"), file, level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named("pimbl")
	restore := zap.RedirectStdLog(logger)
	return logger, restore
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")

	if format == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}

	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(cfg)
}
