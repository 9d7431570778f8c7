package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	decoder "github.com/parity-daq/decoder_go/pkg"
	"go.uber.org/zap"
)

// Logger sends info to stdout in the short text format and errors to
// stderr as JSON.
type Logger struct {
	InfoLog  *slog.Logger
	ErrorLog *slog.Logger
}

func NewSlogLogger(verbosity int) Logger {
	level := slog.LevelInfo
	if verbosity > 1 {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	return Logger{
		InfoLog:  slog.New(NewHandler(os.Stdout, opts)),
		ErrorLog: slog.New(slog.NewJSONHandler(os.Stderr, opts)),
	}
}

func (l Logger) Info(message string, module string) {
	l.InfoLog.Info(message, "module", module)
}

func (l Logger) Warning(message string, module string) {
	l.InfoLog.Warn(message, "module", module)
}

func (l Logger) Error(message string) {
	l.ErrorLog.Error(message)
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newZapLogger(verbosity int) (*zapLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbosity > 1 {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("error building zap logger: %w", err)
	}
	return &zapLogger{sugar: base.Sugar()}, nil
}

func (z *zapLogger) Info(message string, module string) {
	z.sugar.Infow(message, "module", module)
}

func (z *zapLogger) Warning(message string, module string) {
	z.sugar.Warnw(message, "module", module)
}

func (z *zapLogger) Error(message string) {
	z.sugar.Error(message)
}

func (z *zapLogger) Sync() error { return z.sugar.Sync() }

// newLogger picks the backend named by the configuration: "slog" (the
// default) or "zap".
func newLogger(backend string, verbosity int) (decoder.Logger, func(), error) {
	switch strings.ToLower(backend) {
	case "", "slog":
		return NewSlogLogger(verbosity), func() {}, nil
	case "zap":
		z, err := newZapLogger(verbosity)
		if err != nil {
			return nil, nil, err
		}
		return z, func() { _ = z.Sync() }, nil
	}
	return nil, nil, fmt.Errorf("unknown logger backend %q, want slog or zap", backend)
}
