// Package logging builds the step's zap logger.
//
// Console output is rendered as workflow commands so the runner can fold debug
// lines and surface warnings/errors as annotations. An optional JSON log file
// (rotated by lumberjack) receives the same entries with full structure.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Standard field names for structured logging across the step.
const (
	FieldLanguage   = "language"
	FieldStage      = "stage"
	FieldStatus     = "status"
	FieldPath       = "path"
	FieldDurationMS = "duration_ms"
	FieldHTTPStatus = "http_status"
	FieldError      = "error"
)

type Options struct {
	// Out receives console output. Defaults to os.Stdout.
	Out io.Writer

	// Debug enables debug-level console output.
	Debug bool

	// Plain renders human-friendly colored lines instead of workflow commands
	// (used when not running on a hosted runner).
	Plain bool

	// File, when set, mirrors all entries as JSON into a rotated log file.
	File string
}

// New returns a sugared logger and a sync func to flush it before exit.
func New(opts Options) (*zap.SugaredLogger, func()) {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newCommandEncoder(opts.Plain), zapcore.AddSync(out), level),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    25,
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zapcore.DebugLevel))
	}

	l := zap.New(zapcore.NewTee(cores...)).Sugar()
	return l, func() { _ = l.Sync() }
}

// Nop returns a logger that discards everything; handy for tests and defaults.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
