package logging

import (
	"fmt"
	"os"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the zap-backed Logger: level, encoding, output
// sink, and the lumberjack rotation knobs for file sinks.
type Config struct {
	Active     bool   `yaml:"active"`
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`    // "json" or "console"
	OutputPath string `yaml:"output_path"` // "stdout" or a file path
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// New builds a *zap.Logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.OutputPath == "" || cfg.OutputPath == "stdout" {
		sink = zapcore.Lock(os.Stdout)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.OutputPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

// zapAdapter wraps a *zap.Logger behind the Logger interface.
type zapAdapter struct {
	z *zap.Logger
}

// NewZapAdapter wraps an existing *zap.Logger.
func NewZapAdapter(z *zap.Logger) Logger {
	return &zapAdapter{z: z}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

func (a *zapAdapter) Debug(msg string, fields ...Field) { a.z.Debug(msg, toZapFields(fields)...) }
func (a *zapAdapter) Info(msg string, fields ...Field)  { a.z.Info(msg, toZapFields(fields)...) }
func (a *zapAdapter) Warn(msg string, fields ...Field)  { a.z.Warn(msg, toZapFields(fields)...) }
func (a *zapAdapter) Error(msg string, fields ...Field) { a.z.Error(msg, toZapFields(fields)...) }

func (a *zapAdapter) Named(name string) Logger {
	return &zapAdapter{z: a.z.Named(name)}
}

func (a *zapAdapter) With(fields ...Field) Logger {
	return &zapAdapter{z: a.z.With(toZapFields(fields)...)}
}

// Sync flushes any buffered log entries.
func (a *zapAdapter) Sync() error { return a.z.Sync() }
