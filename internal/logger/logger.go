package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"comment-moderation/config"
)

type Logger struct {
	*zap.Logger
}

func NewLogger(cfg *config.LogConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}

	// Set up log level
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	writer, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, writer, zap.NewAtomicLevelAt(level))

	return &Logger{
		Logger: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)),
	}, nil
}

// newWriter picks stdout, stderr or a rotated log file.
func newWriter(cfg *config.LogConfig) (zapcore.WriteSyncer, error) {
	switch cfg.OutputPath {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if dir := filepath.Dir(cfg.OutputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}), nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Fatal logs a message at Fatal level and exits the program
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.Logger.Sugar().Fatalw(msg, args...)
}

// Error logs a message at Error level
func (l *Logger) Error(msg string, args ...interface{}) {
	l.Logger.Sugar().Errorw(msg, args...)
}

// Warn logs a message at Warn level
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.Logger.Sugar().Warnw(msg, args...)
}

// Info logs a message at Info level
func (l *Logger) Info(msg string, args ...interface{}) {
	l.Logger.Sugar().Infow(msg, args...)
}

// Debug logs a message at Debug level
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.Logger.Sugar().Debugw(msg, args...)
}

// With returns a child logger that adds the key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.Sugar().With(args...).Desugar()}
}
