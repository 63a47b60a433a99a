// Package logging provides human-readable, timestamped logging for steptune.
//
// Every line goes to the console. While a supervisor attempt runs, lines are
// additionally appended to that attempt's own log file.
package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "[2006-01-02 15:04:05]"

// Sink builds loggers that share one console destination.
type Sink struct {
	cfg          Config
	level        zap.AtomicLevel
	encoder      zapcore.Encoder
	console      zapcore.WriteSyncer
	closeConsole func() error
}

// NewSink opens the console output described by cfg.
func NewSink(cfg *Config) (*Sink, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	console, closeConsole, err := getOutput(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("open log output: %w", err)
	}

	return &Sink{
		cfg:          *cfg,
		level:        zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
		encoder:      newEncoder(cfg.Format),
		console:      console,
		closeConsole: closeConsole,
	}, nil
}

// NewLogger creates a console-only logger with the given configuration.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	sink, err := NewSink(cfg)
	if err != nil {
		return nil, err
	}
	return sink.Logger(), nil
}

// Logger returns a console-only logger carrying fields.
func (s *Sink) Logger(fields ...zap.Field) *zap.Logger {
	core := zapcore.NewCore(s.encoder.Clone(), s.console, s.level)
	return zap.New(core).With(fields...)
}

// AttemptPath returns the log file path for a supervisor attempt.
func (s *Sink) AttemptPath(attempt int) string {
	pattern := s.cfg.FilePattern
	if pattern == "" {
		pattern = DefaultConfig().FilePattern
	}
	return filepath.Join(s.cfg.Dir, fmt.Sprintf(pattern, attempt))
}

// Attempt returns a logger that writes to the console and appends to the
// attempt's log file. The returned function syncs and closes the file.
func (s *Sink) Attempt(attempt int, fields ...zap.Field) (*zap.Logger, func() error, error) {
	path := s.AttemptPath(attempt)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open attempt log: %w", err)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(s.encoder.Clone(), s.console, s.level),
		zapcore.NewCore(s.encoder.Clone(), zapcore.AddSync(file), s.level),
	)
	logger := zap.New(core).With(fields...).With(zap.Int("attempt", attempt))

	closer := func() error {
		_ = logger.Sync()
		return file.Close()
	}
	return logger, closer, nil
}

// Close releases the console output if it is a file.
func (s *Sink) Close() error {
	_ = s.console.Sync()
	return s.closeConsole()
}

func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.MessageKey = "message"
		cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
		return zapcore.NewJSONEncoder(cfg)
	}

	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		StacktraceKey:    "stacktrace",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	})
}

type ctxLoggerKey struct{}

// WithContext returns a new context carrying the logger.
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return zap.NewNop()
}
