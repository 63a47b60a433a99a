package logging

import (
	"os"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format is the output format (console, json)
	Format string
	// Output is the console destination (stdout, stderr, or file path)
	Output string
	// Dir is where per-attempt log files are created
	Dir string
	// FilePattern names per-attempt log files; %d is the attempt number
	FilePattern string
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:       "info",
		Format:      "console",
		Output:      "stdout",
		Dir:         ".",
		FilePattern: "stepwise_search_log_%d.txt",
	}
}

// parseLevel converts a string log level to a zap level.
func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// getOutput returns a WriteSyncer for the given output destination and a
// function that releases it.
func getOutput(output string) (zapcore.WriteSyncer, func() error, error) {
	switch output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), func() error { return nil }, nil
	case "stderr":
		return zapcore.Lock(os.Stderr), func() error { return nil }, nil
	default:
		// Treat as file path
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return zapcore.Lock(file), file.Close, nil
	}
}
