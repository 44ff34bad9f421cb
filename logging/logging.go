// Package logging builds the zerolog logger used across substrate and
// provides correlation tagging and secret redaction helpers.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/chanuka/substrate/correlation"
)

// Config defines logger behavior.
type Config struct {
	// Level is one of debug, info, warn, error. Empty defaults to info.
	Level string `yaml:"level"`

	// Format is one of json, console, pretty. Empty auto-detects: pretty
	// when the output is a terminal, JSON otherwise.
	Format string `yaml:"format"`

	// Output is stdout, stderr, or a file path. Empty defaults to stdout.
	Output string `yaml:"output"`

	// Pretty forces human-readable console output regardless of Format.
	Pretty bool `yaml:"pretty"`
}

// Output format names accepted in Config.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatPretty  = "pretty"
)

// ParseLevel maps a level string to a zerolog level. Empty defaults to info;
// unknown values are an error so validation can surface them.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}

// ParseLevel maps the configured level string to a zerolog level.
// Unknown or empty values default to info.
func (c Config) ParseLevel() zerolog.Level {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// New creates a zerolog.Logger from Config.
func New(cfg Config) (zerolog.Logger, error) {
	output, outputFile, err := selectOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, err
	}

	if shouldUsePretty(cfg, outputFile) {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(output).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger()

	return logger, nil
}

// selectOutput returns the writer and file handle for the output setting.
func selectOutput(outputCfg string) (io.Writer, *os.File, error) {
	switch outputCfg {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	default:
		outputCfg = filepath.Clean(outputCfg)
		f, err := os.OpenFile(outputCfg, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open output file: %w", err)
		}
		return f, f, nil
	}
}

// shouldUsePretty determines whether console formatting should be used.
func shouldUsePretty(cfg Config, outputFile *os.File) bool {
	if cfg.Pretty {
		return true
	}
	switch cfg.Format {
	case FormatPretty, FormatConsole:
		return true
	case FormatJSON:
		return false
	default:
		return outputFile != nil && isatty.IsTerminal(outputFile.Fd())
	}
}

// secretKeyFragments flags metadata keys whose values must never be logged raw.
var secretKeyFragments = []string{
	"password", "secret", "token", "api_key", "apikey", "authorization", "credential",
}

// Redact returns a copy of the metadata map with secret-like values masked.
// Use this before attaching request metadata to a log event.
func Redact(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return metadata
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if isSecretKey(k) {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// WithCorrelation returns a logger tagged with the correlation id on ctx.
// When no correlation context is established the logger is returned as-is.
func WithCorrelation(ctx context.Context, log zerolog.Logger) zerolog.Logger {
	if id := correlation.ID(ctx); id != "" {
		return log.With().Str("correlation_id", id).Logger()
	}
	return log
}
