package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Config mirrors the LOG_* settings of the service.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Output is stdout, stderr or a file opened for appending.
	Output string `yaml:"output"`
}

// DefaultConfig logs JSON at info to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: string(JSONFormat),
		Output: "stderr",
	}
}

// NewLogger builds a Logger from cfg. Empty fields fall back to
// DefaultConfig; unknown levels and formats are errors.
func NewLogger(cfg *Config) (*Logger, error) {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.Level == "" {
		c.Level = def.Level
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.Output == "" {
		c.Output = def.Output
	}

	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format := Format(strings.ToLower(c.Format))
	if format != JSONFormat && format != TextFormat {
		return nil, fmt.Errorf("logging: unknown format %q", c.Format)
	}
	output, err := openOutput(c.Output)
	if err != nil {
		return nil, err
	}
	return NewWithFormat(level, format, output), nil
}

func parseLevel(level string) (LogLevel, error) {
	l := LogLevel(strings.ToUpper(level))
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("logging: unknown level %q", level)
	}
	return l, nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", output, err)
	}
	return f, nil
}
