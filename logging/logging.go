// Package logging builds the structured logger used by the goades tools.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/georgepadayatti/goades/config"
)

// Level maps a configured level name to a slog level. Unknown or empty
// names map to info.
func Level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger writing to the configured output. The returned
// closer releases the output file, if one was opened.
func New(conf *config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	if conf == nil {
		conf = &config.LoggingConfig{}
	}
	c := *conf
	c.SetDefaults()

	var w io.Writer
	var closer io.Closer = nopCloser{}
	switch c.Output {
	case "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log output: %w", err)
		}
		w = f
		closer = f
	}

	return NewWithWriter(w, &c), closer, nil
}

// NewWithWriter returns a logger writing to w in the configured format.
func NewWithWriter(w io.Writer, conf *config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(conf.Level)}
	var handler slog.Handler
	if strings.EqualFold(conf.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
