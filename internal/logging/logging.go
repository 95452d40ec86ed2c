// Package logging configures the process-wide slog logger, backed by zerolog.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

const DefaultLogLevel = slog.LevelInfo

// ParseLogLevel will convert the slog level configuration to slog.Level values.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch {
	case strings.EqualFold(levelStr, slog.LevelDebug.String()):
		return slog.LevelDebug, nil
	case strings.EqualFold(levelStr, slog.LevelInfo.String()):
		return slog.LevelInfo, nil
	case strings.EqualFold(levelStr, slog.LevelWarn.String()):
		return slog.LevelWarn, nil
	case strings.EqualFold(levelStr, slog.LevelError.String()):
		return slog.LevelError, nil
	}

	return DefaultLogLevel, fmt.Errorf("unknown level string: '%s', defaulting to LevelInfo", levelStr)
}

// NewLogger returns a slog logger writing to out through zerolog. When json is
// false the output is the human readable console format.
func NewLogger(out io.Writer, level slog.Level, json bool) *slog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	//nolint
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	var writer io.Writer = out
	if !json {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.StampMicro,
		}
	}

	zerologLogger := zerolog.New(writer).
		With().
		Timestamp().
		Stack().
		Logger()

	return slog.New(
		slogzerolog.Option{
			Level:  level,
			Logger: &zerologLogger,
		}.NewZerologHandler(),
	)
}

// ConfigureLogger installs a zerolog backed logger writing to out as the slog
// default and returns it.
func ConfigureLogger(out io.Writer, level slog.Level, json bool) *slog.Logger {
	logger := NewLogger(out, level, json)
	slog.SetDefault(logger)
	return logger
}
