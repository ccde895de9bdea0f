package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel = "COBSDAQ_LOG_LEVEL"
	EnvLogJSON  = "COBSDAQ_LOG_JSON"
)

// LogConfig selects level and encoding for the process logger.
type LogConfig struct {
	Level string
	JSON  bool
}

// InitLogger builds the process logger and installs it as the zerolog global.
// Environment variables override the configured level and encoding.
func InitLogger(app string, out io.Writer, cfg LogConfig) zerolog.Logger {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogJSON)); v == "1" || strings.EqualFold(v, "true") {
		cfg.JSON = true
	}

	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	logger := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
