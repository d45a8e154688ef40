package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger for one binary and returns it.
func Setup(service, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	if err != nil {
		zlog.Warn().Str("level", level).Msg("unknown log level, using info")
	}
	return zlog.Logger
}
