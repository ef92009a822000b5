package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger. Development gets a console writer and debug level.
func New(appEnv, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, appEnv, level)
}

func NewWithWriter(w io.Writer, appEnv, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
		if appEnv == "development" {
			lvl = zerolog.DebugLevel
		}
	}

	if appEnv == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// Component tags a child logger with the owning component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// AsynqLogger adapts zerolog to asynq's Logger interface.
type AsynqLogger struct {
	L zerolog.Logger
}

func (a AsynqLogger) Debug(args ...any) { a.L.Debug().Msg(fmt.Sprint(args...)) }
func (a AsynqLogger) Info(args ...any)  { a.L.Info().Msg(fmt.Sprint(args...)) }
func (a AsynqLogger) Warn(args ...any)  { a.L.Warn().Msg(fmt.Sprint(args...)) }
func (a AsynqLogger) Error(args ...any) { a.L.Error().Msg(fmt.Sprint(args...)) }
func (a AsynqLogger) Fatal(args ...any) { a.L.Fatal().Msg(fmt.Sprint(args...)) }
