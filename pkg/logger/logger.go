// ==============================================================================
// LOGGER PACKAGE - pkg/logger/logger.go
// ==============================================================================
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type jsonLogger struct {
	logger zerolog.Logger
}

// New returns a JSON logger writing to stdout at info level.
func New(serviceName string) Logger {
	return NewWithLevel(serviceName, "info")
}

// NewWithLevel is New with an explicit minimum level (debug, info, warn, error).
func NewWithLevel(serviceName, level string) Logger {
	return newJSONLogger(os.Stdout, serviceName, level)
}

func newJSONLogger(w io.Writer, serviceName, level string) *jsonLogger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return &jsonLogger{
		logger: zerolog.New(w).Level(lvl).With().Timestamp().Str("service", serviceName).Logger(),
	}
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.logger.Info().Fields(fields).Msg(message)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.logger.Error().Fields(fields).Msg(message)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.logger.Warn().Fields(fields).Msg(message)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.logger.Debug().Fields(fields).Msg(message)
}

// Fatal logs and exits the process with status 1.
func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	l.logger.Fatal().Fields(fields).Msg(message)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
