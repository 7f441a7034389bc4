package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// logger is the shared zerolog instance for the application.
var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// Options mirrors the logger section of the configuration file.
type Options struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// InitLogger sets up zerolog writing to stdout and, when a file is configured,
// to a rolling file managed by lumberjack.
func InitLogger(opts Options) {
	writers := []io.Writer{os.Stdout}
	if opts.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Logger().
		Level(parseLevel(opts.Level))
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func emit(event *zerolog.Event, msg string, fields []any) {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok || fields[i+1] == nil {
			continue
		}
		if err, isErr := fields[i+1].(error); isErr {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// Debug logs a message with level "debug" and optional key-value fields.
func Debug(msg string, fields ...any) {
	emit(logger.Debug(), msg, fields)
}

// Info logs a message with level "info" and optional key-value fields.
func Info(msg string, fields ...any) {
	emit(logger.Info(), msg, fields)
}

// Warn logs a message with level "warn" and optional key-value fields.
func Warn(msg string, fields ...any) {
	emit(logger.Warn(), msg, fields)
}

// Error logs a message with level "error" and optional key-value fields.
func Error(msg string, fields ...any) {
	emit(logger.Error(), msg, fields)
}

// SetLogLevel updates the logger's minimum log level at runtime.
func SetLogLevel(level string) {
	logger = logger.Level(parseLevel(level))
}

// SetLoggerForTest replaces the global logger – for test purposes only.
func SetLoggerForTest(l zerolog.Logger) {
	logger = l
}

// Redact shortens a token so it can be logged without leaking the credential.
func Redact(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
