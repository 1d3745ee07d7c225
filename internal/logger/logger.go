package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging surface used across the module. Values are passed as
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
}

// Config selects level and writers for a zerolog-backed Logger.
type Config struct {
	Level   string
	Writers []string
	File    string
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to the configured sinks. "console" writes
// human-readable output to stderr, "file" appends JSON lines to a rotated
// log file.
func New(cfg Config) Logger {
	var sinks []io.Writer
	for _, w := range cfg.Writers {
		switch w {
		case "console":
			sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stderr})
		case "file":
			file := cfg.File
			if file == "" {
				file = "cdpdrive.log"
			}
			sinks = append(sinks, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    50,
				MaxBackups: 3,
				MaxAge:     28,
			})
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(level).
		With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { l.zl.Debug().Fields(kv).Msg(msg) }
func (l *zeroLogger) Info(msg string, kv ...any)  { l.zl.Info().Fields(kv).Msg(msg) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { l.zl.Warn().Fields(kv).Msg(msg) }
func (l *zeroLogger) Error(msg string, kv ...any) { l.zl.Error().Fields(kv).Msg(msg) }

func (l *zeroLogger) Err(err error, msg string, kv ...any) {
	l.zl.Error().Err(err).Fields(kv).Msg(msg)
}

type nopLogger struct{}

// NewNop returns a Logger that discards everything.
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)        {}
func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Warn(string, ...any)         {}
func (nopLogger) Error(string, ...any)        {}
func (nopLogger) Err(error, string, ...any)   {}
