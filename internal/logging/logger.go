// Package logging adapts zerolog to the key-value Logger interface used by
// the diarization engine and the websocket transport.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration
type Config struct {
	Level     LogLevel  // Minimum log level (default: info)
	Pretty    bool      // Human readable console output instead of JSON
	Output    io.Writer // Destination (default: stderr)
	Component string    // Added to every entry when set
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Logger wraps zerolog with the Debug/Info/Warn/Error(msg, keyvals...)
// calling convention.
type Logger struct {
	zlog zerolog.Logger
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch LogLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return &Logger{zlog: ctx.Logger()}
}

// With returns a child logger that adds the key-value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	ctx := l.zlog.With()
	for i := 0; i < len(args); i += 2 {
		key, val := pair(args, i)
		ctx = ctx.Interface(key, val)
	}
	return &Logger{zlog: ctx.Logger()}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(l.zlog.Debug(), msg, args)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(l.zlog.Info(), msg, args)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(l.zlog.Warn(), msg, args)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(l.zlog.Error(), msg, args)
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

func (l *Logger) log(ev *zerolog.Event, msg string, args []interface{}) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, val := pair(args, i)
		switch v := val.(type) {
		case error:
			ev = ev.AnErr(key, v)
		case fmt.Stringer:
			ev = ev.Stringer(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func pair(args []interface{}, i int) (string, interface{}) {
	if i+1 >= len(args) {
		return "!BADKEY", args[i]
	}
	key, ok := args[i].(string)
	if !ok {
		key = fmt.Sprint(args[i])
	}
	return key, args[i+1]
}

// Printf adapts the logger to printf-style interfaces such as badger.Logger.
// Badger's info chatter is logged at debug level.
func (l *Logger) Printf() *PrintfLogger {
	return &PrintfLogger{l: l}
}

type PrintfLogger struct {
	l *Logger
}

func (p *PrintfLogger) Errorf(format string, args ...interface{}) {
	p.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (p *PrintfLogger) Warningf(format string, args ...interface{}) {
	p.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (p *PrintfLogger) Infof(format string, args ...interface{}) {
	p.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (p *PrintfLogger) Debugf(format string, args ...interface{}) {
	p.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
