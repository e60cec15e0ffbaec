package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Combine-Capital/cqweb/pkg/config"
)

// Logger is the zerolog logger shared by every cqweb component. Derived
// loggers are cheap; each carries its own fixed fields.
type Logger struct {
	zlog zerolog.Logger
}

// New builds a Logger from cfg. Output "stderr" selects standard error;
// anything else writes to standard output.
func New(cfg config.LogConfig) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, out)
}

// NewWithWriter is New with an explicit destination. Format "console"
// renders human-readable lines; anything else emits JSON.
func NewWithWriter(cfg config.LogConfig, out io.Writer) *Logger {
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}
	zl := zerolog.New(out).Level(parseLogLevel(cfg.Level)).With().Timestamp().Logger()
	return &Logger{zlog: zl}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// parseLogLevel accepts zerolog level names in any case plus "warning".
// Unknown or empty names mean info.
func parseLogLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }

// Level is the minimum level that is written.
func (l *Logger) Level() zerolog.Level {
	return l.zlog.GetLevel()
}

// With returns a logger that adds key=value to every event.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithComponent tags events with the emitting package or subsystem.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(Component, component).Logger()}
}

// WithServiceName tags events with the service name.
func (l *Logger) WithServiceName(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(ServiceName, name).Logger()}
}
