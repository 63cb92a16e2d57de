// Package log configures the zerolog base logger and adapts it to the
// key/value Logger interface used across the client.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stderr)
	Service string    // optional service name attached to every log entry
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the base logger exactly once.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		} else if env := os.Getenv("CRM_LOG_LEVEL"); env != "" {
			if parsed, err := zerolog.ParseLevel(env); err == nil {
				level = parsed
			}
		}
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stderr
		}

		service := cfg.Service
		if service == "" {
			service = "crmreports"
		}

		base = zerolog.New(writer).Level(level).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	Configure(Config{})
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}

// Adapter implements the client's Logger interface on top of zerolog.
type Adapter struct {
	logger zerolog.Logger
}

// NewAdapter wraps a zerolog logger.
func NewAdapter(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Nop returns an adapter that discards everything.
func Nop() *Adapter {
	return &Adapter{logger: zerolog.Nop()}
}

func (a *Adapter) Debug(msg string, keysAndValues ...interface{}) {
	a.emit(a.logger.Debug(), msg, keysAndValues)
}

func (a *Adapter) Info(msg string, keysAndValues ...interface{}) {
	a.emit(a.logger.Info(), msg, keysAndValues)
}

func (a *Adapter) Warn(msg string, keysAndValues ...interface{}) {
	a.emit(a.logger.Warn(), msg, keysAndValues)
}

func (a *Adapter) Error(msg string, keysAndValues ...interface{}) {
	a.emit(a.logger.Error(), msg, keysAndValues)
}

func (a *Adapter) emit(ev *zerolog.Event, msg string, keysAndValues []interface{}) {
	if ev == nil {
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			ev = ev.Interface(key, nil)
			break
		}
		switch v := keysAndValues[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
