// Package logsink sends lifecycle events to a named log stream. Each event
// carries a message, a level and a flat set of structured fields.
package logsink

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Fields are the structured attributes attached to an event.
type Fields map[string]any

// Sink is a zerolog logger bound to one stream name.
type Sink struct {
	stream string
	logger zerolog.Logger
}

// New returns a sink writing JSON lines to w. A nil w writes to stdout.
func New(stream string, w io.Writer, level zerolog.Level) *Sink {
	if w == nil {
		w = os.Stdout
	}
	logger := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("stream", stream).
		Logger()
	return &Sink{stream: stream, logger: logger}
}

// FromLogger binds an existing logger to stream.
func FromLogger(stream string, logger zerolog.Logger) *Sink {
	return &Sink{stream: stream, logger: logger.With().Str("stream", stream).Logger()}
}

// Nop discards everything.
func Nop() *Sink {
	return &Sink{logger: zerolog.Nop()}
}

// Stream returns the stream name.
func (s *Sink) Stream() string { return s.stream }

// Logger exposes the underlying logger for components that log directly.
func (s *Sink) Logger() zerolog.Logger { return s.logger }

// Event writes one event at level.
func (s *Sink) Event(level zerolog.Level, message string, fields Fields) {
	evt := s.logger.WithLevel(level)
	if evt == nil {
		return
	}
	for k, v := range fields {
		switch val := v.(type) {
		case error:
			evt = evt.AnErr(k, val)
		case time.Duration:
			evt = evt.Dur(k, val)
		default:
			evt = evt.Interface(k, val)
		}
	}
	evt.Msg(message)
}

func (s *Sink) Debug(message string, fields Fields) { s.Event(zerolog.DebugLevel, message, fields) }
func (s *Sink) Info(message string, fields Fields)  { s.Event(zerolog.InfoLevel, message, fields) }
func (s *Sink) Warn(message string, fields Fields)  { s.Event(zerolog.WarnLevel, message, fields) }
func (s *Sink) Error(message string, fields Fields) { s.Event(zerolog.ErrorLevel, message, fields) }

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
