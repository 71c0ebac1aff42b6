package settlement

import "github.com/rs/zerolog"

type Log interface {
	Info() *zerolog.Event
	Debug() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

type logger struct {
	z zerolog.Logger
}

// NewLog adapts a zerolog.Logger to the Log interface.
func NewLog(z zerolog.Logger) Log {
	return &logger{z: z}
}

func (l *logger) Info() *zerolog.Event  { return l.z.Info() }
func (l *logger) Debug() *zerolog.Event { return l.z.Debug() }
func (l *logger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l *logger) Error() *zerolog.Event { return l.z.Error() }
