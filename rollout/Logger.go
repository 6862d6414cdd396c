package rollout

import "github.com/rs/zerolog"

// Logger is the sink for the messages the rollout worker emits while
// generating experience
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}

// zerologLogger adapts a zerolog.Logger to the Logger interface
type zerologLogger struct {
	log zerolog.Logger
}

// NewLogger returns a Logger backed by the argument zerolog.Logger
func NewLogger(log zerolog.Logger) Logger {
	return &zerologLogger{log: log}
}

// NewNopLogger returns a Logger that discards all messages
func NewNopLogger() Logger {
	return &zerologLogger{log: zerolog.Nop()}
}

func (z *zerologLogger) Infof(format string, args ...interface{}) {
	z.log.Info().Msgf(format, args...)
}

func (z *zerologLogger) Warningf(format string, args ...interface{}) {
	z.log.Warn().Msgf(format, args...)
}
