// Package blog adapts a zerolog.Logger to badger.Logger, so the vector
// index's Badger-backed persistence logs through the same sink as the
// rest of the engine instead of badger's own stderr logger.
package blog

import "github.com/rs/zerolog"

// Logger implements badger.Logger (Errorf/Warningf/Infof/Debugf) over
// a zerolog.Logger.
type Logger struct {
	log zerolog.Logger
}

// New wraps log for use as a badger.Logger.
func New(log zerolog.Logger) Logger {
	return Logger{log: log.With().Str("component", "badger").Logger()}
}

func (l Logger) Errorf(format string, args ...interface{})   { l.log.Error().Msgf(format, args...) }
func (l Logger) Warningf(format string, args ...interface{}) { l.log.Warn().Msgf(format, args...) }
func (l Logger) Infof(format string, args ...interface{})    { l.log.Info().Msgf(format, args...) }
func (l Logger) Debugf(format string, args ...interface{})   { l.log.Debug().Msgf(format, args...) }
