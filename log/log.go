// File: log/log.go
// Package log
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin zerolog wrapper used by all engine packages. The level defaults to
// the GCCG_LOG environment variable ("debug", "info", "warn", "error");
// SetLevel overrides it at runtime.

package log

import (
	"os"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

const timeFormat = "2006-01-02 15:04:05.999"

func init() {
	zerolog.TimeFieldFormat = timeFormat
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
	log = zerolog.New(output).Level(parseLevel(os.Getenv("GCCG_LOG"))).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.WarnLevel
}

// SetLevel changes the logging level at runtime.
func SetLevel(level string) {
	log = log.Level(parseLevel(level))
}

func Debugf(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

func Infof(format string, v ...interface{}) {
	log.Info().Msgf(format, v...)
}

func Warnf(format string, v ...interface{}) {
	log.Warn().Msgf(format, v...)
}

func Errorf(format string, v ...interface{}) {
	log.Error().Msgf(format, v...)
}
