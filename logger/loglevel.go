package logger

import (
	"strings"

	"github.com/rs/zerolog"
)

type LogLevel string

const (
	Trace LogLevel = "trace"
	Debug LogLevel = "debug"
	Info  LogLevel = "info"
	Error LogLevel = "error"
)

func (level LogLevel) String() string {
	if level == "" {
		return string(Debug)
	}
	return string(level)
}

// ToLogLevel parses a level name, falling back to Debug on anything unrecognized
func ToLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "trace":
		return Trace
	case "info":
		return Info
	case "error":
		return Error
	default:
		return Debug
	}
}

func (level LogLevel) zerolog() zerolog.Level {
	switch level {
	case Trace:
		return zerolog.TraceLevel
	case Info:
		return zerolog.InfoLevel
	case Error:
		return zerolog.ErrorLevel
	default:
		return zerolog.DebugLevel
	}
}
