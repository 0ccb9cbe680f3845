package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// The log file is rotated by lumberjack so a long-lived client can't fill the disk
const (
	maxLogFileSize    = 100 // MB
	maxLogFileBackups = 10
	maxLogFileAge     = 30 // days
)

type Config struct {
	// Writers that receive human-readable console output. Optional.
	ConsoleWriters []io.Writer

	// Path of the rotated json log file. Empty disables file logging.
	FilePath string

	// Minimum level to emit. Defaults to Debug when unset.
	LogLevel LogLevel
}

type Logger struct {
	logger zerolog.Logger

	// retained so derived loggers stay at the same level
	level zerolog.Level
}

func New(config *Config) (*Logger, error) {
	level := config.LogLevel.zerolog()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	writers := []io.Writer{}

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.FilePath, err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    maxLogFileSize,
			MaxBackups: maxLogFileBackups,
			MaxAge:     maxLogFileAge,
		})
	}

	for _, writer := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		})
	}

	if len(writers) == 0 {
		return nil, fmt.Errorf("refusing to build a logger with no writers")
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{
		logger: logger,
		level:  level,
	}, nil
}

// AddClientVersion stamps every subsequent record with the library version
func (l *Logger) AddClientVersion(version string) {
	l.logger = l.logger.With().Str("clientVersion", version).Logger()
}

func (l *Logger) GetComponentLogger(component string) *Logger {
	return l.withField("component", component)
}

func (l *Logger) GetConnectionLogger(connectionId string) *Logger {
	return l.withField("connection", connectionId)
}

func (l *Logger) GetChannelLogger(channelName string) *Logger {
	return l.withField("channel", channelName)
}

func (l *Logger) withField(key string, value string) *Logger {
	return &Logger{
		logger: l.logger.With().Str(key, value).Logger(),
		level:  l.level,
	}
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Msg(err.Error())
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logger.Error().Msgf(format, a...)
}
