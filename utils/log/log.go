// Package log builds the loggers used by raft: a logrus logger for the
// core and a zap logger for structured event sinks.
package log

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the verbosity shared by both loggers.
type Level int

// Level enum constants, from the quietest to the most verbose.
const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

var levelString = []string{
	"panic",
	"fatal",
	"error",
	"warn",
	"info",
	"debug",
}

func (l Level) String() string {
	if l < PanicLevel || l > DebugLevel {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelString[l]
}

// ParseLevel converts a level name into a Level.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelString {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	if strings.EqualFold(s, "warning") {
		return WarnLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case PanicLevel:
		return logrus.PanicLevel
	case FatalLevel:
		return logrus.FatalLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel:
		return logrus.WarnLevel
	case DebugLevel:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case PanicLevel:
		return zapcore.PanicLevel
	case FatalLevel:
		return zapcore.FatalLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case DebugLevel:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// New returns a logrus logger writing text with full timestamps to out.
func New(level Level, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level.logrusLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000000",
	})
	return logger
}

// NewZap returns a production zap logger at level.
func NewZap(level Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.Sampling = nil
	return cfg.Build()
}
