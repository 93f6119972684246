package pielogger

import (
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/sirupsen/logrus"
)

// Record sources.
const (
	SourceNative = "compel"
	SourceTarget = "pie"
)

type Record struct {
	Level   Level
	Source  string
	Message string
}

// Sink receives forwarded records. Implementations must be safe for
// concurrent use; every bridge calls Log from its own goroutine.
type Sink interface {
	Log(r Record)
}

var _ Sink = GoLoggerSink{}

// GoLoggerSink forwards to the global go-logger. go-logger has no trace
// level, trace records go out at debug with a level field.
type GoLoggerSink struct{}

func (GoLoggerSink) Log(r Record) {
	source := helpers.String("source", r.Source)
	switch r.Level {
	case LevelTrace:
		logger.L().Debug(r.Message, source, helpers.String("level", LevelTrace.String()))
	case LevelDebug:
		logger.L().Debug(r.Message, source)
	case LevelInfo:
		logger.L().Info(r.Message, source)
	case LevelWarn:
		logger.L().Warning(r.Message, source)
	default:
		logger.L().Error(r.Message, source)
	}
}

var _ Sink = (*LogrusSink)(nil)

// LogrusSink forwards to a logrus logger, keeping the trace level.
type LogrusSink struct {
	Logger *logrus.Logger
}

func NewLogrusSink(l *logrus.Logger) *LogrusSink {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &LogrusSink{Logger: l}
}

func (s *LogrusSink) Log(r Record) {
	s.Logger.WithField("source", r.Source).Log(logrusLevel(r.Level), r.Message)
}

func logrusLevel(l Level) logrus.Level {
	switch l {
	case LevelTrace:
		return logrus.TraceLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}
