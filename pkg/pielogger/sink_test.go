package pielogger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusSink(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.TraceLevel)
	sink := NewLogrusSink(l)

	tests := []struct {
		level Level
		want  logrus.Level
	}{
		{level: LevelTrace, want: logrus.TraceLevel},
		{level: LevelDebug, want: logrus.DebugLevel},
		{level: LevelInfo, want: logrus.InfoLevel},
		{level: LevelWarn, want: logrus.WarnLevel},
		{level: LevelError, want: logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			hook.Reset()
			sink.Log(Record{Level: tt.level, Source: SourceNative, Message: "seized"})
			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.want, entry.Level)
			assert.Equal(t, "seized", entry.Message)
			assert.Equal(t, SourceNative, entry.Data["source"])
		})
	}
}

func TestGoLoggerSink(t *testing.T) {
	sink := GoLoggerSink{}
	for _, level := range []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.NotPanics(t, func() {
			sink.Log(Record{Level: level, Source: SourceTarget, Message: "hello"})
		})
	}
}
