package pielogger

import (
	"fmt"
	"io"
	"testing"

	"github.com/kubescape/compel/pkg/metricsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBridgeDrainsInOrder(t *testing.T) {
	sink := NewSinkMock()
	metrics := metricsmanager.NewMetricsMock()
	b, err := NewBridge(sink, SourceTarget, LevelInfo, WithMetrics(metrics))
	require.NoError(t, err)

	const n = 500
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line := fmt.Sprintf("line %d", i)
		want = append(want, line)
		_, err := io.WriteString(b.Writer(), line+"\n")
		require.NoError(t, err)
	}
	require.NoError(t, b.Close())

	assert.Equal(t, want, sink.Messages())
	assert.Equal(t, n, sink.Counts.Get(SourceTarget))
	assert.Equal(t, n, metrics.LogRecordCounter.Get(SourceTarget))
	for _, r := range sink.Records() {
		assert.Equal(t, LevelInfo, r.Level)
	}
}

func TestBridgeRawFd(t *testing.T) {
	sink := NewSinkMock()
	b, err := NewBridge(sink, SourceTarget, LevelDebug)
	require.NoError(t, err)

	_, err = unix.Write(b.Fd(), []byte("from the fd\nsecond\n"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"from the fd", "second"}, sink.Messages())
}

func TestBridgeDoubleClose(t *testing.T) {
	b, err := NewBridge(NewSinkMock(), SourceTarget, LevelDebug)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Close(), ErrBridgeClosed)
}

func TestBridgeLineHandling(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		input  string
		want   []string
	}{
		{
			name:   "prefix stripped",
			prefix: DefaultPiePrefix,
			input:  "pie: hello\npie: world\n",
			want:   []string{"hello", "world"},
		},
		{
			name:   "repeated prefix stripped",
			prefix: DefaultPiePrefix,
			input:  "pie: pie: nested\n",
			want:   []string{"nested"},
		},
		{
			name:   "prefix only at the start",
			prefix: DefaultPiePrefix,
			input:  "keep pie: inside\n",
			want:   []string{"keep pie: inside"},
		},
		{
			name:   "crlf terminators",
			prefix: "",
			input:  "a\r\nb\r\n",
			want:   []string{"a", "b"},
		},
		{
			name:   "unterminated last line",
			prefix: DefaultPiePrefix,
			input:  "pie: first\npie: partial",
			want:   []string{"first", "partial"},
		},
		{
			name:   "empty lines kept",
			prefix: DefaultPiePrefix,
			input:  "\npie: \n",
			want:   []string{"", ""},
		},
		{
			name:   "nothing written",
			prefix: DefaultPiePrefix,
			input:  "",
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := NewSinkMock()
			b, err := NewBridge(sink, SourceTarget, LevelDebug, WithPrefix(tt.prefix))
			require.NoError(t, err)
			_, err = io.WriteString(b.Writer(), tt.input)
			require.NoError(t, err)
			require.NoError(t, b.Close())
			assert.Equal(t, tt.want, sink.Messages())
		})
	}
}

func TestPieLogger(t *testing.T) {
	sink := NewSinkMock()
	l, err := NewPieLogger(sink)
	require.NoError(t, err)

	_, err = io.WriteString(l.Writer(), "pie: Running daemon thread leader\n")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	assert.Equal(t, []Record{{Level: LevelDebug, Source: SourceTarget, Message: "Running daemon thread leader"}}, sink.Records())
}
