package pielogger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kubescape/compel/pkg/metricsmanager"
)

var ErrBridgeClosed = errors.New("log bridge already closed")

// recordQueueSize bounds how far the reader runs ahead of the sink.
const recordQueueSize = 64

type Option func(*Bridge)

// WithPrefix sets the marker stripped from the start of every line.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

func WithMetrics(m metricsmanager.MetricsManager) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// Bridge forwards newline-delimited text written to a pipe to a Sink. The
// write end is handed to whoever produces the text; the read end belongs to
// the bridge's reader goroutine alone.
type Bridge struct {
	sink    Sink
	metrics metricsmanager.MetricsManager
	source  string
	level   Level
	prefix  string

	w       *os.File
	fd      int
	records chan Record
	done    chan struct{}
	closed  atomic.Bool
}

// NewBridge starts a bridge whose lines are forwarded at level under source.
func NewBridge(sink Sink, source string, level Level, opts ...Option) (*Bridge, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating log pipe: %w", err)
	}
	b := &Bridge{
		sink:    sink,
		metrics: metricsmanager.NewMetricsMock(),
		source:  source,
		level:   level,
		w:       w,
		fd:      int(w.Fd()),
		records: make(chan Record, recordQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.read(r)
	go b.forward()
	return b, nil
}

// Fd is the writable end of the pipe. It stays valid until Close.
func (b *Bridge) Fd() int {
	return b.fd
}

// Writer is the writable end as an *os.File, for in-process producers.
func (b *Bridge) Writer() io.Writer {
	return b.w
}

// Close closes the writable end and blocks until every line written before it
// has reached the sink. Only the owner may call it, and only once.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrBridgeClosed
	}
	err := b.w.Close()
	<-b.done
	return err
}

func (b *Bridge) read(r *os.File) {
	defer close(b.records)
	defer r.Close()

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			b.records <- Record{Level: b.level, Source: b.source, Message: b.strip(line)}
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			b.records <- Record{
				Level:   LevelError,
				Source:  SourceNative,
				Message: fmt.Sprintf("error reading %s log stream: %v", b.source, err),
			}
		}
		return
	}
}

func (b *Bridge) forward() {
	defer close(b.done)
	for r := range b.records {
		b.sink.Log(r)
		b.metrics.ReportLogRecord(r.Source)
	}
}

func (b *Bridge) strip(line string) string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	if b.prefix == "" {
		return line
	}
	for strings.HasPrefix(line, b.prefix) {
		line = line[len(b.prefix):]
	}
	return line
}
