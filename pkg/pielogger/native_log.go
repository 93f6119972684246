package pielogger

import (
	"fmt"
	"sync/atomic"
)

type nativeChannel struct {
	sink Sink
}

var native atomic.Pointer[nativeChannel]

// Initialize installs the sink of the native diagnostic channel. The first
// call wins; later calls are no-ops and return false. Until it runs, native
// lines are dropped.
func Initialize(sink Sink) bool {
	return native.CompareAndSwap(nil, &nativeChannel{sink: sink})
}

// NativeLog emits one line on the native diagnostic channel.
func NativeLog(level NativeLevel, format string, args ...any) {
	ch := native.Load()
	if ch == nil {
		return
	}
	ch.sink.Log(Record{
		Level:   LevelFromNative(level),
		Source:  SourceNative,
		Message: fmt.Sprintf(format, args...),
	})
}
