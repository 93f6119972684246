package pielogger

// DefaultPiePrefix is the marker the injected code puts in front of its lines.
const DefaultPiePrefix = "pie: "

// NewPieLogger starts a bridge for the injected code's own log stream. Lines
// are forwarded at debug level under the target source tag with the pie
// marker stripped. Hand Fd to the control block before the first call.
func NewPieLogger(sink Sink, opts ...Option) (*Bridge, error) {
	return NewBridge(sink, SourceTarget, LevelDebug, append([]Option{WithPrefix(DefaultPiePrefix)}, opts...)...)
}
