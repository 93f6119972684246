package pielogger

// Level is the severity a record is forwarded at.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// NativeLevel is the severity numbering of the native infection layer.
type NativeLevel int

const (
	NativeMsg NativeLevel = iota
	NativeError
	NativeWarn
	NativeInfo
	NativeDebug
)

// LevelFromNative maps a native severity to a sink level. Plain messages are
// promoted to error; anything unknown drops to trace.
func LevelFromNative(n NativeLevel) Level {
	switch n {
	case NativeDebug:
		return LevelDebug
	case NativeInfo:
		return LevelInfo
	case NativeWarn:
		return LevelWarn
	case NativeError, NativeMsg:
		return LevelError
	default:
		return LevelTrace
	}
}
