package parasite

// State is the lifecycle state of a control block.
//
//	Prepared --Infect--> Infected --Cure--> Cured
//	Prepared --Infect fails--> Failed --Cure--> Cured
type State int

const (
	StatePrepared State = iota
	StateInfected
	StateFailed
	StateCured
)

func (s State) String() string {
	switch s {
	case StatePrepared:
		return "prepared"
	case StateInfected:
		return "infected"
	case StateFailed:
		return "failed"
	case StateCured:
		return "cured"
	}
	return "unknown"
}

// UserCommandBase offsets every caller command before dispatch. Commands
// below it are reserved for the injected code's control channel.
const UserCommandBase uint32 = 64

// Dispatched returns the command number the injected code receives for the
// caller-visible command cmd.
func Dispatched(cmd uint32) (uint32, bool) {
	d := cmd + UserCommandBase
	if d < cmd {
		return 0, false
	}
	return d, true
}
