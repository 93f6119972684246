package parasite

// Infector establishes native infection contexts for target processes. It is
// the attach/detach collaborator of the controller: implementations seize the
// target, inject code, run it and restore the target afterwards.
type Infector interface {
	// Prepare attaches to pid and readies the bookkeeping for an infection.
	// It must not inject anything yet.
	Prepare(pid int) (InfectContext, error)
}

// InfectContext is the native side of one infection. Calls on a single
// context are never concurrent; the controller serializes them.
type InfectContext interface {
	// Infect injects the payload, prepares nrThreads threads to run it and
	// reserves an argument/return area of argsSize bytes.
	Infect(nrThreads, argsSize int) error
	// SetLogFd hands the descriptor the injected code writes its log to.
	// Failures are reported on the native log channel.
	SetLogFd(fd int)
	// WriteArgs copies data to the start of the argument area.
	WriteArgs(data []byte) error
	// ReadArgs fills data from the start of the argument area.
	ReadArgs(data []byte) error
	// RPCCallSync dispatches an already offset command and blocks until the
	// injected handler completes.
	RPCCallSync(cmd uint32) error
	// Syscall runs one raw syscall in the target and returns its raw result.
	// The error is only for dispatch failures.
	Syscall(nr int, args [6]uint64) (int64, error)
	// Cure unwinds the infection and releases the context.
	Cure() error
}
