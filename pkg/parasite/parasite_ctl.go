package parasite

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/kubescape/compel/pkg/metricsmanager"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

var errNilContext = errors.New("native layer returned no infection context")

// LogForwarder is the host side of the injected code's log stream.
type LogForwarder interface {
	Fd() int
	Close() error
}

type Option func(*ParasiteCtl)

func WithMetrics(m metricsmanager.MetricsManager) Option {
	return func(c *ParasiteCtl) {
		c.metrics = m
	}
}

// handle is everything the discard hook needs. It must not point back at the
// ParasiteCtl, otherwise the control block never becomes unreachable.
type handle struct {
	id        string
	pid       int
	native    InfectContext
	forwarder LogForwarder
}

// ParasiteCtl is the control block of one infection. It is owned by the
// caller that prepared it. At most one operation may be in flight at a time;
// a second one is rejected with ErrCallInFlight instead of blocking.
type ParasiteCtl struct {
	h       *handle
	metrics metricsmanager.MetricsManager
	busy    atomic.Bool
	cleanup runtime.Cleanup

	mu        sync.RWMutex
	state     State
	nrThreads int
	argsSize  int
	logFd     int
}

// Prepare establishes the native infection context for pid. Nothing is
// injected yet. If the returned block is discarded without Cure, a best-effort
// cure runs when it is garbage collected.
func Prepare(infector Infector, pid int, opts ...Option) (*ParasiteCtl, error) {
	ctl := &ParasiteCtl{
		metrics: metricsmanager.NewMetricsMock(),
		logFd:   -1,
	}
	for _, opt := range opts {
		opt(ctl)
	}

	start := time.Now()
	native, err := infector.Prepare(pid)
	if err != nil {
		ctl.metrics.ReportFailedOperation(OpPrepare)
		return nil, newError(ErrPrepareFailed, OpPrepare, err)
	}
	if native == nil {
		ctl.metrics.ReportFailedOperation(OpPrepare)
		return nil, &Error{Kind: ErrPrepareFailed, Op: OpPrepare, Err: errNilContext}
	}
	ctl.metrics.ReportOperation(OpPrepare, time.Since(start))

	ctl.h = &handle{id: uuid.NewString(), pid: pid, native: native}
	ctl.state = StatePrepared
	ctl.cleanup = runtime.AddCleanup(ctl, cureDiscarded, ctl.h)

	logger.L().Debug("ParasiteCtl - prepared", helpers.String("id", ctl.h.id), helpers.Int("pid", pid))
	return ctl, nil
}

func cureDiscarded(h *handle) {
	logger.L().Error("ParasiteCtl - control block discarded without cure, curing",
		helpers.String("id", h.id), helpers.Int("pid", h.pid))
	if err := h.native.Cure(); err != nil {
		logger.L().Error("ParasiteCtl - best-effort cure failed", helpers.String("id", h.id), helpers.Int("pid", h.pid), helpers.Error(err))
	}
	if h.forwarder != nil {
		_ = h.forwarder.Close()
	}
}

func (c *ParasiteCtl) ID() string { return c.h.id }
func (c *ParasiteCtl) Pid() int   { return c.h.pid }

func (c *ParasiteCtl) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Threads returns the thread count committed at infect time.
func (c *ParasiteCtl) Threads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nrThreads
}

// ArgsSize returns the negotiated size of the argument/return buffer.
func (c *ParasiteCtl) ArgsSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.argsSize
}

// LogFd returns the descriptor handed to the injected code, or -1.
func (c *ParasiteCtl) LogFd() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logFd
}

func (c *ParasiteCtl) enter(op string) error {
	if !c.busy.CompareAndSwap(false, true) {
		return &Error{Kind: ErrCallInFlight, Op: op}
	}
	return nil
}

func (c *ParasiteCtl) leave() {
	c.busy.Store(false)
}

// requireState must be called between enter and leave.
func (c *ParasiteCtl) requireState(op string, allowed ...State) error {
	s := c.State()
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	return &Error{Kind: ErrInvalidState, Op: op, Err: fmt.Errorf("control block is %s", s)}
}

func (c *ParasiteCtl) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *ParasiteCtl) report(op string, start time.Time, err error) {
	if err != nil {
		c.metrics.ReportFailedOperation(op)
		return
	}
	c.metrics.ReportOperation(op, time.Since(start))
}

// Infect injects the payload, readies nrThreads threads to run it and reserves
// an argsSize byte argument/return buffer. Both values are fixed afterwards.
// On failure the block moves to Failed and can only be cured.
func (c *ParasiteCtl) Infect(nrThreads, argsSize int) (err error) {
	if err := c.enter(OpInfect); err != nil {
		return err
	}
	defer c.leave()
	if err := c.requireState(OpInfect, StatePrepared); err != nil {
		return err
	}
	if nrThreads < 1 || argsSize < 0 {
		return &Error{Kind: ErrInfectFailed, Op: OpInfect,
			Err: fmt.Errorf("threads %d, args buffer %d bytes", nrThreads, argsSize)}
	}

	start := time.Now()
	defer func() { c.report(OpInfect, start, err) }()

	if nerr := c.h.native.Infect(nrThreads, argsSize); nerr != nil {
		c.setState(StateFailed)
		logger.L().Warning("ParasiteCtl - infect failed", helpers.String("id", c.h.id), helpers.Int("pid", c.h.pid), helpers.Error(nerr))
		return newError(ErrInfectFailed, OpInfect, nerr)
	}

	c.mu.Lock()
	c.state = StateInfected
	c.nrThreads = nrThreads
	c.argsSize = argsSize
	c.mu.Unlock()
	c.metrics.ReportInfectionStarted()

	logger.L().Debug("ParasiteCtl - infected",
		helpers.String("id", c.h.id),
		helpers.Int("pid", c.h.pid),
		helpers.Int("threads", nrThreads),
		helpers.String("argsBuffer", humanize.IBytes(uint64(argsSize))))
	return nil
}

// SetLogFd hands fd to the injected code as its log descriptor. Call it
// before the first RPC so no line is lost. The only error is a wrong state;
// native failures show up on the native log channel.
func (c *ParasiteCtl) SetLogFd(fd int) error {
	_, err := c.setLogFd(fd, nil)
	return err
}

// AttachPieLogger wires l as the injected code's log stream and makes the
// block own it: Cure closes l once the target is restored. A previously
// attached forwarder is closed once the injected code has switched to l.
func (c *ParasiteCtl) AttachPieLogger(l LogForwarder) error {
	prev, err := c.setLogFd(l.Fd(), l)
	if err != nil {
		return err
	}
	if prev != nil && prev != l {
		if err := prev.Close(); err != nil {
			logger.L().Warning("ParasiteCtl - closing replaced pie logger", helpers.String("id", c.h.id), helpers.Error(err))
		}
	}
	return nil
}

// setLogFd installs fd and, when l is set, swaps the owned forwarder. It
// returns the forwarder l replaced.
func (c *ParasiteCtl) setLogFd(fd int, l LogForwarder) (LogForwarder, error) {
	if err := c.enter(OpSetLogFd); err != nil {
		return nil, err
	}
	defer c.leave()
	if err := c.requireState(OpSetLogFd, StateInfected); err != nil {
		return nil, err
	}

	c.h.native.SetLogFd(fd)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logFd = fd
	if l == nil {
		return nil, nil
	}
	prev := c.h.forwarder
	c.h.forwarder = l
	return prev, nil
}

// RPCCallSync copies args into the argument buffer, dispatches cmd and blocks
// until the injected handler completes. args must be plain fixed-layout data
// (or nil for no arguments).
func (c *ParasiteCtl) RPCCallSync(cmd uint32, args any) error {
	_, err := c.rpcCall(cmd, args, 0)
	return err
}

// RPCCallSyncRet is RPCCallSync followed by reading an R back out of the
// argument buffer.
func RPCCallSyncRet[R any](c *ParasiteCtl, cmd uint32, args any) (R, error) {
	var ret R
	size, err := plainTypeSize[R]()
	if err != nil {
		return ret, &Error{Kind: ErrNotPlainData, Op: OpParasiteArgs, Err: err}
	}

	data, err := c.rpcCall(cmd, args, size)
	if err != nil {
		return ret, err
	}
	ret, err = decodeArgs[R](data)
	if err != nil {
		return ret, &Error{Kind: ErrNotPlainData, Op: OpParasiteArgs, Err: err}
	}
	return ret, nil
}

func (c *ParasiteCtl) rpcCall(cmd uint32, args any, retSize int) (_ []byte, err error) {
	if err := c.enter(OpRPCCallSync); err != nil {
		return nil, err
	}
	defer c.leave()
	if err := c.requireState(OpRPCCallSync, StateInfected); err != nil {
		return nil, err
	}

	dispatched, ok := Dispatched(cmd)
	if !ok {
		return nil, &Error{Kind: ErrCommandOutOfRange, Op: OpRPCCallSync, Err: fmt.Errorf("command %d", cmd)}
	}
	argSize, err := plainSize(args)
	if err != nil {
		return nil, &Error{Kind: ErrNotPlainData, Op: OpParasiteArgs, Err: err}
	}
	bufSize := c.ArgsSize()
	if argSize > bufSize || retSize > bufSize {
		return nil, &Error{Kind: ErrArgsTooLarge, Op: OpParasiteArgs,
			Err: fmt.Errorf("args %d bytes, return %d bytes, buffer %d bytes", argSize, retSize, bufSize)}
	}
	data, err := encodeArgs(args, argSize)
	if err != nil {
		return nil, &Error{Kind: ErrNotPlainData, Op: OpParasiteArgs, Err: err}
	}

	start := time.Now()
	defer func() { c.report(OpRPCCallSync, start, err) }()

	if len(data) > 0 {
		if nerr := c.h.native.WriteArgs(data); nerr != nil {
			return nil, newError(ErrRPCCallFailed, OpParasiteArgs, nerr)
		}
	}
	if nerr := c.h.native.RPCCallSync(dispatched); nerr != nil {
		logger.L().Debug("ParasiteCtl - rpc call failed", helpers.String("id", c.h.id), helpers.Int("cmd", int(cmd)), helpers.Error(nerr))
		return nil, newError(ErrRPCCallFailed, OpRPCCallSync, nerr)
	}
	if retSize == 0 {
		return nil, nil
	}
	ret := make([]byte, retSize)
	if nerr := c.h.native.ReadArgs(ret); nerr != nil {
		return nil, newError(ErrRPCCallFailed, OpParasiteArgs, nerr)
	}
	return ret, nil
}

// Syscall runs one raw syscall in the target. A negative result is the
// syscall's own -errno and is not an error of this call.
func (c *ParasiteCtl) Syscall(nr int, args [6]uint64) (_ int64, err error) {
	if err := c.enter(OpSyscall); err != nil {
		return 0, err
	}
	defer c.leave()
	if err := c.requireState(OpSyscall, StateInfected); err != nil {
		return 0, err
	}

	start := time.Now()
	defer func() { c.report(OpSyscall, start, err) }()

	ret, nerr := c.h.native.Syscall(nr, args)
	if nerr != nil {
		return 0, newError(ErrSyscallDispatchFailed, OpSyscall, nerr)
	}
	return ret, nil
}

// Cure unwinds the infection and restores the target. The block is consumed
// whatever the outcome; a failed cure leaves the target in an unspecified
// state and must not be retried.
func (c *ParasiteCtl) Cure() (err error) {
	if err := c.enter(OpCure); err != nil {
		return err
	}
	defer c.leave()
	if err := c.requireState(OpCure, StatePrepared, StateInfected, StateFailed); err != nil {
		return err
	}
	wasInfected := c.State() == StateInfected

	start := time.Now()
	defer func() { c.report(OpCure, start, err) }()

	c.cleanup.Stop()
	nerr := c.h.native.Cure()
	c.setState(StateCured)
	if wasInfected {
		c.metrics.ReportInfectionEnded()
	}

	// the target closed its end during cure, so the forwarder drains to EOF
	if c.h.forwarder != nil {
		if ferr := c.h.forwarder.Close(); ferr != nil {
			logger.L().Warning("ParasiteCtl - closing pie logger", helpers.String("id", c.h.id), helpers.Error(ferr))
		}
		c.h.forwarder = nil
	}

	if nerr != nil {
		logger.L().Error("ParasiteCtl - cure failed, target state is unspecified",
			helpers.String("id", c.h.id), helpers.Int("pid", c.h.pid), helpers.Error(nerr))
		return newError(ErrCureFailed, OpCure, nerr)
	}
	logger.L().Debug("ParasiteCtl - cured", helpers.String("id", c.h.id), helpers.Int("pid", c.h.pid))
	return nil
}
