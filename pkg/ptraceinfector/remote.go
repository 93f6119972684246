//go:build linux

package ptraceinfector

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kubescape/compel/pkg/pielogger"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Kernel-internal results a syscall may leave behind when a signal arrives.
// They never reach user space on a normal return, so unix does not name them.
const (
	errRestartSys          = unix.Errno(512)
	errRestartNoIntr       = unix.Errno(513)
	errRestartNoHand       = unix.Errno(514)
	errRestartRestartBlock = unix.Errno(516)
)

// results above maxErrno are -errno
const maxErrno = uint64(0xfffffffffffff001)

var ErrUnexpectedWaitStatus = errors.New("unexpected wait status")

// faultError is a synchronous signal raised by injected code.
type faultError struct {
	sig unix.Signal
}

func (e *faultError) Error() string { return fmt.Sprintf("injected code faulted with %s", e.sig) }
func (e *faultError) Unwrap() error { return unix.EFAULT }

func isRestart(res uint64) bool {
	switch unix.Errno(-res) {
	case errRestartSys, errRestartNoIntr, errRestartNoHand, errRestartRestartBlock:
		return res > maxErrno
	}
	return false
}

func errnoResult(res uint64) (uint64, error) {
	if res > maxErrno {
		return res, unix.Errno(-res)
	}
	return res, nil
}

func (c *infectCtx) peek(addr uint64, n int) ([]byte, error) {
	data := make([]byte, n)
	got, err := unix.PtracePeekData(c.pid, uintptr(addr), data)
	if err != nil {
		return nil, fmt.Errorf("ptrace peekdata %#x: %w", addr, err)
	}
	if got != n {
		return nil, fmt.Errorf("ptrace peekdata %#x: read %d of %d bytes: %w", addr, got, n, unix.EIO)
	}
	return data, nil
}

func (c *infectCtx) poke(addr uint64, data []byte) error {
	got, err := unix.PtracePokeData(c.pid, uintptr(addr), data)
	if err != nil {
		return fmt.Errorf("ptrace pokedata %#x: %w", addr, err)
	}
	if got != len(data) {
		return fmt.Errorf("ptrace pokedata %#x: wrote %d of %d bytes: %w", addr, got, len(data), unix.EIO)
	}
	return nil
}

// waitTrap waits until tid stops with the given trap cause. Unrelated
// signals are handed back to the thread; faults while injected code runs
// are returned as errors.
func (c *infectCtx) waitTrap(tid, cause int) error {
	for {
		var status unix.WaitStatus
		var err error
		for {
			_, err = unix.Wait4(tid, &status, unix.WALL, nil)
			if !errors.Is(err, unix.EINTR) {
				break
			}
		}
		if err != nil {
			return fmt.Errorf("wait4 %d: %w", tid, err)
		}

		done, sig, err := classifyStop(tid, status, cause)
		if err != nil || done {
			return err
		}
		if err := unix.PtraceCont(tid, int(sig)); err != nil {
			return fmt.Errorf("ptrace cont %d with %s: %w", tid, sig, err)
		}
	}
}

// classifyStop decides what a wait status means while waiting for cause:
// done, a signal to hand back to the thread, or a failure. A plain SIGTRAP
// (cause 0) arriving while an event stop is expected is an ordinary signal.
func classifyStop(tid int, status unix.WaitStatus, cause int) (bool, unix.Signal, error) {
	switch {
	case status.Exited() || status.Signaled():
		return false, 0, fmt.Errorf("%w: thread %d is gone (exit %d, signal %s): %w",
			ErrUnexpectedWaitStatus, tid, status.ExitStatus(), status.Signal(), unix.ESRCH)
	case status.TrapCause() == cause:
		return true, 0, nil
	case status.TrapCause() > 0:
		pielogger.NativeLog(pielogger.NativeWarn, "unexpected trap cause for %d: %d, expected %d", tid, status.TrapCause(), cause)
		return false, 0, fmt.Errorf("%w: trap cause %d for %d, expected %d",
			ErrUnexpectedWaitStatus, status.TrapCause(), tid, cause)
	case status.Stopped():
		sig := status.StopSignal()
		switch sig {
		case unix.SIGSEGV, unix.SIGBUS, unix.SIGILL, unix.SIGFPE, unix.SIGSYS:
			if cause == 0 {
				return false, 0, &faultError{sig: sig}
			}
		}
		return false, sig, nil
	}
	return false, 0, fmt.Errorf("%w: %#x for %d", ErrUnexpectedWaitStatus, uint32(status), tid)
}

// runToTrap resumes the leader and waits for the int3 after the injected
// instructions.
func (c *infectCtx) runToTrap() error {
	if err := unix.PtraceCont(c.pid, 0); err != nil {
		return fmt.Errorf("ptrace cont: %w", err)
	}
	return c.waitTrap(c.pid, 0)
}

// execSyscall runs the syscall stub located at ip with the leader's
// registers and restores them afterwards. The raw result is returned.
func (c *infectCtx) execSyscall(ip uint64, nr int, args [6]uint64) (res uint64, err error) {
	orig, err := getRegs(c.pid)
	if err != nil {
		return 0, fmt.Errorf("ptrace getregs: %w", err)
	}
	defer func() {
		if rerr := setRegs(c.pid, &orig); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("restoring registers: %w", rerr))
		}
	}()

	r := orig
	setSyscallRegs(&r, ip, nr, args)
	if err := setRegs(c.pid, &r); err != nil {
		return 0, fmt.Errorf("ptrace setregs: %w", err)
	}
	if err := c.runToTrap(); err != nil {
		return 0, err
	}
	done, err := getRegs(c.pid)
	if err != nil {
		return 0, fmt.Errorf("ptrace getregs: %w", err)
	}
	return result(&done), nil
}

// syscallAtPC runs one syscall by borrowing the instructions at the leader's
// program counter. It is only used while no region is mapped.
func (c *infectCtx) syscallAtPC(nr int, args [6]uint64) (res uint64, err error) {
	r, err := getRegs(c.pid)
	if err != nil {
		return 0, fmt.Errorf("ptrace getregs: %w", err)
	}
	start := alignUp(pc(&r), 8)
	saved, err := c.peek(start, len(syscallStub))
	if err != nil {
		return 0, err
	}
	defer func() {
		err = multierr.Append(err, c.poke(start, saved))
	}()
	if err := c.poke(start, syscallStub[:]); err != nil {
		return 0, err
	}
	for {
		res, err = c.execSyscall(start, nr, args)
		if err != nil || !isRestart(res) {
			return res, err
		}
	}
}

// remoteSyscall runs one syscall through the stub of the mapped region,
// retrying kernel restarts. The raw result is returned.
func (c *infectCtx) remoteSyscall(nr int, args [6]uint64) (uint64, error) {
	for {
		res, err := c.execSyscall(c.base+c.layout.stubOff, nr, args)
		if err != nil || !isRestart(res) {
			return res, err
		}
	}
}

// sys is remoteSyscall with the result decoded into an errno.
func (c *infectCtx) sys(nr int, args [6]uint64) (uint64, error) {
	res, err := c.remoteSyscall(nr, args)
	if err != nil {
		return res, err
	}
	return errnoResult(res)
}

// call runs entry(args...) on the leader with the return address pointing at
// the stub's int3 and returns the value left in the result register.
func (c *infectCtx) call(entry uint64, args [3]uint64) (res uint64, err error) {
	orig, err := getRegs(c.pid)
	if err != nil {
		return 0, fmt.Errorf("ptrace getregs: %w", err)
	}
	defer func() {
		if rerr := setRegs(c.pid, &orig); rerr != nil {
			err = multierr.Append(err, fmt.Errorf("restoring registers: %w", rerr))
		}
	}()

	sp := alignDown(stackPointer(&orig)-stackRedZone, 16) - 8
	ret := make([]byte, 8)
	binary.NativeEndian.PutUint64(ret, c.base+c.layout.stubOff+stubTrapOffset)
	if err := c.poke(sp, ret); err != nil {
		return 0, err
	}

	r := orig
	setCallRegs(&r, entry, sp, args)
	if err := setRegs(c.pid, &r); err != nil {
		return 0, fmt.Errorf("ptrace setregs: %w", err)
	}
	if err := c.runToTrap(); err != nil {
		return 0, err
	}
	done, err := getRegs(c.pid)
	if err != nil {
		return 0, fmt.Errorf("ptrace getregs: %w", err)
	}
	return result(&done), nil
}

func alignUp(x, a uint64) uint64 {
	return (x + a - 1) &^ (a - 1)
}

func alignDown(x, a uint64) uint64 {
	return x &^ (a - 1)
}
