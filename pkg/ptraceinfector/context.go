//go:build linux

package ptraceinfector

import (
	"errors"
	"fmt"
	"os"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/compel/pkg/pielogger"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// maxSeizeRounds bounds how often the thread list is re-read while the
// target keeps spawning threads.
const maxSeizeRounds = 16

var errDetached = errors.New("infection context already cured")

var _ parasite.InfectContext = (*infectCtx)(nil)

// infectCtx is one ptrace infection. All fields are owned by the ptrace
// thread once Prepare returns.
type infectCtx struct {
	infector *Infector
	pid      int
	thread   *ptraceThread
	detached bool

	// seized threads, leader first
	tids []int

	layout    layout
	base      uint64
	nrThreads int
	argsSize  int

	hostLogFd   int
	remoteLogFd int
}

func (c *infectCtx) run(fn func() error) error {
	if c.detached {
		return errDetached
	}
	var err error
	c.thread.exec(func() { err = fn() })
	return err
}

// abandon drops the ptrace thread; the kernel detaches whatever it held.
func (c *infectCtx) abandon() {
	c.detached = true
	c.thread.stop()
}

func (c *infectCtx) seize() error {
	seized := mapset.NewThreadUnsafeSet[int]()
	if err := c.seizeThread(c.pid); err != nil {
		return fmt.Errorf("seizing leader %d: %w", c.pid, err)
	}
	seized.Add(c.pid)

	for round := 0; round < maxSeizeRounds; round++ {
		tids, err := listThreads(c.infector.fs, c.pid)
		if err != nil {
			return err
		}
		added := false
		for _, tid := range tids {
			if seized.Contains(tid) {
				continue
			}
			if err := c.seizeThread(tid); err != nil {
				if errors.Is(err, unix.ESRCH) {
					// exited between listing and seizing
					continue
				}
				return fmt.Errorf("seizing thread %d: %w", tid, err)
			}
			seized.Add(tid)
			added = true
		}
		if !added {
			pielogger.NativeLog(pielogger.NativeInfo, "seized %d threads of %d", len(c.tids), c.pid)
			return nil
		}
	}
	return fmt.Errorf("thread list of %d did not settle after %d rounds: %w", c.pid, maxSeizeRounds, unix.EAGAIN)
}

func (c *infectCtx) seizeThread(tid int) error {
	if err := unix.PtraceSeize(tid); err != nil {
		return fmt.Errorf("ptrace seize: %w", err)
	}
	c.tids = append(c.tids, tid)
	if err := unix.PtraceInterrupt(tid); err != nil {
		return fmt.Errorf("ptrace interrupt: %w", err)
	}
	return c.waitTrap(tid, unix.PTRACE_EVENT_STOP)
}

func (c *infectCtx) Infect(nrThreads, argsSize int) error {
	return c.run(func() error {
		if c.base != 0 {
			return fmt.Errorf("already infected: %w", unix.EBUSY)
		}
		if nrThreads < 1 || nrThreads > len(c.tids) {
			return fmt.Errorf("%d threads requested, target has %d: %w", nrThreads, len(c.tids), unix.EINVAL)
		}

		var blob []byte
		if c.infector.payload != nil {
			blob = c.infector.payload.Blob
		}
		l := newLayout(len(blob), argsSize, c.infector.scratchSize, uint64(os.Getpagesize()))

		base, err := c.syscallAtPC(unix.SYS_MMAP, [6]uint64{
			0,
			l.size,
			unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC,
			unix.MAP_PRIVATE | unix.MAP_ANONYMOUS,
			^uint64(0),
			0,
		})
		if err == nil {
			base, err = errnoResult(base)
		}
		if err != nil {
			return fmt.Errorf("remote mmap of %s: %w", humanize.IBytes(l.size), err)
		}
		c.base = base
		c.layout = l

		if err := c.fill(blob); err != nil {
			return multierr.Append(err, c.unmap())
		}
		c.nrThreads = nrThreads
		c.argsSize = argsSize

		pielogger.NativeLog(pielogger.NativeInfo, "mapped %s at %#x in %d", humanize.IBytes(l.size), base, c.pid)
		if c.hostLogFd >= 0 {
			c.setLogFd(c.hostLogFd)
		}
		return nil
	})
}

func (c *infectCtx) fill(blob []byte) error {
	if err := c.poke(c.base+c.layout.stubOff, c.layout.stub()); err != nil {
		return err
	}
	if len(blob) > 0 {
		if err := c.poke(c.base+c.layout.payloadOff, blob); err != nil {
			return err
		}
	}
	return nil
}

func (c *infectCtx) unmap() error {
	if c.base == 0 {
		return nil
	}
	// the stub lives in the region, so run munmap from the program counter
	res, err := c.syscallAtPC(unix.SYS_MUNMAP, [6]uint64{c.base, c.layout.size})
	if err == nil {
		_, err = errnoResult(res)
	}
	if err != nil {
		return fmt.Errorf("remote munmap: %w", err)
	}
	c.base = 0
	return nil
}

// SetLogFd installs fd in the target. Before Infect it is only recorded.
func (c *infectCtx) SetLogFd(fd int) {
	err := c.run(func() error {
		c.hostLogFd = fd
		if c.base != 0 {
			c.setLogFd(fd)
		}
		return nil
	})
	if err != nil {
		pielogger.NativeLog(pielogger.NativeError, "set log fd %d in %d: %v", fd, c.pid, err)
	}
}

func (c *infectCtx) setLogFd(fd int) {
	if c.remoteLogFd >= 0 {
		if _, err := c.sys(unix.SYS_CLOSE, [6]uint64{uint64(c.remoteLogFd)}); err != nil {
			pielogger.NativeLog(pielogger.NativeWarn, "closing previous log fd %d in %d: %v", c.remoteLogFd, c.pid, err)
		}
		c.remoteLogFd = -1
	}
	remote, err := c.installFd(fd)
	if err != nil {
		pielogger.NativeLog(pielogger.NativeError, "installing log fd in %d: %v", c.pid, err)
		return
	}
	c.remoteLogFd = remote
	pielogger.NativeLog(pielogger.NativeDebug, "log fd %d is %d in %d", fd, remote, c.pid)
}

func (c *infectCtx) checkArgs(n int) error {
	if c.base == 0 {
		return fmt.Errorf("not infected: %w", unix.EINVAL)
	}
	if n > c.argsSize {
		return fmt.Errorf("%d bytes do not fit the %d byte args area: %w", n, c.argsSize, unix.E2BIG)
	}
	return nil
}

func (c *infectCtx) WriteArgs(data []byte) error {
	return c.run(func() error {
		if err := c.checkArgs(len(data)); err != nil {
			return err
		}
		return c.poke(c.base+c.layout.argsOff, data)
	})
}

func (c *infectCtx) ReadArgs(data []byte) error {
	return c.run(func() error {
		if err := c.checkArgs(len(data)); err != nil {
			return err
		}
		got, err := c.peek(c.base+c.layout.argsOff, len(data))
		if err != nil {
			return err
		}
		copy(data, got)
		return nil
	})
}

func (c *infectCtx) RPCCallSync(cmd uint32) error {
	return c.run(func() error {
		if c.base == 0 {
			return fmt.Errorf("not infected: %w", unix.EINVAL)
		}
		if c.infector.payload == nil {
			return fmt.Errorf("no payload injected: %w", unix.ENOEXEC)
		}
		entry := c.base + c.layout.payloadOff + c.infector.payload.Entry
		res, err := c.call(entry, [3]uint64{
			uint64(cmd),
			c.base + c.layout.argsOff,
			uint64(int64(c.remoteLogFd)),
		})
		if err != nil {
			return err
		}
		if ret := int64(res); ret < 0 {
			return &parasite.StatusError{Code: int(ret), Msg: fmt.Sprintf("command %d failed", cmd)}
		}
		return nil
	})
}

func (c *infectCtx) Syscall(nr int, args [6]uint64) (int64, error) {
	var res uint64
	err := c.run(func() error {
		if c.base == 0 {
			return fmt.Errorf("not infected: %w", unix.EINVAL)
		}
		var err error
		res, err = c.remoteSyscall(nr, args)
		return err
	})
	return int64(res), err
}

// Cure closes the log fd in the target, unmaps the region and detaches every
// thread. The context is unusable afterwards whatever the outcome.
func (c *infectCtx) Cure() error {
	err := c.run(func() error {
		var err error
		if c.remoteLogFd >= 0 && c.base != 0 {
			if _, cerr := c.sys(unix.SYS_CLOSE, [6]uint64{uint64(c.remoteLogFd)}); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("closing log fd in target: %w", cerr))
			}
			c.remoteLogFd = -1
		}
		err = multierr.Append(err, c.unmap())
		for _, tid := range c.tids {
			if derr := unix.PtraceDetach(tid); derr != nil && !errors.Is(derr, unix.ESRCH) {
				err = multierr.Append(err, fmt.Errorf("ptrace detach %d: %w", tid, derr))
			}
		}
		return err
	})
	if !c.detached {
		c.abandon()
	}
	return err
}
