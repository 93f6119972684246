package parasite

import (
	"sync"

	"github.com/goradd/maps"
	"golang.org/x/sys/unix"
)

var _ Infector = (*InfectorMock)(nil)
var _ InfectContext = (*InfectContextMock)(nil)

// HandlerMock is an injected command handler. It works on the argument buffer
// in place, the way the real injected code does.
type HandlerMock func(buf []byte) error

// InfectorMock simulates targets that cooperate with the controller. Handlers
// are keyed by the dispatched command number.
type InfectorMock struct {
	PrepareErr error
	NilContext bool
	InfectErr  error
	CureErr    error
	// Threads is the thread count of every simulated target, 1 when unset.
	Threads  int
	Handlers map[uint32]HandlerMock
	Syscalls map[int]func(args [6]uint64) int64
	// SyscallErr fails the dispatch itself.
	SyscallErr error

	Contexts maps.SafeMap[int, *InfectContextMock]
}

func NewInfectorMock() *InfectorMock {
	return &InfectorMock{
		Handlers: map[uint32]HandlerMock{},
		Syscalls: map[int]func(args [6]uint64) int64{},
	}
}

func (m *InfectorMock) Prepare(pid int) (InfectContext, error) {
	if m.PrepareErr != nil {
		return nil, m.PrepareErr
	}
	if m.NilContext {
		return nil, nil
	}
	ctx := &InfectContextMock{infector: m, Pid: pid, LogFd: -1}
	m.Contexts.Set(pid, ctx)
	return ctx, nil
}

type InfectContextMock struct {
	infector *InfectorMock

	mu         sync.Mutex
	Pid        int
	Buf        []byte
	LogFd      int
	Infected   bool
	Dispatched []uint32
	CureCalls  int
}

func (c *InfectContextMock) Infect(nrThreads, argsSize int) error {
	if c.infector.InfectErr != nil {
		return c.infector.InfectErr
	}
	threads := c.infector.Threads
	if threads == 0 {
		threads = 1
	}
	if nrThreads > threads {
		return unix.EINVAL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Buf = make([]byte, argsSize)
	c.Infected = true
	return nil
}

func (c *InfectContextMock) SetLogFd(fd int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LogFd = fd
}

// WriteLog writes one line the way the injected code does.
func (c *InfectContextMock) WriteLog(line string) error {
	c.mu.Lock()
	fd := c.LogFd
	c.mu.Unlock()
	_, err := unix.Write(fd, []byte(line+"\n"))
	return err
}

func (c *InfectContextMock) WriteArgs(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) > len(c.Buf) {
		return unix.EFAULT
	}
	copy(c.Buf, data)
	return nil
}

func (c *InfectContextMock) ReadArgs(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(data) > len(c.Buf) {
		return unix.EFAULT
	}
	copy(data, c.Buf)
	return nil
}

func (c *InfectContextMock) RPCCallSync(cmd uint32) error {
	c.mu.Lock()
	c.Dispatched = append(c.Dispatched, cmd)
	buf := c.Buf
	c.mu.Unlock()

	h, ok := c.infector.Handlers[cmd]
	if !ok {
		return &StatusError{Code: -int(unix.ENOSYS), Msg: "unknown command"}
	}
	return h(buf)
}

func (c *InfectContextMock) Syscall(nr int, args [6]uint64) (int64, error) {
	if c.infector.SyscallErr != nil {
		return 0, c.infector.SyscallErr
	}
	if fn, ok := c.infector.Syscalls[nr]; ok {
		return fn(args), nil
	}
	if nr == unix.SYS_GETPID {
		return int64(c.Pid), nil
	}
	return -int64(unix.ENOSYS), nil
}

func (c *InfectContextMock) Cure() error {
	c.mu.Lock()
	c.CureCalls++
	c.Infected = false
	c.mu.Unlock()
	return c.infector.CureErr
}
