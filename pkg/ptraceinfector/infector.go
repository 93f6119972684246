//go:build linux

package ptraceinfector

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/prometheus/procfs"
)

// DefaultScratchSize is the in-target working area used for socket
// addresses and message headers.
const DefaultScratchSize = 4096

var ErrUnsupportedArch = errors.New("ptrace infection is not implemented for " + runtime.GOARCH)

var _ parasite.Infector = (*Infector)(nil)

type Option func(*Infector)

// WithPayload sets the blob injected at infect time. Without one, only raw
// syscalls work and RPC calls fail with ENOEXEC.
func WithPayload(p *Payload) Option {
	return func(i *Infector) {
		i.payload = p
	}
}

func WithScratchSize(n int) Option {
	return func(i *Infector) {
		if n > 0 {
			i.scratchSize = n
		}
	}
}

// Infector attaches to targets with ptrace and runs injected code in their
// leader thread.
type Infector struct {
	fs          procfs.FS
	payload     *Payload
	scratchSize int
}

func NewInfector(procfsPath string, opts ...Option) (*Infector, error) {
	fs, err := procfs.NewFS(procfsPath)
	if err != nil {
		return nil, fmt.Errorf("opening procfs at %s: %w", procfsPath, err)
	}
	i := &Infector{
		fs:          fs,
		scratchSize: DefaultScratchSize,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.payload != nil {
		if err := i.payload.Validate(); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// Prepare seizes and stops every thread of pid. Nothing is written to the
// target yet.
func (i *Infector) Prepare(pid int) (parasite.InfectContext, error) {
	if !archSupported {
		return nil, ErrUnsupportedArch
	}
	stat, err := checkTarget(i.fs, pid)
	if err != nil {
		return nil, err
	}

	c := &infectCtx{
		infector:    i,
		pid:         pid,
		thread:      newPtraceThread(),
		hostLogFd:   -1,
		remoteLogFd: -1,
	}
	if err := c.run(c.seize); err != nil {
		c.abandon()
		return nil, err
	}

	logger.L().Debug("Infector - prepared",
		helpers.Int("pid", pid),
		helpers.String("comm", stat.Comm),
		helpers.Int("threads", len(c.tids)))
	return c, nil
}
