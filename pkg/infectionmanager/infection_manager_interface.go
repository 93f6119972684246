package infectionmanager

import (
	"context"
	"errors"

	"github.com/kubescape/compel/pkg/parasite"
)

var ErrAlreadyInfecting = errors.New("target already has a live control block")

// Task runs against an infected target. The manager cures the target after
// the task returns, whatever it returned.
type Task func(ctx context.Context, ctl *parasite.ParasiteCtl) error

// InfectionManagerClient drives prepare, infect, task and cure for targets,
// at most one control block per pid at a time.
type InfectionManagerClient interface {
	Infect(ctx context.Context, pid int, task Task) error
	// InfectAll runs task against every pid on the worker pool and returns
	// the joined failures.
	InfectAll(ctx context.Context, pids []int, task Task) error
	Active() []int
	Ready() bool
	Close()
}
