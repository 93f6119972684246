//go:build linux

package ptraceinfector

import (
	"fmt"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// listThreads returns the thread ids of pid from /proc/<pid>/task.
func listThreads(fs procfs.FS, pid int) ([]int, error) {
	procs, err := fs.AllThreads(pid)
	if err != nil {
		return nil, fmt.Errorf("listing threads of %d: %w", pid, err)
	}
	tids := make([]int, 0, len(procs))
	for _, p := range procs {
		tids = append(tids, p.PID)
	}
	return tids, nil
}

// checkTarget fails for processes that are gone or cannot run injected code.
func checkTarget(fs procfs.FS, pid int) (procfs.ProcStat, error) {
	proc, err := fs.Proc(pid)
	if err != nil {
		return procfs.ProcStat{}, fmt.Errorf("process %d: %w", pid, unix.ESRCH)
	}
	stat, err := proc.Stat()
	if err != nil {
		return procfs.ProcStat{}, fmt.Errorf("process %d stat: %w", pid, unix.ESRCH)
	}
	switch stat.State {
	case "Z", "X", "x":
		return stat, fmt.Errorf("process %d is in state %s: %w", pid, stat.State, unix.ESRCH)
	}
	return stat, nil
}
