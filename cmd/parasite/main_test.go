package main

import (
	"fmt"
	"testing"

	"github.com/kubescape/compel/pkg/infectionmanager"
	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/compel/pkg/ptraceinfector"
	"github.com/kubescape/compel/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

func TestParsePids(t *testing.T) {
	pids, err := parsePids([]string{"1", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 42}, pids)

	for _, args := range [][]string{nil, {"abc"}, {"0"}, {"-3"}} {
		_, err := parsePids(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestExitCode(t *testing.T) {
	prepare := &parasite.Error{Kind: parasite.ErrPrepareFailed, Op: parasite.OpPrepare, Err: unix.EPERM}
	cure := &parasite.Error{Kind: parasite.ErrCureFailed, Op: parasite.OpCure, Err: unix.ESRCH}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, utils.ExitCodeSuccess},
		{"unsupported arch", fmt.Errorf("pid 1: %w", ptraceinfector.ErrUnsupportedArch), utils.ExitCodeUnsupportedArch},
		{"prepare", fmt.Errorf("pid 1: %w", prepare), utils.ExitCodePrepareFailed},
		{"infect", &parasite.Error{Kind: parasite.ErrInfectFailed, Op: parasite.OpInfect}, utils.ExitCodeInfectFailed},
		{"probe", fmt.Errorf("pid 1: %w", infectionmanager.ErrProbeMismatch), utils.ExitCodeProbeFailed},
		{"cure wins", multierr.Append(infectionmanager.ErrProbeMismatch, cure), utils.ExitCodeCureFailed},
		{"other", unix.ENOENT, utils.ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
