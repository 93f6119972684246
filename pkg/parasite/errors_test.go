package parasite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "errno", err: unix.ESRCH, status: -int(unix.ESRCH)},
		{name: "wrapped errno", err: fmt.Errorf("seize 12: %w", unix.EPERM), status: -int(unix.EPERM)},
		{name: "explicit status", err: &StatusError{Code: -22, Msg: "bad blob"}, status: -22},
		{name: "opaque", err: errors.New("boom"), status: -1},
		{name: "nothing", err: nil, status: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, newError(ErrInfectFailed, OpInfect, tt.err).Status)
		})
	}
}

func TestErrorMatching(t *testing.T) {
	err := error(newError(ErrPrepareFailed, OpPrepare, fmt.Errorf("seize: %w", unix.EPERM)))

	assert.ErrorIs(t, err, ErrPrepareFailed)
	assert.ErrorIs(t, err, unix.EPERM)
	assert.NotErrorIs(t, err, ErrInfectFailed)
	assert.True(t, IsKind(err, ErrPrepareFailed))
	assert.False(t, IsKind(err, ErrCureFailed))
	assert.False(t, IsKind(unix.EPERM, ErrPrepareFailed))
	assert.Equal(t, "prepare: prepare failed (status -1): seize: operation not permitted", err.Error())
}
