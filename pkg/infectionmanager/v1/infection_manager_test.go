package infectionmanager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kubescape/compel/pkg/config"
	"github.com/kubescape/compel/pkg/infectionmanager"
	"github.com/kubescape/compel/pkg/metricsmanager"
	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/compel/pkg/pielogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

func testConfig() config.Config {
	return config.Config{
		Threads:              1,
		ArgsBufferSize:       64,
		ScratchSize:          4096,
		PieLogPrefix:         pielogger.DefaultPiePrefix,
		WorkerPoolSize:       4,
		PrepareRetries:       3,
		PrepareRetryInterval: time.Millisecond,
	}
}

// flakyInfector fails the first failures prepares with err.
type flakyInfector struct {
	*parasite.InfectorMock
	err      error
	failures int32
	calls    atomic.Int32
}

func (f *flakyInfector) Prepare(pid int) (parasite.InfectContext, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}
	return f.InfectorMock.Prepare(pid)
}

func newManager(t *testing.T, cfg config.Config, infector parasite.Infector, sink pielogger.Sink) *InfectionManager {
	t.Helper()
	im, err := CreateInfectionManager(cfg, infector, metricsmanager.NewMetricsMock(), sink)
	require.NoError(t, err)
	t.Cleanup(im.Close)
	return im
}

func TestInfectRunsTaskAndCures(t *testing.T) {
	infector := parasite.NewInfectorMock()
	im := newManager(t, testConfig(), infector, nil)

	var seen parasite.State
	err := im.Infect(context.Background(), 42, func(ctx context.Context, ctl *parasite.ParasiteCtl) error {
		seen = ctl.State()
		return infectionmanager.ProbeTask(ctx, ctl)
	})
	require.NoError(t, err)
	assert.Equal(t, parasite.StateInfected, seen)
	assert.Equal(t, 1, infector.Contexts.Get(42).CureCalls)
	assert.Empty(t, im.Active())
}

func TestInfectPrepareRetries(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		failures  int32
		wantCalls int32
		wantErr   error
	}{
		{name: "transient then ok", err: unix.EAGAIN, failures: 2, wantCalls: 3},
		{name: "busy then ok", err: unix.EBUSY, failures: 1, wantCalls: 2},
		{name: "transient forever", err: unix.EINTR, failures: 100, wantCalls: 4, wantErr: unix.EINTR},
		{name: "permanent", err: unix.EPERM, failures: 100, wantCalls: 1, wantErr: parasite.ErrPrepareFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			infector := &flakyInfector{InfectorMock: parasite.NewInfectorMock(), err: tt.err, failures: tt.failures}
			im := newManager(t, testConfig(), infector, nil)

			err := im.Infect(context.Background(), 7, infectionmanager.ProbeTask)
			assert.Equal(t, tt.wantCalls, infector.calls.Load())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestInfectFailureIsCured(t *testing.T) {
	infector := parasite.NewInfectorMock()
	infector.InfectErr = unix.ENOMEM
	im := newManager(t, testConfig(), infector, nil)

	ran := false
	err := im.Infect(context.Background(), 9, func(context.Context, *parasite.ParasiteCtl) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, parasite.ErrInfectFailed)
	assert.False(t, ran)
	assert.Equal(t, 1, infector.Contexts.Get(9).CureCalls)
}

func TestInfectReturnsTaskAndCureErrors(t *testing.T) {
	infector := parasite.NewInfectorMock()
	infector.CureErr = unix.ESRCH
	im := newManager(t, testConfig(), infector, nil)

	errTask := errors.New("task failed")
	err := im.Infect(context.Background(), 9, func(context.Context, *parasite.ParasiteCtl) error {
		return errTask
	})
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, errTask)
	assert.ErrorIs(t, err, parasite.ErrCureFailed)
}

func TestInfectRejectsSecondControlBlock(t *testing.T) {
	im := newManager(t, testConfig(), parasite.NewInfectorMock(), nil)

	var nested error
	err := im.Infect(context.Background(), 5, func(ctx context.Context, ctl *parasite.ParasiteCtl) error {
		assert.Equal(t, []int{5}, im.Active())
		nested = im.Infect(ctx, 5, infectionmanager.ProbeTask)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, nested, infectionmanager.ErrAlreadyInfecting)
}

func TestInfectCancelledContext(t *testing.T) {
	infector := parasite.NewInfectorMock()
	im := newManager(t, testConfig(), infector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, im.Infect(ctx, 5, infectionmanager.ProbeTask), context.Canceled)
	assert.False(t, infector.Contexts.Has(5))
}

func TestInfectForwardsPieLog(t *testing.T) {
	infector := parasite.NewInfectorMock()
	sink := pielogger.NewSinkMock()
	cfg := testConfig()
	cfg.EnablePieLog = true
	im := newManager(t, cfg, infector, sink)

	err := im.Infect(context.Background(), 11, func(_ context.Context, ctl *parasite.ParasiteCtl) error {
		return infector.Contexts.Get(ctl.Pid()).WriteLog("pie: collected 3 vmas")
	})
	require.NoError(t, err)
	assert.Equal(t, []pielogger.Record{
		{Level: pielogger.LevelDebug, Source: pielogger.SourceTarget, Message: "collected 3 vmas"},
	}, sink.Records())
}

func TestInfectAll(t *testing.T) {
	infector := parasite.NewInfectorMock()
	infector.Syscalls[unix.SYS_GETPID] = func([6]uint64) int64 { return 1 }
	im := newManager(t, testConfig(), infector, nil)

	var probed atomic.Int32
	err := im.InfectAll(context.Background(), []int{1, 2, 3, 4, 5, 6}, func(ctx context.Context, ctl *parasite.ParasiteCtl) error {
		probed.Add(1)
		return infectionmanager.ProbeTask(ctx, ctl)
	})
	assert.Equal(t, int32(6), probed.Load())
	// only pid 1 gets its own pid back
	assert.Len(t, multierr.Errors(err), 5)
	assert.ErrorIs(t, err, infectionmanager.ErrProbeMismatch)
	assert.Empty(t, im.Active())
	assert.True(t, im.Ready())

	im.Close()
	assert.False(t, im.Ready())
}
