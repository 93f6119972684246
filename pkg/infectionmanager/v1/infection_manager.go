package infectionmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/kubescape/compel/pkg/config"
	"github.com/kubescape/compel/pkg/infectionmanager"
	"github.com/kubescape/compel/pkg/metricsmanager"
	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/compel/pkg/pielogger"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

var _ infectionmanager.InfectionManagerClient = (*InfectionManager)(nil)

type InfectionManager struct {
	cfg      config.Config
	infector parasite.Infector
	metrics  metricsmanager.MetricsManager
	// sink of the injected code's log stream, nil when disabled
	pieSink    pielogger.Sink
	workerPool *ants.Pool
	active     mapset.Set[int]
}

func CreateInfectionManager(cfg config.Config, infector parasite.Infector, metrics metricsmanager.MetricsManager, pieSink pielogger.Sink) (*InfectionManager, error) {
	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	if !cfg.EnablePieLog {
		pieSink = nil
	}
	return &InfectionManager{
		cfg:        cfg,
		infector:   infector,
		metrics:    metrics,
		pieSink:    pieSink,
		workerPool: pool,
		active:     mapset.NewSet[int](),
	}, nil
}

func (im *InfectionManager) Infect(ctx context.Context, pid int, task infectionmanager.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !im.active.Add(pid) {
		return fmt.Errorf("pid %d: %w", pid, infectionmanager.ErrAlreadyInfecting)
	}
	defer im.active.Remove(pid)

	ctl, err := im.prepare(ctx, pid)
	if err != nil {
		return err
	}

	if err := ctl.Infect(im.cfg.Threads, im.cfg.ArgsBufferSize); err != nil {
		return multierr.Append(err, ctl.Cure())
	}
	logger.L().Debug("InfectionManager - infected",
		helpers.Int("pid", pid),
		helpers.String("id", ctl.ID()),
		helpers.String("argsBuffer", humanize.IBytes(uint64(im.cfg.ArgsBufferSize))))

	im.attachPieLogger(ctl)

	taskErr := task(ctx, ctl)
	if taskErr != nil {
		logger.L().Ctx(ctx).Warning("InfectionManager - task failed", helpers.Int("pid", pid), helpers.Error(taskErr))
	}
	return multierr.Append(taskErr, ctl.Cure())
}

func (im *InfectionManager) prepare(ctx context.Context, pid int) (*parasite.ParasiteCtl, error) {
	var ctl *parasite.ParasiteCtl
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(im.cfg.PrepareRetryInterval), uint64(im.cfg.PrepareRetries)), ctx)
	err := backoff.RetryNotify(func() error {
		var err error
		ctl, err = parasite.Prepare(im.infector, pid, parasite.WithMetrics(im.metrics))
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, d time.Duration) {
		logger.L().Ctx(ctx).Warning("InfectionManager - prepare", helpers.Error(err),
			helpers.Int("pid", pid),
			helpers.String("retry in", d.String()))
	})
	if err != nil {
		return nil, err
	}
	return ctl, nil
}

// errnos of targets caught mid clone, exec or signal delivery
func transient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EINTR)
}

func (im *InfectionManager) attachPieLogger(ctl *parasite.ParasiteCtl) {
	if im.pieSink == nil {
		return
	}
	pie, err := pielogger.NewPieLogger(im.pieSink, pielogger.WithPrefix(im.cfg.PieLogPrefix), pielogger.WithMetrics(im.metrics))
	if err != nil {
		logger.L().Warning("InfectionManager - pie logger disabled", helpers.Int("pid", ctl.Pid()), helpers.Error(err))
		return
	}
	if err := ctl.AttachPieLogger(pie); err != nil {
		logger.L().Warning("InfectionManager - attaching pie logger", helpers.Int("pid", ctl.Pid()), helpers.Error(err))
		_ = pie.Close()
	}
}

func (im *InfectionManager) InfectAll(ctx context.Context, pids []int, task infectionmanager.Task) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	record := func(pid int, err error) {
		mu.Lock()
		errs = multierr.Append(errs, fmt.Errorf("pid %d: %w", pid, err))
		mu.Unlock()
	}
	for _, pid := range pids {
		wg.Add(1)
		if err := im.workerPool.Submit(func() {
			defer wg.Done()
			if err := im.Infect(ctx, pid, task); err != nil {
				record(pid, err)
			}
		}); err != nil {
			wg.Done()
			record(pid, err)
		}
	}
	wg.Wait()
	return errs
}

func (im *InfectionManager) Active() []int {
	return im.active.ToSlice()
}

func (im *InfectionManager) Ready() bool {
	return !im.workerPool.IsClosed()
}

func (im *InfectionManager) Close() {
	im.workerPool.Release()
}
