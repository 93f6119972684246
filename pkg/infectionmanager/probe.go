package infectionmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"golang.org/x/sys/unix"
)

var ErrProbeMismatch = errors.New("probe returned a foreign pid")

// ProbeTask checks that code really runs inside the target by issuing getpid
// through the raw syscall path.
func ProbeTask(ctx context.Context, ctl *parasite.ParasiteCtl) error {
	ret, err := ctl.Syscall(unix.SYS_GETPID, [6]uint64{})
	if err != nil {
		return err
	}
	if ret != int64(ctl.Pid()) {
		return fmt.Errorf("%w: getpid returned %d, want %d", ErrProbeMismatch, ret, ctl.Pid())
	}
	logger.L().Ctx(ctx).Debug("probe succeeded", helpers.Int("pid", ctl.Pid()), helpers.String("id", ctl.ID()))
	return nil
}
