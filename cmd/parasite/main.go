package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kubescape/compel/pkg/config"
	"github.com/kubescape/compel/pkg/healthmanager"
	"github.com/kubescape/compel/pkg/infectionmanager"
	infectionmanagerv1 "github.com/kubescape/compel/pkg/infectionmanager/v1"
	"github.com/kubescape/compel/pkg/metricsmanager"
	metricprometheus "github.com/kubescape/compel/pkg/metricsmanager/prometheus"
	"github.com/kubescape/compel/pkg/parasite"
	"github.com/kubescape/compel/pkg/pielogger"
	"github.com/kubescape/compel/pkg/ptraceinfector"
	"github.com/kubescape/compel/pkg/utils"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configDir := "/etc/config"
	if envPath := os.Getenv("CONFIG_DIR"); envPath != "" {
		configDir = envPath
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("load config error", helpers.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.L().Ctx(ctx).Fatal("invalid config", helpers.Error(err))
	}
	if err := logger.L().SetLevel(cfg.LogLevel); err != nil {
		logger.L().Warning("unknown log level, keeping default", helpers.String("level", cfg.LogLevel))
	}

	pids, err := parsePids(os.Args[1:])
	if err != nil {
		logger.L().Ctx(ctx).Fatal("usage: parasite <pid>...", helpers.Error(err))
	}

	pielogger.Initialize(pielogger.GoLoggerSink{})

	var metrics metricsmanager.MetricsManager
	if cfg.EnablePrometheusExporter {
		metrics = metricprometheus.NewPrometheusMetric(cfg.MetricsPort)
	} else {
		metrics = metricsmanager.NewMetricsMock()
	}
	metrics.Start()

	var opts []ptraceinfector.Option
	if cfg.PayloadPath != "" {
		payload, err := ptraceinfector.LoadPayload(afero.NewOsFs(), cfg.PayloadPath, cfg.PayloadEntry)
		if err != nil {
			logger.L().Ctx(ctx).Fatal("error loading payload", helpers.Error(err))
		}
		opts = append(opts, ptraceinfector.WithPayload(payload))
	}
	opts = append(opts, ptraceinfector.WithScratchSize(cfg.ScratchSize))

	infector, err := ptraceinfector.NewInfector(cfg.ProcfsPath, opts...)
	if err != nil {
		logger.L().Ctx(ctx).Fatal("error creating infector", helpers.Error(err))
	}

	manager, err := infectionmanagerv1.CreateInfectionManager(cfg, infector, metrics, pielogger.GoLoggerSink{})
	if err != nil {
		logger.L().Ctx(ctx).Fatal("error creating infection manager", helpers.Error(err))
	}
	healthManager := healthmanager.NewHealthManager(cfg.HealthPort)
	healthManager.SetReadinessChecker(manager)
	healthManager.Start(ctx)

	err = manager.InfectAll(ctx, pids, infectionmanager.ProbeTask)
	if err != nil {
		logger.L().Ctx(ctx).Error("probe failed", helpers.Error(err))
	} else {
		logger.L().Info("probe succeeded", helpers.Int("targets", len(pids)))
	}

	code := exitCode(err)
	// deferred calls do not run on os.Exit
	manager.Close()
	metrics.Destroy()
	stop()
	os.Exit(code)
}

func parsePids(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, errors.New("no pid given")
	}
	pids := make([]int, 0, len(args))
	for _, arg := range args {
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			return nil, errors.New("invalid pid " + strconv.Quote(arg))
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// exitCode maps the first matching failure kind. Cure failures take
// precedence over probe failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return utils.ExitCodeSuccess
	case errors.Is(err, ptraceinfector.ErrUnsupportedArch):
		return utils.ExitCodeUnsupportedArch
	case errors.Is(err, parasite.ErrCureFailed):
		return utils.ExitCodeCureFailed
	case errors.Is(err, parasite.ErrPrepareFailed):
		return utils.ExitCodePrepareFailed
	case errors.Is(err, parasite.ErrInfectFailed):
		return utils.ExitCodeInfectFailed
	case errors.Is(err, infectionmanager.ErrProbeMismatch),
		errors.Is(err, parasite.ErrSyscallDispatchFailed),
		errors.Is(err, parasite.ErrRPCCallFailed):
		return utils.ExitCodeProbeFailed
	}
	return utils.ExitCodeError
}
