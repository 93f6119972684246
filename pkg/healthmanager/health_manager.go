package healthmanager

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

// ReadinessChecker reports whether the process can take work.
type ReadinessChecker interface {
	Ready() bool
}

type HealthManager struct {
	readiness ReadinessChecker
	port      int
}

func NewHealthManager(port int) *HealthManager {
	return &HealthManager{
		port: port,
	}
}

func (h *HealthManager) SetReadinessChecker(readiness ReadinessChecker) {
	h.readiness = readiness
}

func (h *HealthManager) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", h.livenessProbe)
	mux.HandleFunc("/readyz", h.readinessProbe)
	return mux
}

func (h *HealthManager) Start(ctx context.Context) {
	go func() {
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", h.port),
			Handler:      h.Handler(),
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		logger.L().Info("starting health manager", helpers.Int("port", h.port))
		if err := srv.ListenAndServe(); err != nil {
			logger.L().Ctx(ctx).Fatal("failed to start health manager", helpers.Error(err), helpers.Int("port", h.port))
		}
	}()
}

func (h *HealthManager) livenessProbe(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *HealthManager) readinessProbe(w http.ResponseWriter, _ *http.Request) {
	if h.readiness != nil && h.readiness.Ready() {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
}
