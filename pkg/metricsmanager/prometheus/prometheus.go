package metricsmanager

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kubescape/compel/pkg/metricsmanager"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	operationLabel = "operation"
	sourceLabel    = "source"
)

var _ metricsmanager.MetricsManager = (*PrometheusMetric)(nil)

type PrometheusMetric struct {
	port                   int
	operationCounter       *prometheus.CounterVec
	failedOperationCounter *prometheus.CounterVec
	operationTime          *prometheus.HistogramVec
	activeInfections       prometheus.Gauge
	infectionCounter       prometheus.Counter
	logRecordCounter       *prometheus.CounterVec
}

func NewPrometheusMetric(port int) *PrometheusMetric {
	return &PrometheusMetric{
		port: port,
		operationCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compel_operation_counter",
			Help: "The total number of parasite operations completed, by operation",
		}, []string{operationLabel}),
		failedOperationCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compel_operation_failure_counter",
			Help: "The total number of failed parasite operations, by operation",
		}, []string{operationLabel}),
		operationTime: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compel_operation_time_seconds",
			Help:    "Time taken by a parasite operation against the target",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		}, []string{operationLabel}),
		activeInfections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "compel_active_infections",
			Help: "The number of control blocks currently holding a target",
		}),
		infectionCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "compel_infection_counter",
			Help: "The total number of infection windows opened",
		}),
		logRecordCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "compel_log_record_counter",
			Help: "The total number of log records forwarded, by source",
		}, []string{sourceLabel}),
	}
}

func (p *PrometheusMetric) Start() {
	// Start prometheus metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.L().Info("prometheus metrics server started", helpers.Int("port", p.port), helpers.String("path", "/metrics"))
		logger.L().Fatal(http.ListenAndServe(fmt.Sprintf(":%d", p.port), nil).Error())
	}()
}

func (p *PrometheusMetric) Destroy() {
	prometheus.Unregister(p.operationCounter)
	prometheus.Unregister(p.failedOperationCounter)
	prometheus.Unregister(p.operationTime)
	prometheus.Unregister(p.activeInfections)
	prometheus.Unregister(p.infectionCounter)
	prometheus.Unregister(p.logRecordCounter)
}

func (p *PrometheusMetric) ReportOperation(op string, duration time.Duration) {
	p.operationCounter.WithLabelValues(op).Inc()
	p.operationTime.WithLabelValues(op).Observe(duration.Seconds())
}

func (p *PrometheusMetric) ReportFailedOperation(op string) {
	p.failedOperationCounter.WithLabelValues(op).Inc()
}

func (p *PrometheusMetric) ReportInfectionStarted() {
	p.infectionCounter.Inc()
	p.activeInfections.Inc()
}

func (p *PrometheusMetric) ReportInfectionEnded() {
	p.activeInfections.Dec()
}

func (p *PrometheusMetric) ReportLogRecord(source string) {
	p.logRecordCounter.WithLabelValues(source).Inc()
}
