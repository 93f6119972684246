package metricsmanager

import (
	"sync/atomic"
	"time"

	"github.com/goradd/maps"
)

var _ MetricsManager = (*MetricsMock)(nil)

type MetricsMock struct {
	ActiveInfections       atomic.Int32
	OperationCounter       maps.SafeMap[string, int]
	FailedOperationCounter maps.SafeMap[string, int]
	OperationTime          maps.SafeMap[string, time.Duration]
	LogRecordCounter       maps.SafeMap[string, int]
}

func NewMetricsMock() *MetricsMock {
	return &MetricsMock{}
}

func (m *MetricsMock) Start() {
}

func (m *MetricsMock) Destroy() {
	m.ActiveInfections.Store(0)
	m.OperationCounter.Clear()
	m.FailedOperationCounter.Clear()
	m.OperationTime.Clear()
	m.LogRecordCounter.Clear()
}

func (m *MetricsMock) ReportOperation(op string, duration time.Duration) {
	m.OperationCounter.Set(op, m.OperationCounter.Get(op)+1)
	m.OperationTime.Set(op, duration)
}

func (m *MetricsMock) ReportFailedOperation(op string) {
	m.FailedOperationCounter.Set(op, m.FailedOperationCounter.Get(op)+1)
}

func (m *MetricsMock) ReportInfectionStarted() {
	m.ActiveInfections.Add(1)
}

func (m *MetricsMock) ReportInfectionEnded() {
	m.ActiveInfections.Add(-1)
}

func (m *MetricsMock) ReportLogRecord(source string) {
	m.LogRecordCounter.Set(source, m.LogRecordCounter.Get(source)+1)
}
