package metricsmanager

import "time"

// MetricsManager is an interface for reporting metrics
type MetricsManager interface {
	Start()
	Destroy()
	ReportOperation(op string, duration time.Duration)
	ReportFailedOperation(op string)
	ReportInfectionStarted()
	ReportInfectionEnded()
	ReportLogRecord(source string)
}
