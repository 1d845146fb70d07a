package durable

// Metrics receives counters and gauges from the persistence layer.
// internal/metrics provides a Prometheus implementation.
type Metrics interface {
	ObserveQuota(info QuotaInfo)
	StorageError(kind ErrorKind)
	QueueDepth(n int)
	QueueDrained(succeeded, dropped int)
	SaveOutcome(outcome string)
	SnapshotCreated(automatic bool)
	SnapshotsPruned(n int)
	RecoveryAttempt(tier RecoveryTier, success bool)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) ObserveQuota(QuotaInfo)             {}
func (NopMetrics) StorageError(ErrorKind)             {}
func (NopMetrics) QueueDepth(int)                     {}
func (NopMetrics) QueueDrained(int, int)              {}
func (NopMetrics) SaveOutcome(string)                 {}
func (NopMetrics) SnapshotCreated(bool)               {}
func (NopMetrics) SnapshotsPruned(int)                {}
func (NopMetrics) RecoveryAttempt(RecoveryTier, bool) {}

var _ Metrics = NopMetrics{}
