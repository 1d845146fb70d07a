// Package metrics exports persistence-layer counters through Prometheus.
//
// inkwell is a short-lived CLI, so nothing is served over HTTP. Commands
// write the registry to a node_exporter textfile when they finish.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"inkwell/internal/durable"
)

const namespace = "inkwell"

// Collector implements durable.Metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	quotaBytes      prometheus.Gauge
	usageBytes      prometheus.Gauge
	percentUsed     prometheus.Gauge
	storageErrors   *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	queueDrained    *prometheus.CounterVec
	saveOutcomes    *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	snapshotsPruned prometheus.Counter
	recoveries      *prometheus.CounterVec
}

var _ durable.Metrics = (*Collector)(nil)

// NewCollector creates and registers every metric.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		quotaBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "storage", Name: "quota_bytes",
			Help: "Storage quota reported by the backend.",
		}),
		usageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "storage", Name: "usage_bytes",
			Help: "Storage currently in use.",
		}),
		percentUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "storage", Name: "used_ratio",
			Help: "Fraction of the quota in use.",
		}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "errors_total",
			Help: "Classified storage failures.",
		}, []string{"kind"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "depth",
			Help: "Writes waiting in the offline queue.",
		}),
		queueDrained: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "drained_total",
			Help: "Queued writes removed by a drain, by result.",
		}, []string{"result"}),
		saveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "save", Name: "outcomes_total",
			Help: "Safe save results.",
		}, []string{"outcome"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "created_total",
			Help: "Snapshots written.",
		}, []string{"type"}),
		snapshotsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "pruned_total",
			Help: "Snapshots removed by retention or cleanup.",
		}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recovery", Name: "attempts_total",
			Help: "Recovery tier attempts.",
		}, []string{"tier", "result"}),
	}

	for _, m := range []prometheus.Collector{
		c.quotaBytes, c.usageBytes, c.percentUsed, c.storageErrors,
		c.queueDepth, c.queueDrained, c.saveOutcomes,
		c.snapshots, c.snapshotsPruned, c.recoveries,
	} {
		if err := c.registry.Register(m); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}
	return c, nil
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ObserveQuota(info durable.QuotaInfo) {
	c.quotaBytes.Set(float64(info.Quota))
	c.usageBytes.Set(float64(info.Usage))
	c.percentUsed.Set(info.PercentUsed)
}

func (c *Collector) StorageError(kind durable.ErrorKind) {
	c.storageErrors.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) QueueDepth(n int) { c.queueDepth.Set(float64(n)) }

func (c *Collector) QueueDrained(succeeded, dropped int) {
	c.queueDrained.WithLabelValues("succeeded").Add(float64(succeeded))
	c.queueDrained.WithLabelValues("dropped").Add(float64(dropped))
}

func (c *Collector) SaveOutcome(outcome string) {
	c.saveOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) SnapshotCreated(automatic bool) {
	kind := "manual"
	if automatic {
		kind = "automatic"
	}
	c.snapshots.WithLabelValues(kind).Inc()
}

func (c *Collector) SnapshotsPruned(n int) { c.snapshotsPruned.Add(float64(n)) }

func (c *Collector) RecoveryAttempt(tier durable.RecoveryTier, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.recoveries.WithLabelValues(string(tier), result).Inc()
}

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
