// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's collectors. One instance lives in the
// composition root and is injected where counts happen.
type Metrics struct {
	registry *prometheus.Registry

	OperationsEnqueued *prometheus.CounterVec
	OperationsSynced   prometheus.Counter
	OperationsFailed   prometheus.Counter
	SyncBatches        prometheus.Counter
	QueuePending       prometheus.Gauge
	Online             prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		OperationsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_operations_enqueued_total",
			Help: "Mutations added to the sync queue, by category.",
		}, []string{"category"}),
		OperationsSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_operations_synced_total",
			Help: "Queued operations confirmed against the remote system.",
		}),
		OperationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_operations_failed_total",
			Help: "Replay attempts that ended in failure.",
		}),
		SyncBatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_sync_batches_total",
			Help: "Replay batches run to completion.",
		}),
		QueuePending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_queue_pending",
			Help: "Operations currently awaiting replay.",
		}),
		Online: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fieldsync_online",
			Help: "1 when the network monitor considers the remote reachable.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
