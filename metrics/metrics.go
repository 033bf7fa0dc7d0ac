package metrics

import (
	"log"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dispatch outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeContended = "contended"
)

var EventsIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_webhook_events_ingested_total",
		Help: "Webhook events persisted to the event store",
	},
	[]string{"source"},
)

var IntakeRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_webhook_intake_rejected_total",
		Help: "Webhook notifications rejected before persistence",
	},
	[]string{"field"},
)

var EventsDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_webhook_events_dispatched_total",
		Help: "Dispatch outcomes per source and table",
	},
	[]string{"source", "table", "outcome"},
)

var DispatchBatches = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "pipeline_dispatch_batches_total",
		Help: "Dispatcher batches run",
	},
)

var RollupRuns = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pipeline_rollup_runs_total",
		Help: "Snapshot and rollup runs by final sync status",
	},
	[]string{"operation", "status"},
)

var RollupDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pipeline_rollup_duration_seconds",
		Help:    "Snapshot and rollup run duration",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

var once sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(EventsIngested, IntakeRejected, EventsDispatched, DispatchBatches, RollupRuns, RollupDuration)
		log.Println("📈 Prometheus collectors registered")
	})
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
