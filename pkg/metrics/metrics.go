// Package metrics exposes ledgerdb's runtime counters and histograms over
// Prometheus's client library, plus Collector, which implements the
// writer/reader/processor MetricsSink interfaces so those packages never
// import Prometheus directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerdb_events_appended_total",
			Help: "Total number of events successfully appended",
		},
	)

	BytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerdb_bytes_written_total",
			Help: "Total number of event payload bytes written",
		},
	)

	BlobInsertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerdb_blob_inserts_total",
			Help: "Total number of events routed to the blob sidecar namespace",
		},
	)

	AppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerdb_append_duration_seconds",
			Help:    "Time taken to append one event, including any encryption",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerdb_events_read_total",
			Help: "Total number of events successfully read",
		},
	)

	BytesReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerdb_bytes_read_total",
			Help: "Total number of event payload bytes read",
		},
	)

	ProcessorBatchesCommittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_processor_batches_committed_total",
			Help: "Total number of cursor-commit batches completed, by consumer",
		},
		[]string{"consumer"},
	)

	ProcessorEventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerdb_processor_events_processed_total",
			Help: "Total number of events handled by a processor, by consumer",
		},
		[]string{"consumer"},
	)

	ProcessorLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledgerdb_processor_lag",
			Help: "Difference between the global tail sequence and a consumer's committed cursor",
		},
		[]string{"consumer"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsAppendedTotal,
		BytesWrittenTotal,
		BlobInsertsTotal,
		AppendDuration,
		EventsReadTotal,
		BytesReadTotal,
		ProcessorBatchesCommittedTotal,
		ProcessorEventsProcessedTotal,
		ProcessorLag,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
