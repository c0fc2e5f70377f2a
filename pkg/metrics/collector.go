package metrics

import (
	"strconv"
	"time"
)

// Collector implements writer.MetricsSink and reader.MetricsSink directly
// (both are satisfied structurally, so this package never imports either),
// and hands out a per-consumer ConsumerSink satisfying processor.MetricsSink
// for each processor that wants labeled batch/lag metrics.
type Collector struct{}

// NewCollector builds a Collector wired to the package-level metric
// variables in metrics.go.
func NewCollector() *Collector {
	return &Collector{}
}

// ObserveAppend satisfies writer.MetricsSink.
func (c *Collector) ObserveAppend(payloadBytes int, blob bool, duration time.Duration) {
	EventsAppendedTotal.Inc()
	BytesWrittenTotal.Add(float64(payloadBytes))
	if blob {
		BlobInsertsTotal.Inc()
	}
	AppendDuration.Observe(duration.Seconds())
}

// ObserveRead satisfies reader.MetricsSink.
func (c *Collector) ObserveRead(payloadBytes int) {
	EventsReadTotal.Inc()
	BytesReadTotal.Add(float64(payloadBytes))
}

// ForConsumer returns a ConsumerSink labeled with consumerID, satisfying
// processor.MetricsSink.
func (c *Collector) ForConsumer(consumerID uint64) *ConsumerSink {
	return &ConsumerSink{label: strconv.FormatUint(consumerID, 10)}
}

// ConsumerSink reports one consumer's processor batch/lag metrics under
// its own Prometheus label.
type ConsumerSink struct {
	label string
}

// ObserveBatch satisfies processor.MetricsSink.
func (s *ConsumerSink) ObserveBatch(processed int, lagSeq uint64) {
	ProcessorBatchesCommittedTotal.WithLabelValues(s.label).Inc()
	ProcessorEventsProcessedTotal.WithLabelValues(s.label).Add(float64(processed))
	ProcessorLag.WithLabelValues(s.label).Set(float64(lagSeq))
}
