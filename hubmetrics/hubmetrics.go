// Package hubmetrics exports a channel's header counters as Prometheus
// metrics. The counters themselves already live in shared memory and
// are updated by whichever process holds the producer or consumer
// handle, so this package is a pull-based Collector rather than
// something callers push updates into directly — at scrape time it
// reads the header atomics of every registered channel.
package hubmetrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pylabhub/hub/shm"
)

// HeaderSource is satisfied by hub.Producer, hub.Consumer, and
// recovery.Diagnostic — anything holding a live mapping of a channel's
// header.
type HeaderSource interface {
	Header() *shm.Header
}

// Exporter is a prometheus.Collector over a dynamic set of named
// channels. Channels can be registered and unregistered as producers
// and consumers come and go; Collect only ever reads, never mutates,
// the underlying header.
type Exporter struct {
	mu      sync.Mutex
	sources map[string]HeaderSource

	writeCount       *prometheus.Desc
	overrunCount     *prometheus.Desc
	acquireFailures  *prometheus.Desc
	integrityFailures *prometheus.Desc
	writeIndex       *prometheus.Desc
	generation       *prometheus.Desc
}

// NewExporter constructs an empty exporter. Register it with a
// prometheus.Registry the way any other Collector is registered.
func NewExporter() *Exporter {
	label := []string{"channel"}
	return &Exporter{
		sources: make(map[string]HeaderSource),
		writeCount: prometheus.NewDesc(
			"pylabhub_write_total", "Total commits accepted by this channel's producer.", label, nil),
		overrunCount: prometheus.NewDesc(
			"pylabhub_overrun_total", "Total readers evicted by a writer or recovery tool, plus consumer ring-lap overruns.", label, nil),
		acquireFailures: prometheus.NewDesc(
			"pylabhub_acquire_failure_total", "Total acquire_latest calls that timed out.", label, nil),
		integrityFailures: prometheus.NewDesc(
			"pylabhub_integrity_failure_total", "Total checksum validation failures observed by readers.", label, nil),
		writeIndex: prometheus.NewDesc(
			"pylabhub_write_index", "Current monotonic write index.", label, nil),
		generation: prometheus.NewDesc(
			"pylabhub_generation", "Current generation counter (bumped by force_reset).", label, nil),
	}
}

// Register adds a channel to the collector's scrape set. A second
// Register under the same name replaces the previous source.
func (e *Exporter) Register(name string, src HeaderSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[name] = src
}

// Unregister removes a channel from the scrape set, typically called
// from the owner's Close/Destroy path.
func (e *Exporter) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sources, name)
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.writeCount
	ch <- e.overrunCount
	ch <- e.acquireFailures
	ch <- e.integrityFailures
	ch <- e.writeIndex
	ch <- e.generation
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.Lock()
	snapshot := make(map[string]HeaderSource, len(e.sources))
	for name, src := range e.sources {
		snapshot[name] = src
	}
	e.mu.Unlock()

	for name, src := range snapshot {
		h := src.Header()
		ch <- prometheus.MustNewConstMetric(e.writeCount, prometheus.CounterValue,
			float64(atomic.LoadUint64(&h.WriteCount)), name)
		ch <- prometheus.MustNewConstMetric(e.overrunCount, prometheus.CounterValue,
			float64(atomic.LoadUint64(&h.OverrunCount)), name)
		ch <- prometheus.MustNewConstMetric(e.acquireFailures, prometheus.CounterValue,
			float64(atomic.LoadUint64(&h.AcquireFailureCount)), name)
		ch <- prometheus.MustNewConstMetric(e.integrityFailures, prometheus.CounterValue,
			float64(atomic.LoadUint64(&h.IntegrityFailureCount)), name)
		ch <- prometheus.MustNewConstMetric(e.writeIndex, prometheus.GaugeValue,
			float64(atomic.LoadUint64(&h.WriteIndex)), name)
		ch <- prometheus.MustNewConstMetric(e.generation, prometheus.GaugeValue,
			float64(atomic.LoadUint64(&h.Generation)), name)
	}
}
