// Package metrics backs the directory logger's OutputStats and
// CompactionStats (named directly in the algorithmic contract for the
// table logger and directory logger) with real prometheus counters and
// gauges, plus a bloom filter outcome observer modeled on
// weaviate-weaviate's lsmkv bloom filter metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry creates and registers a handful of prometheus collectors once
// at construction, so the write and read paths (EndBlock, EndTable,
// compactions, bloom filter probes) update those collectors directly and
// never call into the prometheus registry itself. Labeled collectors are
// looked up by label value on each update.
type Registry struct {
	bytesWritten   *prometheus.CounterVec
	tablesWritten  prometheus.Counter
	epochsWritten  prometheus.Counter
	compactions    prometheus.Counter
	compactionTime prometheus.Histogram
	bloomOutcomes  *prometheus.CounterVec
}

// NewRegistry registers this store's collectors on reg under a common
// namespace and returns a bound Registry. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from any global default
// registry.
func NewRegistry(reg prometheus.Registerer, namespace string) *Registry {
	r := &Registry{
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes written to the data or index log, by log name.",
		}, []string{"log"}),
		tablesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_written_total",
			Help:      "Tables finalized by EndTable.",
		}),
		epochsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_written_total",
			Help:      "Epochs finalized by EndEpoch.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Background compactions completed.",
		}),
		compactionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Wall time of a single background compaction.",
		}),
		bloomOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bloom_filter_outcomes_total",
			Help:      "Bloom filter probe outcomes during Read.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(r.bytesWritten, r.tablesWritten, r.epochsWritten,
		r.compactions, r.compactionTime, r.bloomOutcomes)
	return r
}

// AddBytesWritten records n bytes appended to the named log ("data" or
// "index").
func (r *Registry) AddBytesWritten(log string, n int) {
	if r == nil {
		return
	}
	r.bytesWritten.WithLabelValues(log).Add(float64(n))
}

// IncTablesWritten records one finalized table.
func (r *Registry) IncTablesWritten() {
	if r == nil {
		return
	}
	r.tablesWritten.Inc()
}

// IncEpochsWritten records one finalized epoch.
func (r *Registry) IncEpochsWritten() {
	if r == nil {
		return
	}
	r.epochsWritten.Inc()
}

// ObserveCompaction records one completed compaction's duration.
func (r *Registry) ObserveCompaction(seconds float64) {
	if r == nil {
		return
	}
	r.compactions.Inc()
	r.compactionTime.Observe(seconds)
}

// BloomFilterObserver outcomes, matching lsmkv's three-way split between
// a filter correctly rejecting a key, a filter admitting a key that
// turns out absent, and a filter admitting a key that is present.
const (
	OutcomeTrueNegative  = "true_negative"
	OutcomeFalsePositive = "false_positive"
	OutcomeTruePositive  = "true_positive"
)

// ObserveBloomOutcome records one bloom filter probe's outcome.
func (r *Registry) ObserveBloomOutcome(outcome string) {
	if r == nil {
		return
	}
	r.bloomOutcomes.WithLabelValues(outcome).Inc()
}
