// Package metrics provides Prometheus metrics for lectern
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the query and indexing paths.
type Metrics struct {
	registry *prometheus.Registry

	// query path
	QueriesTotal       *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	DegradedRetrievals prometheus.Counter
	GenerationFailures prometheus.Counter
	TokensUsedTotal    prometheus.Counter
	ActiveSessions     prometheus.Gauge

	// indexing path
	IndexedChunksTotal prometheus.Counter
	FailedBatchesTotal prometheus.Counter
	IndexRunsTotal     *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lectern_queries_total",
			Help: "Total number of chatbot queries by outcome",
		}, []string{"outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lectern_query_stage_duration_seconds",
			Help:    "Duration of each query pipeline stage in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		DegradedRetrievals: f.NewCounter(prometheus.CounterOpts{
			Name: "lectern_degraded_retrievals_total",
			Help: "Queries answered without retrieved context because retrieval failed",
		}),
		GenerationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "lectern_generation_failures_total",
			Help: "Completion calls that failed",
		}),
		TokensUsedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lectern_tokens_used_total",
			Help: "Tokens reported by the completion service",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "lectern_active_sessions",
			Help: "Conversation sessions currently held",
		}),
		IndexedChunksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lectern_indexed_chunks_total",
			Help: "Chunks embedded and upserted into the vector index",
		}),
		FailedBatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lectern_failed_batches_total",
			Help: "Indexing batches skipped after an embedding or upsert failure",
		}),
		IndexRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lectern_index_runs_total",
			Help: "Indexing runs by outcome",
		}, []string{"outcome"}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveQuery(outcome string, degraded bool, tokens int) {
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	if degraded {
		m.DegradedRetrievals.Inc()
	}
	if outcome == "generation_failed" {
		m.GenerationFailures.Inc()
	}
	if tokens > 0 {
		m.TokensUsedTotal.Add(float64(tokens))
	}
}

func (m *Metrics) ObserveBatch(chunks int, err error) {
	if err != nil {
		m.FailedBatchesTotal.Inc()
		return
	}
	m.IndexedChunksTotal.Add(float64(chunks))
}

func (m *Metrics) ObserveRun(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.IndexRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) { m.ActiveSessions.Set(float64(n)) }
