// Package metrics defines the Prometheus collectors shared by the pipeline
// workers and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message outcomes as seen by the consumer loop.
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeDiscarded  = "discarded"
	OutcomeDeadLetter = "dead_letter"
	OutcomeRetry      = "retry"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	MessagesTotal        *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	TransitionsTotal     *prometheus.CounterVec
	ExtractionsTotal     *prometheus.CounterVec
	ChunksWrittenTotal   prometheus.Counter
	DeadLettersTotal     *prometheus.CounterVec
	DocsIndexedTotal     prometheus.Counter
	IndexFlushesTotal    *prometheus.CounterVec
	ShardChunkCount      *prometheus.GaugeVec
	CircuitBreakerState  *prometheus.GaugeVec
	EmbeddingErrorsTotal prometheus.Counter
	BlobRetriesTotal     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_messages_total",
				Help: "Messages consumed by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Time spent handling one message, by stage.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_transitions_total",
				Help: "Committed document status transitions.",
			},
			[]string{"from", "to"},
		),
		ExtractionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_extraction_total",
				Help: "Extraction results by format and method.",
			},
			[]string{"format", "method"},
		),
		ChunksWrittenTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_chunks_written_total",
				Help: "Chunks persisted by the transform stage.",
			},
		),
		DeadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_dead_letters_total",
				Help: "Messages routed to a dead-letter topic.",
			},
			[]string{"topic", "error_type"},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_docs_indexed_total",
				Help: "Documents written to the search index.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_index_flushes_total",
				Help: "Total index flush operations by status.",
			},
			[]string{"status"},
		),
		ShardChunkCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "search_shard_chunk_count",
				Help: "Number of chunks held in memory per shard.",
			},
			[]string{"shard_id"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		EmbeddingErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_embedding_errors_total",
				Help: "Chunk batches whose embedding failed.",
			},
		),
		BlobRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_blob_fetch_retries_total",
				Help: "Blob reads retried after an infrastructure error, by stage.",
			},
			[]string{"stage"},
		),
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.StageDuration,
		m.TransitionsTotal,
		m.ExtractionsTotal,
		m.ChunksWrittenTotal,
		m.DeadLettersTotal,
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.ShardChunkCount,
		m.CircuitBreakerState,
		m.EmbeddingErrorsTotal,
		m.BlobRetriesTotal,
	)

	return m
}

// ObserveMessage records one consumed message. Safe on a nil receiver so
// components can run without metrics in tests.
func (m *Metrics) ObserveMessage(stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(stage, outcome).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveExtraction(format, method string) {
	if m == nil {
		return
	}
	m.ExtractionsTotal.WithLabelValues(format, method).Inc()
}

func (m *Metrics) ObserveChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksWrittenTotal.Add(float64(n))
}

func (m *Metrics) ObserveDeadLetter(topic, errorType string) {
	if m == nil {
		return
	}
	m.DeadLettersTotal.WithLabelValues(topic, errorType).Inc()
}

func (m *Metrics) ObserveIndexed() {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
}

func (m *Metrics) ObserveFlush(status string) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetShardChunks(shard string, n int) {
	if m == nil {
		return
	}
	m.ShardChunkCount.WithLabelValues(shard).Set(float64(n))
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) ObserveEmbeddingError() {
	if m == nil {
		return
	}
	m.EmbeddingErrorsTotal.Inc()
}

func (m *Metrics) ObserveBlobRetry(stage string) {
	if m == nil {
		return
	}
	m.BlobRetriesTotal.WithLabelValues(stage).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
