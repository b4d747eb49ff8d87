// Package metrics provides similarity search metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SearchMetrics contains Prometheus metrics for vector similarity search operations
type SearchMetrics struct {
	registry *prometheus.Registry

	// Query metrics
	queriesTotal   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	resultSizeHist *prometheus.HistogramVec

	// Embedding cache metrics
	cacheOperationsTotal *prometheus.CounterVec

	// Index maintenance metrics
	indexUpsertsTotal       *prometheus.CounterVec
	summaryGenerationsTotal *prometheus.CounterVec

	// Embedding API usage metrics
	embeddingTokensTotal prometheus.Counter

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewSearchMetrics creates and registers new search metrics
func NewSearchMetrics(registry *prometheus.Registry) (*SearchMetrics, error) {
	m := &SearchMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *SearchMetrics) initMetrics() error {
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_queries_total",
			Help: "Total number of similarity search queries",
		},
		[]string{"mode", "status"}, // mode: text, object; status: success, error
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_stage_duration_seconds",
			Help:    "Time taken for each stage of the search pipeline",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~40s
		},
		[]string{"stage"}, // stage: embedding, vector_query, total
	)

	m.resultSizeHist = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_results_returned",
			Help:    "Number of results returned by search queries",
			Buckets: []float64{1, 5, 10, 25, 50, 100},
		},
		[]string{"mode"},
	)

	m.cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_embedding_cache_operations_total",
			Help: "Total number of embedding cache lookups",
		},
		[]string{"result"}, // result: hit, miss
	)

	m.indexUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_index_upserts_total",
			Help: "Total number of vector index upsert operations",
		},
		[]string{"status"},
	)

	m.summaryGenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_summary_generations_total",
			Help: "Total number of source summary generations",
		},
		[]string{"status"},
	)

	m.embeddingTokensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "search_embedding_tokens_total",
		Help: "Total number of tokens consumed by the embedding API",
	})

	m.collectors = []prometheus.Collector{
		m.queriesTotal,
		m.stageDuration,
		m.resultSizeHist,
		m.cacheOperationsTotal,
		m.indexUpsertsTotal,
		m.summaryGenerationsTotal,
		m.embeddingTokensTotal,
	}

	return nil
}

// Describe implements the Collector interface
func (m *SearchMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *SearchMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordQuery records a similarity search query and its outcome
func (m *SearchMetrics) RecordQuery(mode, status string) {
	m.queriesTotal.WithLabelValues(mode, status).Inc()
}

// RecordStageDuration records the duration of a search pipeline stage
func (m *SearchMetrics) RecordStageDuration(stage string, duration float64) {
	m.stageDuration.WithLabelValues(stage).Observe(duration)
}

// RecordResultSize records the number of results returned by a query
func (m *SearchMetrics) RecordResultSize(mode string, resultSize int) {
	m.resultSizeHist.WithLabelValues(mode).Observe(float64(resultSize))
}

// RecordCacheOperation records an embedding cache lookup
func (m *SearchMetrics) RecordCacheOperation(result string) {
	m.cacheOperationsTotal.WithLabelValues(result).Inc()
}

// RecordIndexUpsert records a vector index upsert operation
func (m *SearchMetrics) RecordIndexUpsert(status string) {
	m.indexUpsertsTotal.WithLabelValues(status).Inc()
}

// RecordSummaryGeneration records a source summary generation
func (m *SearchMetrics) RecordSummaryGeneration(status string) {
	m.summaryGenerationsTotal.WithLabelValues(status).Inc()
}

// AddEmbeddingTokens adds to the count of tokens consumed by the embedding API
func (m *SearchMetrics) AddEmbeddingTokens(tokens int) {
	m.embeddingTokensTotal.Add(float64(tokens))
}
