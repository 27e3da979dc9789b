package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the query service. Metrics are
// organized by subsystem: translation, search, cache, credentials and PDF
// handling. All counters and histograms are registered via promauto for
// automatic registration with the default Prometheus registry.
type Metrics struct {
	// TranslationsTotal counts translation attempts, labeled by outcome
	// ("valid" or the invalid reason).
	TranslationsTotal *prometheus.CounterVec

	// TranslationDuration observes translation duration in seconds.
	TranslationDuration prometheus.Histogram

	// FallbacksTotal counts queries resolved by the heuristic fallback builder.
	FallbacksTotal prometheus.Counter

	// SearchesTotal counts searches executed, labeled by request source
	// ("ai" or "fallback").
	SearchesTotal *prometheus.CounterVec

	// SearchesFailed counts searches that ended degraded.
	SearchesFailed prometheus.Counter

	// SearchDuration observes end-to-end search duration in seconds.
	SearchDuration prometheus.Histogram

	// CacheHits counts request cache hits.
	CacheHits prometheus.Counter

	// CacheMisses counts request cache misses.
	CacheMisses prometheus.Counter

	// RetryAttempts counts retry attempts, labeled by upstream source.
	RetryAttempts *prometheus.CounterVec

	// KeyRotations counts credential rotations in the key pool.
	KeyRotations prometheus.Counter

	// PDFDownloads counts PDF downloads, labeled by result ("ok", "miss", "error").
	PDFDownloads *prometheus.CounterVec

	// PDFCacheHits counts PDFs served from the local store.
	PDFCacheHits prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TranslationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Total number of AI translation attempts by outcome",
		}, []string{"outcome"}),
		TranslationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_duration_seconds",
			Help:      "AI translation duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		FallbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of queries resolved by the heuristic fallback",
		}),
		SearchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Total number of searches executed by request source",
		}, []string{"source"}),
		SearchesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_failed_total",
			Help:      "Total number of searches that returned a degraded response",
		}),
		SearchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end search duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of request cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of request cache misses",
		}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts by upstream source",
		}, []string{"source"}),
		KeyRotations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Total number of credential rotations",
		}),
		PDFDownloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_downloads_total",
			Help:      "Total number of PDF download attempts by result",
		}, []string{"result"}),
		PDFCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdf_cache_hits_total",
			Help:      "Total number of PDFs served from the local store",
		}),
	}
}

// RecordTranslation records one translation attempt with its outcome label
// and duration in seconds.
func (m *Metrics) RecordTranslation(outcome string, seconds float64) {
	m.TranslationsTotal.WithLabelValues(outcome).Inc()
	m.TranslationDuration.Observe(seconds)
}

// RecordFallback records a query resolved by the heuristic fallback builder.
func (m *Metrics) RecordFallback() {
	m.FallbacksTotal.Inc()
}

// RecordSearch records a completed search with its request source and
// duration in seconds.
func (m *Metrics) RecordSearch(source string, seconds float64) {
	m.SearchesTotal.WithLabelValues(source).Inc()
	m.SearchDuration.Observe(seconds)
}

// RecordSearchFailed records a search that returned a degraded response.
func (m *Metrics) RecordSearchFailed() {
	m.SearchesFailed.Inc()
}

// RecordCacheHit records a request cache hit.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a request cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// RecordRetry records a retry attempt against the named upstream.
func (m *Metrics) RecordRetry(source string) {
	m.RetryAttempts.WithLabelValues(source).Inc()
}

// RecordKeyRotation records a credential rotation.
func (m *Metrics) RecordKeyRotation() {
	m.KeyRotations.Inc()
}

// RecordPDFDownload records a PDF download attempt with its result label.
func (m *Metrics) RecordPDFDownload(result string) {
	m.PDFDownloads.WithLabelValues(result).Inc()
}

// RecordPDFCacheHit records a PDF served from the local store.
func (m *Metrics) RecordPDFCacheHit() {
	m.PDFCacheHits.Inc()
}
