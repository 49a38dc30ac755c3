package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "hive"
	subsystem = "router"
)

// Metrics collects dispatch metrics.
type Metrics interface {
	RecordRequest(ctx context.Context, labels RequestLabels)
	RecordLatency(ctx context.Context, duration time.Duration, labels RequestLabels)
	RecordTokens(ctx context.Context, tokens int, labels RequestLabels)
	RecordAttemptFailure(ctx context.Context, provider, kind string)
	RecordCacheLookup(ctx context.Context, hit bool)
	SetProviderAvailable(provider string, available bool)
}

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Provider string
	TaskType string
	Outcome  string
}

// PrometheusMetrics implements Metrics on its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	tokens        *prometheus.CounterVec
	failures      *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	providerAvail *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the router collectors plus the Go and
// process collectors on a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "requests_total",
				Help:      "Total generate requests by serving provider and outcome",
			},
			[]string{"provider", "task_type", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_latency_seconds",
				Help:      "Latency of successful provider calls",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "task_type", "outcome"},
		),
		tokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tokens_total",
				Help:      "Tokens consumed per provider",
			},
			[]string{"provider", "task_type", "outcome"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "attempt_failures_total",
				Help:      "Failed provider attempts by classified kind",
			},
			[]string{"provider", "kind"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups",
			},
			[]string{"result"},
		),
		providerAvail: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provider_available",
				Help:      "Provider availability (1=available, 0=unavailable)",
			},
			[]string{"provider"},
		),
	}
}

func (l RequestLabels) values() []string {
	return []string{l.Provider, l.TaskType, l.Outcome}
}

func (m *PrometheusMetrics) RecordRequest(_ context.Context, labels RequestLabels) {
	m.requests.WithLabelValues(labels.values()...).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, duration time.Duration, labels RequestLabels) {
	m.latency.WithLabelValues(labels.values()...).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordTokens(_ context.Context, tokens int, labels RequestLabels) {
	if tokens <= 0 {
		return
	}
	m.tokens.WithLabelValues(labels.values()...).Add(float64(tokens))
}

func (m *PrometheusMetrics) RecordAttemptFailure(_ context.Context, provider, kind string) {
	m.failures.WithLabelValues(provider, kind).Inc()
}

func (m *PrometheusMetrics) RecordCacheLookup(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) SetProviderAvailable(provider string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	m.providerAvail.WithLabelValues(provider).Set(v)
}

// LedgerStats is a point-in-time view of the dispatch ledger.
type LedgerStats struct {
	Pending int
	Dropped uint64
}

// RegisterLedger exports the ledger backlog and drop count. stats is read
// on every scrape.
func (m *PrometheusMetrics) RegisterLedger(stats func() LedgerStats) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "pending_records",
				Help:      "Dispatch records buffered but not yet written",
			},
			func() float64 { return float64(stats().Pending) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "dropped_total",
				Help:      "Dispatch records dropped because the ledger buffer was full",
			},
			func() float64 { return float64(stats().Dropped) },
		),
	)
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(context.Context, RequestLabels)                {}
func (NopMetrics) RecordLatency(context.Context, time.Duration, RequestLabels) {}
func (NopMetrics) RecordTokens(context.Context, int, RequestLabels)            {}
func (NopMetrics) RecordAttemptFailure(context.Context, string, string)        {}
func (NopMetrics) RecordCacheLookup(context.Context, bool)                     {}
func (NopMetrics) SetProviderAvailable(string, bool)                           {}

var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NopMetrics{}
)
