package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/42012606/Memex-Neural/internal/core/domain"
	"github.com/42012606/Memex-Neural/internal/infrastructure/eventbus"
)

const namespace = "memex"

// PipelineMetrics instruments event handlers of the ingestion pipeline.
type PipelineMetrics struct {
	registry *prometheus.Registry
	service  string

	handlerTotal    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	handlerInFlight *prometheus.GaugeVec
	breakerChanges  *prometheus.CounterVec
	embedCache      *prometheus.CounterVec
}

func NewPipelineMetrics(service string) *PipelineMetrics {
	registry := prometheus.NewRegistry()

	handlerTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handler_total",
			Help:      "Total event handler runs by event, handler and status.",
		},
		[]string{"service", "event", "handler", "status"},
	)
	handlerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handler_duration_seconds",
			Help:      "Event handler duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "event", "handler"},
	)
	handlerInFlight := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handler_in_flight",
			Help:      "Number of running event handlers.",
		},
		[]string{"service", "event"},
	)
	breakerChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_state_changes_total",
			Help:      "Circuit breaker transitions by operation and target state.",
		},
		[]string{"service", "operation", "state"},
	)

	embedCache := newEmbedCacheCounter(service)

	registry.MustRegister(handlerTotal, handlerDuration, handlerInFlight, breakerChanges, embedCache)

	return &PipelineMetrics{
		registry:        registry,
		service:         service,
		handlerTotal:    handlerTotal,
		handlerDuration: handlerDuration,
		handlerInFlight: handlerInFlight,
		breakerChanges:  breakerChanges,
		embedCache:      embedCache,
	}
}

func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware instruments a bus handler; it satisfies eventbus.Middleware.
func (m *PipelineMetrics) Middleware(kind domain.EventKind, name string, next eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, evt domain.Event) error {
		start := time.Now()
		inFlight := m.handlerInFlight.WithLabelValues(m.service, string(kind))
		inFlight.Inc()
		defer inFlight.Dec()

		err := next(ctx, evt)

		status := "success"
		if err != nil {
			status = "error"
		}
		m.handlerTotal.WithLabelValues(m.service, string(kind), name, status).Inc()
		m.handlerDuration.WithLabelValues(m.service, string(kind), name).Observe(time.Since(start).Seconds())
		return err
	}
}

func (m *PipelineMetrics) ObserveBreakerState(operation, state string) {
	m.breakerChanges.WithLabelValues(m.service, operation, state).Inc()
}

func (m *PipelineMetrics) ObserveEmbedCache(result string) {
	m.embedCache.WithLabelValues(result).Inc()
}
