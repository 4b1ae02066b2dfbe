// Package observability provides Prometheus metrics for the scanner.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spikewatch"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Scan loop
	TicksTotal        prometheus.Counter
	TickDuration      prometheus.Histogram
	LastTick          prometheus.Gauge
	InstrumentsPolled prometheus.Counter
	FetchErrors       *prometheus.CounterVec

	// Detection and delivery
	SpikesDetected   prometheus.Counter
	AlertsSuppressed *prometheus.CounterVec
	AlertsSent       prometheus.Counter
	DeliveryErrors   prometheus.Counter

	// Universe
	TrackedInstruments prometheus.Gauge
	RefreshesTotal     *prometheus.CounterVec
	LastRefresh        prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TicksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "ticks_total",
			Help:      "Total number of completed scan ticks",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one scan tick",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
		}),
		LastTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_tick_timestamp",
			Help:      "Unix timestamp of the last completed tick",
		}),
		InstrumentsPolled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "instruments_polled_total",
			Help:      "Total number of candle fetches attempted",
		}),
		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "fetch_errors_total",
			Help:      "Candle fetch failures by kind",
		}, []string{"kind"}),

		SpikesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "spikes_detected_total",
			Help:      "Total number of windows satisfying the spike predicate",
		}),
		AlertsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Detected spikes not delivered, by reason",
		}, []string{"reason"}),
		AlertsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Total number of alerts delivered",
		}),
		DeliveryErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "delivery_errors_total",
			Help:      "Total number of failed alert deliveries",
		}),

		TrackedInstruments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "tracked_instruments",
			Help:      "Number of instruments in the tracked set",
		}),
		RefreshesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "refreshes_total",
			Help:      "Universe refreshes by result",
		}, []string{"result"}),
		LastRefresh: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "universe",
			Name:      "last_refresh_timestamp",
			Help:      "Unix timestamp of the last successful refresh",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTick records a completed tick.
func (m *Metrics) ObserveTick(started, finished time.Time) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(finished.Sub(started).Seconds())
	m.LastTick.Set(float64(finished.Unix()))
}

// ObserveRefresh records a refresh outcome. tracked is ignored on failure.
func (m *Metrics) ObserveRefresh(at time.Time, tracked int, err error) {
	if err != nil {
		m.RefreshesTotal.WithLabelValues("error").Inc()
		return
	}
	m.RefreshesTotal.WithLabelValues("ok").Inc()
	m.TrackedInstruments.Set(float64(tracked))
	m.LastRefresh.Set(float64(at.Unix()))
}
