package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dex"

// Metrics holds the exchange collectors on a private registry so tests and
// multiple engines in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	Commands        *prometheus.CounterVec
	CommandErrors   *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	Fills           prometheus.Counter
	FilledQuantity  prometheus.Counter
	Pruned          prometheus.Counter
	LiveOrders      prometheus.Gauge
	OutboxPublished *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "commands_total",
			Help:      "Committed commands by kind.",
		}, []string{"command"}),
		CommandErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "command_errors_total",
			Help:      "Rejected or failed commands by kind and reason.",
		}, []string{"command", "reason"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "command_duration_seconds",
			Help:      "Time from lock acquisition to commit.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"command"}),
		Fills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "fills_total",
			Help:      "Fills produced by matching.",
		}),
		FilledQuantity: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "filled_quantity_total",
			Help:      "Units exchanged by matching.",
		}),
		Pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "pruned_orders_total",
			Help:      "Fully filled orders removed from the book.",
		}),
		LiveOrders: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "live_orders",
			Help:      "Orders currently resting in the book.",
		}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox publish attempts by result.",
		}, []string{"result"}),
	}
}

// Observe records one command outcome. reason is empty on success.
func (m *Metrics) Observe(command, reason string, started time.Time) {
	if reason != "" {
		m.CommandErrors.WithLabelValues(command, reason).Inc()
		return
	}
	m.Commands.WithLabelValues(command).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
