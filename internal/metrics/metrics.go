package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	Connections      prometheus.Gauge
	OnlinePlayers    prometheus.Gauge
	RelayRooms       prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  prometheus.Counter
	CommandLatency   *prometheus.HistogramVec
	RoomsCreated     prometheus.Counter
	RacesCompleted   prometheus.Counter
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		}),
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of players with a live connection to this process",
		}),
		RelayRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_rooms",
			Help:      "Number of rooms this process is subscribed to",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of client messages received",
		}, []string{"event"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Outbound messages dropped because a send buffer was full",
		}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Client command processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"event"}),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Total number of rooms created",
		}),
		RacesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "races_completed_total",
			Help:      "Total number of races in which every member finished",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.OnlinePlayers,
		m.RelayRooms,
		m.MessagesReceived,
		m.MessagesDropped,
		m.CommandLatency,
		m.RoomsCreated,
		m.RacesCompleted,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand counts a received message and records how long it took
func (m *Metrics) ObserveCommand(event string, duration time.Duration) {
	m.MessagesReceived.WithLabelValues(event).Inc()
	m.CommandLatency.WithLabelValues(event).Observe(duration.Seconds())
}
