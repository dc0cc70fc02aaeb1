package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector defines the interface for metrics collection
type Collector interface {
	// Connection metrics
	ClientConnected()
	ClientDisconnected()

	// Room metrics
	RoomCreated()
	RoomReleased()
	ParticipantJoined()
	ParticipantLeft()

	// Media metrics
	TransportCreated(direction string)
	TransportClosed(direction, reason string)
	ProducerCreated(kind string)
	ProducerClosed(kind string)
	ConsumerCreated(kind string)

	// Signaling metrics
	SignalingMessageReceived(messageType string, sizeBytes int)
	SignalingMessageError(messageType, code string)
	BroadcastDropped(eventType string, n int)
}

// PrometheusCollector implements the Collector interface using Prometheus
type PrometheusCollector struct {
	registry *prometheus.Registry

	activeClients      prometheus.Gauge
	activeRooms        prometheus.Gauge
	activeParticipants prometheus.Gauge
	activeProducers    prometheus.Gauge

	transportsCreated *prometheus.CounterVec
	transportsClosed  *prometheus.CounterVec
	producersCreated  *prometheus.CounterVec
	consumersCreated  *prometheus.CounterVec

	messagesReceived *prometheus.CounterVec
	messagesErrors   *prometheus.CounterVec
	messageSize      *prometheus.HistogramVec
	broadcastDropped *prometheus.CounterVec
}

// NewPrometheusCollector creates a collector registered on its own registry.
func NewPrometheusCollector() *PrometheusCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &PrometheusCollector{
		registry: reg,

		activeClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_clients",
			Help: "Number of open signaling connections",
		}),
		activeRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_rooms",
			Help: "Number of rooms with a live router",
		}),
		activeParticipants: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_participants",
			Help: "Number of participants joined to a room",
		}),
		activeProducers: f.NewGauge(prometheus.GaugeOpts{
			Name: "huddle_active_producers",
			Help: "Number of live producers",
		}),

		transportsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_transports_created_total",
				Help: "Total number of transports created",
			},
			[]string{"direction"},
		),
		transportsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_transports_closed_total",
				Help: "Total number of transports closed",
			},
			[]string{"direction", "reason"},
		),
		producersCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_producers_created_total",
				Help: "Total number of producers created",
			},
			[]string{"kind"},
		),
		consumersCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_consumers_created_total",
				Help: "Total number of consumers created",
			},
			[]string{"kind"},
		),

		messagesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_signaling_messages_received_total",
				Help: "Total number of signaling messages received",
			},
			[]string{"message_type"},
		),
		messagesErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_signaling_message_errors_total",
				Help: "Total number of signaling requests answered with an error",
			},
			[]string{"message_type", "code"},
		),
		messageSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "huddle_signaling_message_size_bytes",
				Help:    "Size of inbound signaling messages in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10), // 64B to 32KB
			},
			[]string{"message_type"},
		),
		broadcastDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "huddle_broadcast_dropped_total",
				Help: "Room events that could not be queued for a receiver",
			},
			[]string{"event_type"},
		),
	}
}

func (c *PrometheusCollector) ClientConnected()    { c.activeClients.Inc() }
func (c *PrometheusCollector) ClientDisconnected() { c.activeClients.Dec() }
func (c *PrometheusCollector) RoomCreated()        { c.activeRooms.Inc() }
func (c *PrometheusCollector) RoomReleased()       { c.activeRooms.Dec() }
func (c *PrometheusCollector) ParticipantJoined()  { c.activeParticipants.Inc() }
func (c *PrometheusCollector) ParticipantLeft()    { c.activeParticipants.Dec() }

func (c *PrometheusCollector) TransportCreated(direction string) {
	c.transportsCreated.WithLabelValues(direction).Inc()
}

func (c *PrometheusCollector) TransportClosed(direction, reason string) {
	c.transportsClosed.WithLabelValues(direction, reason).Inc()
}

func (c *PrometheusCollector) ProducerCreated(kind string) {
	c.producersCreated.WithLabelValues(kind).Inc()
	c.activeProducers.Inc()
}

func (c *PrometheusCollector) ProducerClosed(kind string) {
	c.activeProducers.Dec()
}

func (c *PrometheusCollector) ConsumerCreated(kind string) {
	c.consumersCreated.WithLabelValues(kind).Inc()
}

// SignalingMessageReceived records a signaling message being received
func (c *PrometheusCollector) SignalingMessageReceived(messageType string, sizeBytes int) {
	c.messagesReceived.WithLabelValues(messageType).Inc()
	c.messageSize.WithLabelValues(messageType).Observe(float64(sizeBytes))
}

// SignalingMessageError records a request answered with an error
func (c *PrometheusCollector) SignalingMessageError(messageType, code string) {
	c.messagesErrors.WithLabelValues(messageType, code).Inc()
}

func (c *PrometheusCollector) BroadcastDropped(eventType string, n int) {
	c.broadcastDropped.WithLabelValues(eventType).Add(float64(n))
}

// Handler returns an HTTP handler for metrics endpoint
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for gathering in tests.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Noop discards everything.
type Noop struct{}

func (Noop) ClientConnected()                     {}
func (Noop) ClientDisconnected()                  {}
func (Noop) RoomCreated()                         {}
func (Noop) RoomReleased()                        {}
func (Noop) ParticipantJoined()                   {}
func (Noop) ParticipantLeft()                     {}
func (Noop) TransportCreated(string)              {}
func (Noop) TransportClosed(string, string)       {}
func (Noop) ProducerCreated(string)               {}
func (Noop) ProducerClosed(string)                {}
func (Noop) ConsumerCreated(string)               {}
func (Noop) SignalingMessageReceived(string, int) {}
func (Noop) SignalingMessageError(string, string) {}
func (Noop) BroadcastDropped(string, int)         {}
