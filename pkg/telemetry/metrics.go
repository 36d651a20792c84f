package telemetry

import (
	"github.com/james-see/blendmidi/pkg/codec"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the processing counters
type Metrics struct {
	Registry *prometheus.Registry

	FramesIn       prometheus.Counter
	FramesOut      prometheus.Counter
	Blocks         prometheus.Counter
	Events         *prometheus.CounterVec
	Conditions     *prometheus.CounterVec
	EncodeFailures prometheus.Counter
	FatalShutdowns prometheus.Counter
	LogDropped     prometheus.Counter
	QueueDepth     prometheus.Gauge
	StreamClients  prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Total number of raw frames received from input ports",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "frames",
			Name:      "sent_total",
			Help:      "Total number of raw frames pushed to output ports",
		}),
		Blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "engine",
			Name:      "blocks_total",
			Help:      "Total number of processed blocks",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "decoder",
			Name:      "events_total",
			Help:      "Decoded channel events by kind",
		}, []string{"kind"}),
		Conditions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "decoder",
			Name:      "conditions_total",
			Help:      "Recoverable decoding conditions by kind",
		}, []string{"condition"}),
		EncodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "encoder",
			Name:      "failures_total",
			Help:      "Frames dropped because they could not be built or queued",
		}),
		FatalShutdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "engine",
			Name:      "fatal_shutdowns_total",
			Help:      "Sessions terminated by a panic byte",
		}),
		LogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blendmidi",
			Subsystem: "log",
			Name:      "dropped_total",
			Help:      "Log records dropped because the sink buffer was full",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blendmidi",
			Subsystem: "engine",
			Name:      "output_queue_depth",
			Help:      "Frames queued for output in the last block",
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blendmidi",
			Subsystem: "api",
			Name:      "stream_clients",
			Help:      "Connected websocket event stream clients",
		}),
	}

	m.Registry.MustRegister(
		m.FramesIn, m.FramesOut, m.Blocks, m.Events, m.Conditions,
		m.EncodeFailures, m.FatalShutdowns, m.LogDropped, m.QueueDepth,
		m.StreamClients,
	)
	return m
}

// ObserveEvent implements codec.Observer
func (m *Metrics) ObserveEvent(ev codec.ChannelEvent) {
	m.Events.WithLabelValues(ev.Kind.String()).Inc()
}

// ObserveCondition implements codec.Observer
func (m *Metrics) ObserveCondition(c codec.Condition) {
	m.Conditions.WithLabelValues(c.Kind.String()).Inc()
}

var _ codec.Observer = (*Metrics)(nil)
