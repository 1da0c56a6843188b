package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the capture pipeline. A nil
// *Metrics is a valid no-op receiver so components can be wired without
// metrics (tests, metrics disabled). Construct once per process; promauto
// registers on the default registry.
type Metrics struct {
	packetsEnqueued prometheus.Counter
	packetsDropped  prometheus.Counter
	decodeErrors    prometheus.Counter

	framesSent      prometheus.Counter
	framesDiscarded prometheus.Counter
	turnsReceived   prometheus.Counter
	turnsDropped    prometheus.Counter

	sessionsStarted prometheus.Counter
	sessionsStopped prometheus.Counter
	activeSessions  prometheus.Gauge
}

// New creates and registers all instruments.
func New() *Metrics {
	return &Metrics{
		packetsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_packets_enqueued_total",
			Help: "Opus packets accepted into the decode queue",
		}),
		packetsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_packets_dropped_total",
			Help: "Opus packets dropped because the decode queue was full",
		}),
		decodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_decode_errors_total",
			Help: "Opus decode failures",
		}),
		framesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_frames_sent_total",
			Help: "PCM frames forwarded to the transcription socket",
		}),
		framesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_frames_discarded_total",
			Help: "PCM frames discarded because the session was not active",
		}),
		turnsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_turns_received_total",
			Help: "Turn messages received from the transcription service",
		}),
		turnsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_turns_dropped_total",
			Help: "Turn events dropped because no observer was draining",
		}),
		sessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_sessions_started_total",
			Help: "Recording sessions started",
		}),
		sessionsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcord_sessions_stopped_total",
			Help: "Recording sessions stopped",
		}),
		activeSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcord_active_sessions",
			Help: "Recording sessions currently registered",
		}),
	}
}

func (m *Metrics) PacketEnqueued() {
	if m != nil {
		m.packetsEnqueued.Inc()
	}
}

func (m *Metrics) PacketDropped() {
	if m != nil {
		m.packetsDropped.Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) FrameDiscarded() {
	if m != nil {
		m.framesDiscarded.Inc()
	}
}

func (m *Metrics) TurnReceived() {
	if m != nil {
		m.turnsReceived.Inc()
	}
}

func (m *Metrics) TurnDropped() {
	if m != nil {
		m.turnsDropped.Inc()
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
		m.activeSessions.Inc()
	}
}

func (m *Metrics) SessionStopped() {
	if m != nil {
		m.sessionsStopped.Inc()
		m.activeSessions.Dec()
	}
}
