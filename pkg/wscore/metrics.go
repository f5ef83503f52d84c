package wscore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors the engine and registry update as
// they run. Grounded on whisper-chat's internal/metrics/metrics.go shape
// (package-level gauges/counters registered against a Registerer, a
// Handler() for promhttp), generalized from chat-specific series to the
// core's own connection/frame/drain counters.
type Metrics struct {
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	framesReceivedTotal *prometheus.CounterVec
	framesSentTotal    *prometheus.CounterVec
	protocolErrors     prometheus.Counter
	jumboDrainDuration prometheus.Histogram
	heartbeatsSent     prometheus.Counter
	heartbeatTimeouts  prometheus.Counter
}

// NewMetrics creates and registers the collector set against reg. Pass
// prometheus.NewRegistry() for an isolated set (tests) or
// prometheus.DefaultRegisterer to expose via the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wscore",
			Name:      "connections_total",
			Help:      "Total accepted connections.",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wscore",
			Name:      "connections_active",
			Help:      "Currently live connections.",
		}),
		framesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wscore",
			Name:      "frames_received_total",
			Help:      "WebSocket frames received, by opcode.",
		}, []string{"opcode"}),
		framesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wscore",
			Name:      "frames_sent_total",
			Help:      "WebSocket frames sent, by opcode.",
		}, []string{"opcode"}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wscore",
			Name:      "protocol_errors_total",
			Help:      "Connections closed due to a WebSocket protocol violation.",
		}),
		jumboDrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wscore",
			Name:      "jumbo_drain_duration_seconds",
			Help:      "Duration of one writer-thread outgoing-queue drain round.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wscore",
			Name:      "heartbeats_sent_total",
			Help:      "Ping frames sent by the idle scan.",
		}),
		heartbeatTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wscore",
			Name:      "heartbeat_timeouts_total",
			Help:      "Connections dropped for exceeding the missed-heartbeat threshold.",
		}),
	}
	reg.MustRegister(
		m.connectionsTotal, m.connectionsActive, m.framesReceivedTotal,
		m.framesSentTotal, m.protocolErrors, m.jumboDrainDuration,
		m.heartbeatsSent, m.heartbeatTimeouts,
	)
	return m
}

func (m *Metrics) connAccepted() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) connClosed() {
	m.connectionsActive.Dec()
}

func (m *Metrics) frameReceived(op Opcode) {
	m.framesReceivedTotal.WithLabelValues(opcodeLabel(op)).Inc()
}

func (m *Metrics) frameSent(op Opcode) {
	m.framesSentTotal.WithLabelValues(opcodeLabel(op)).Inc()
}

func (m *Metrics) protocolError() {
	m.protocolErrors.Inc()
}

// observeJumboDrain records a writer-thread drain round; callers log a
// warning separately when d exceeds 500µs (§4.H, §5).
func (m *Metrics) observeJumboDrain(d time.Duration) {
	m.jumboDrainDuration.Observe(d.Seconds())
}

func (m *Metrics) heartbeatSent() {
	m.heartbeatsSent.Inc()
}

func (m *Metrics) heartbeatTimeout() {
	m.heartbeatTimeouts.Inc()
}

func opcodeLabel(op Opcode) string {
	switch op {
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	case OpContinuation:
		return "continuation"
	default:
		return "unknown"
	}
}
