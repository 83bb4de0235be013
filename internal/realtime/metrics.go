package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the gateway and hub instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connections    prometheus.Gauge
	authFailures   prometheus.Counter
	broadcasts     *prometheus.CounterVec
	framesSent     prometheus.Counter
	sendFailures   *prometheus.CounterVec
	subsRejected   *prometheus.CounterVec
	framesIgnored  prometheus.Counter
	relayFallbacks prometheus.Counter
}

// NewMetrics creates and registers the realtime instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "connections",
			Help: "Currently registered WebSocket connections.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "auth_failures_total",
			Help: "Upgrades closed for a missing or invalid credential.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "broadcasts_total",
			Help: "Broadcasts by scope kind.",
		}, []string{"scope"}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "frames_enqueued_total",
			Help: "Frames queued onto connection send buffers.",
		}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "send_failures_total",
			Help: "Connections dropped because a send failed.",
		}, []string{"reason"}),
		subsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "subscriptions_rejected_total",
			Help: "Subscribe frames ignored for lack of membership.",
		}, []string{"scope"}),
		framesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "frames_ignored_total",
			Help: "Malformed or unknown client frames.",
		}),
		relayFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "realtime", Name: "relay_fallbacks_total",
			Help: "Broadcasts delivered locally because the relay publish failed.",
		}),
	}
	reg.MustRegister(m.connections, m.authFailures, m.broadcasts, m.framesSent,
		m.sendFailures, m.subsRejected, m.framesIgnored, m.relayFallbacks)
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) authFailed() {
	if m != nil {
		m.authFailures.Inc()
	}
}

func (m *Metrics) broadcast(kind ScopeKind) {
	if m != nil {
		m.broadcasts.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) sendFailed(reason string) {
	if m != nil {
		m.sendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) rejected(kind ScopeKind) {
	if m != nil {
		m.subsRejected.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) ignored() {
	if m != nil {
		m.framesIgnored.Inc()
	}
}

func (m *Metrics) relayFallback() {
	if m != nil {
		m.relayFallbacks.Inc()
	}
}
