package idp

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the supervisor and proxy. A nil *Metrics records
// nothing.
type Metrics struct {
	state         prometheus.Gauge
	restarts      prometheus.Counter
	crashes       prometheus.Counter
	startFailures prometheus.Counter
	proxied       *prometheus.CounterVec
}

// NewMetrics creates and registers the identity provider instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "workhub", Subsystem: "idp", Name: "state",
			Help: "Supervisor state: 0 stopped, 1 starting, 2 running, 3 stopping, 4 crashed.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "idp", Name: "restarts_total",
			Help: "Restarts performed (coalesced requests count once).",
		}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "idp", Name: "crashes_total",
			Help: "Unexpected identity provider exits.",
		}),
		startFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "idp", Name: "start_failures_total",
			Help: "Start attempts that did not reach running.",
		}),
		proxied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workhub", Subsystem: "idp", Name: "proxy_requests_total",
			Help: "Proxied requests by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.state, m.restarts, m.crashes, m.startFailures, m.proxied)
	return m
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) restarted() {
	if m != nil {
		m.restarts.Inc()
	}
}

func (m *Metrics) crashed() {
	if m != nil {
		m.crashes.Inc()
	}
}

func (m *Metrics) startFailed() {
	if m != nil {
		m.startFailures.Inc()
	}
}

func (m *Metrics) proxy(outcome string) {
	if m != nil {
		m.proxied.WithLabelValues(outcome).Inc()
	}
}
