package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports session counters. A nil *Metrics records nothing.
type Metrics struct {
	sessions    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	gateHeld    prometheus.Gauge
	rejected    prometheus.Counter
	duration    *prometheus.HistogramVec
	acks        *prometheus.CounterVec
}

// NewMetrics registers the call metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radyo",
			Subsystem: "call",
			Name:      "sessions_total",
			Help:      "Finished call sessions by role and end reason.",
		}, []string{"role", "reason"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radyo",
			Subsystem: "call",
			Name:      "state_transitions_total",
			Help:      "Session state transitions by role and target state.",
		}, []string{"role", "state"}),
		gateHeld: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "radyo",
			Subsystem: "call",
			Name:      "gate_held",
			Help:      "1 while a listener session holds the admission slot.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "radyo",
			Subsystem: "call",
			Name:      "busy_rejections_total",
			Help:      "Invites rejected because another call was active.",
		}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "radyo",
			Subsystem: "call",
			Name:      "session_duration_seconds",
			Help:      "Wall time from stream accept or open to session end.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"role"}),
		acks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radyo",
			Subsystem: "call",
			Name:      "hangup_acks_total",
			Help:      "Hangup acknowledgments by direction and result.",
		}, []string{"direction", "result"}),
	}
}

func (m *Metrics) transition(role Role, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(role), string(to)).Inc()
}

func (m *Metrics) ended(o Outcome) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(o.Role), string(o.Reason)).Inc()
	m.duration.WithLabelValues(string(o.Role)).Observe(o.Duration.Seconds())
}

func (m *Metrics) gate(held bool) {
	if m == nil {
		return
	}
	if held {
		m.gateHeld.Set(1)
	} else {
		m.gateHeld.Set(0)
	}
}

func (m *Metrics) busy() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

// ack records a HangupAck; direction is "sent" or "received".
func (m *Metrics) ack(direction, result string) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(direction, result).Inc()
}
