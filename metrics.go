package realtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// stateValues maps each State to the value exported by the state gauge.
var stateValues = map[State]float64{
	StateDisconnected:  0,
	StateConnecting:    1,
	StateConnected:     2,
	StateDisconnecting: 3,
	StateReconnecting:  4,
	StateError:         5,
}

// Metrics holds the Prometheus collectors updated by a Client. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	State             prometheus.Gauge
	ConnectsTotal     prometheus.Counter
	ReconnectAttempts prometheus.Counter
	ReconnectFailures prometheus.Counter
	MessagesSent      prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MalformedFrames   prometheus.Counter
	HandlerPanics     prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewMetrics creates the client collectors and registers them with reg.
// Collectors already registered under the same name are reused, so
// several clients may share one registry.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = "realtime"
	}
	m := &Metrics{
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=disconnecting, 4=reconnecting, 5=error)",
		}),
		ConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "opens_total",
			Help:      "Total number of successful transport opens",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconnect",
			Name:      "attempts_total",
			Help:      "Total number of scheduled reconnection attempts",
		}),
		ReconnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconnect",
			Name:      "exhausted_total",
			Help:      "Total number of times automatic reconnection gave up",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "sent_total",
			Help:      "Total number of frames written to the transport",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Total number of envelopes received",
		}, []string{"event"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "dropped_total",
			Help:      "Total number of outbound messages dropped",
		}, []string{"reason"}),
		MalformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "malformed_total",
			Help:      "Total number of incoming frames that could not be decoded",
		}),
		HandlerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "handler_panics_total",
			Help:      "Total number of recovered handler panics",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of messages waiting in the outbound queue",
		}),
	}

	if reg == nil {
		return m, nil
	}
	var err error
	m.State = register(reg, m.State, &err)
	m.ConnectsTotal = register(reg, m.ConnectsTotal, &err)
	m.ReconnectAttempts = register(reg, m.ReconnectAttempts, &err)
	m.ReconnectFailures = register(reg, m.ReconnectFailures, &err)
	m.MessagesSent = register(reg, m.MessagesSent, &err)
	m.MessagesReceived = register(reg, m.MessagesReceived, &err)
	m.MessagesDropped = register(reg, m.MessagesDropped, &err)
	m.MalformedFrames = register(reg, m.MalformedFrames, &err)
	m.HandlerPanics = register(reg, m.HandlerPanics, &err)
	m.QueueDepth = register(reg, m.QueueDepth, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.State.Set(stateValues[s])
}

func (m *Metrics) opened() {
	if m == nil {
		return
	}
	m.ConnectsTotal.Inc()
}

func (m *Metrics) reconnectScheduled() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *Metrics) reconnectExhausted() {
	if m == nil {
		return
	}
	m.ReconnectFailures.Inc()
}

func (m *Metrics) sent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) received(event string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) malformed() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}

func (m *Metrics) handlerPanicked() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

func (m *Metrics) queueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
