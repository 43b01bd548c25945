package modem

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the driver's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Lines         *prometheus.CounterVec
	DecodeErrors  prometheus.Counter
	ParseErrors   *prometheus.CounterVec
	UnknownEvents *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	State         prometheus.Gauge
	Alarms        prometheus.Counter
}

// NewMetrics constructs the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modem_lines_total",
				Help: "Lines read from the modem by classification",
			},
			[]string{"kind"},
		),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modem_decode_errors_total",
			Help: "Lines that contained undecodable bytes or overflowed the line buffer",
		}),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modem_parse_errors_total",
				Help: "Status lines dropped because their payload was malformed",
			},
			[]string{"event"},
		),
		UnknownEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modem_unknown_events_total",
				Help: "Status lines without a registered handler",
			},
			[]string{"event"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modem_commands_total",
				Help: "AT commands by outcome",
			},
			[]string{"outcome"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modem_state_transitions_total",
				Help: "Session state transitions by target state",
			},
			[]string{"state"},
		),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modem_state",
			Help: "Current session state as its numeric code",
		}),
		Alarms: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modem_alarms_total",
			Help: "Alarm interrupts accepted by the debounce window",
		}),
	}
	reg.MustRegister(
		m.Lines,
		m.DecodeErrors,
		m.ParseErrors,
		m.UnknownEvents,
		m.Commands,
		m.Transitions,
		m.State,
		m.Alarms,
	)
	return m
}

func (m *Metrics) line(kind string) {
	if m != nil {
		m.Lines.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) parseError(event string) {
	if m != nil {
		m.ParseErrors.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) unknownEvent(event string) {
	if m != nil {
		m.UnknownEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) command(outcome string) {
	if m != nil {
		m.Commands.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) transition(to State) {
	if m != nil {
		m.Transitions.WithLabelValues(to.String()).Inc()
		m.State.Set(float64(to))
	}
}

func (m *Metrics) alarm() {
	if m != nil {
		m.Alarms.Inc()
	}
}
