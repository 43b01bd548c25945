package modem

//go:generate mockgen -source=pins.go -destination=mock_pins.go -package=modem

// Line names one of the digital lines wired between host and modem.
type Line int

const (
	// LinePowerReset drives the modem's power key circuit.
	LinePowerReset Line = iota
	// LineReset drives the modem's hard reset input.
	LineReset
	// LineWake is pulsed low to wake the modem out of PSM.
	LineWake
	// LineAlarm is the external alarm input (falling edge).
	LineAlarm
)

func (l Line) String() string {
	switch l {
	case LinePowerReset:
		return "power_reset"
	case LineReset:
		return "reset"
	case LineWake:
		return "wake"
	case LineAlarm:
		return "alarm"
	default:
		return "unknown"
	}
}

// Pins is the host's GPIO driver.
//
// OnEdge callbacks may run in interrupt context and must return quickly.
type Pins interface {
	Set(line Line, high bool) error
	OnEdge(line Line, fn func()) error
}
