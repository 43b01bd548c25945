package modem

import "time"

// TriggerAlarm is the alarm interrupt entry point. New registers it for
// edges on LineAlarm; it may also be called directly, for example from a
// signal handler.
//
// The latch is set unless the previous accepted trigger is within the alarm
// window. An accepted trigger pulses the wake line low so the host leaves
// sleep. TriggerAlarm never blocks and never touches the transport.
func (m *Modem) TriggerAlarm() bool {
	if !m.session.triggerAlarm(m.config.now(), m.config.alarmWindow) {
		return false
	}
	m.metrics.alarm()

	if pins := m.config.pins; pins != nil {
		if err := pins.Set(LineWake, false); err != nil {
			m.log.Warn("Failed to pulse wake line", "error", err)
			return true
		}
		time.AfterFunc(m.config.wakePulse, func() {
			if err := pins.Set(LineWake, true); err != nil {
				m.log.Warn("Failed to release wake line", "error", err)
			}
		})
	}
	return true
}

// AlarmSet reports whether the alarm latch is set.
func (m *Modem) AlarmSet() bool {
	return m.session.alarmSet()
}

// ClearAlarm resets the latch once the alarm has been reported. The
// debounce window keeps running from the last accepted trigger.
func (m *Modem) ClearAlarm() {
	m.session.clearAlarm()
}
