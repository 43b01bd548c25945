package modem

import (
	"context"
	"fmt"
)

// PowerReset power-cycles the modem through the power-reset line and then
// pulses the hard reset line. The session is forced to StateReset and any
// pending command fails with ErrProtocolReset.
func (m *Modem) PowerReset(ctx context.Context) error {
	pins := m.config.pins
	if pins == nil {
		return ErrNoPins
	}
	m.log.Info("Power cycling modem")

	pulse := m.config.powerPulse
	steps := []struct {
		line Line
		high bool
	}{
		{LinePowerReset, false},
		{LinePowerReset, true},
		{LinePowerReset, false},
		{LineReset, false},
	}
	for i, step := range steps {
		if err := pins.Set(step.line, step.high); err != nil {
			return fmt.Errorf("set %s: %w", step.line, err)
		}
		if i < 2 {
			if err := sleep(ctx, pulse); err != nil {
				return err
			}
		}
	}

	m.rebooted()
	return nil
}

// Reset pulses the hard reset line.
func (m *Modem) Reset(ctx context.Context) error {
	pins := m.config.pins
	if pins == nil {
		return ErrNoPins
	}
	m.log.Info("Resetting modem")

	for _, high := range []bool{true, false} {
		if err := pins.Set(LineReset, high); err != nil {
			return fmt.Errorf("set %s: %w", LineReset, err)
		}
		if err := sleep(ctx, m.config.powerPulse); err != nil {
			return err
		}
	}

	m.rebooted()
	return nil
}

func (m *Modem) rebooted() {
	from, changed := m.session.reboot()
	m.stateChanged(from, StateReset, changed)
}
