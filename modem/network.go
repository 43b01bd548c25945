package modem

import (
	"context"
	"fmt"

	"watchible.io/modemd/at"
)

// Network brings the modem onto the NB-IoT network. It reads the SIM CCID,
// configures sleep and power saving and waits until the modem reports
// registration, re-querying CEREG on every poll.
//
// With psm set, PSM event reporting and the PSM timers are enabled and the
// modem is allowed to sleep. Without it sleep is disabled.
func (m *Modem) Network(ctx context.Context, psm bool) error {
	cmds := []string{at.CmdQueryCCID}
	if psm {
		cmds = append(cmds, at.CmdReportPSMEvents, at.CmdPowerSaving, at.CmdSleepOn)
	} else {
		cmds = append(cmds, at.CmdSleepOff)
	}
	for _, cmd := range cmds {
		if err := m.SendAndAwait(ctx, cmd); err != nil {
			return fmt.Errorf("network setup: %w", err)
		}
	}

	m.log.Info("Waiting for network registration")
	err := m.WaitFor(ctx, InState(StateRegistered), Wait{Query: at.CmdQueryRegistration})
	if err != nil {
		return fmt.Errorf("network registration: %w", err)
	}
	return nil
}

// RefreshStatus asks the modem for its battery voltage and network clock.
// The answers land in Identity.
func (m *Modem) RefreshStatus(ctx context.Context) error {
	for _, cmd := range []string{at.CmdQueryBattery, at.CmdQueryClock} {
		if err := m.SendAndAwait(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
