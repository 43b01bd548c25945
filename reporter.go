package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpillora/backoff"
	"watchible.io/modemd/at"
	"watchible.io/modemd/modem"
)

// Device is the part of *modem.Modem the reporter drives.
type Device interface {
	PowerReset(ctx context.Context) error
	WaitFor(ctx context.Context, cond modem.Condition, w modem.Wait) error
	Network(ctx context.Context, psm bool) error
	ConfigureSSL(ctx context.Context, tls modem.TLSMaterial) error
	Open(ctx context.Context, host string, port int) error
	Connect(ctx context.Context, clientID string) error
	Subscribe(ctx context.Context, topic string, qos int) error
	Publish(ctx context.Context, topic string, payload []byte) error
	RefreshStatus(ctx context.Context) error
	State() modem.State
	Identity() modem.Identity
	AlarmSet() bool
	ClearAlarm()
}

var _ Device = (*modem.Modem)(nil)

const (
	bringUpTimeout = 3 * time.Minute
	bootTimeout    = 30 * time.Second
	publishTimeout = 30 * time.Second
)

// errLinkLost ends a reporting session when the MQTT session is gone.
var errLinkLost = errors.New("mqtt session lost")

// Reporter is the application loop: it brings the modem onto the network
// and the broker, then publishes a Report every interval and whenever the
// alarm fires. Failures and modem restarts send it back to bring-up after a
// backoff.
type Reporter struct {
	Logger *slog.Logger
	Device Device
	Config *Config
	// TLS is uploaded during bring-up when set
	TLS *modem.TLSMaterial

	// Backoff paces bring-up retries. Defaults to 1s doubling up to 5m.
	Backoff *backoff.Backoff

	wake chan struct{}
	now  func() time.Time
}

// NewReporter returns a Reporter for device.
func NewReporter(logger *slog.Logger, device Device, config *Config, tls *modem.TLSMaterial) *Reporter {
	return &Reporter{
		Logger: logger,
		Device: device,
		Config: config,
		TLS:    tls,
		Backoff: &backoff.Backoff{
			Min:    time.Second,
			Max:    5 * time.Minute,
			Factor: 2,
			Jitter: true,
		},
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

// Wake asks for a report now. It never blocks.
func (r *Reporter) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run reports until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		err := r.bringUp(ctx)
		if err == nil {
			r.Backoff.Reset()
			err = r.serve(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.Backoff.Duration()
		r.Logger.Warn("Reporting interrupted", "error", err, "retry_in", delay, "attempt", r.Backoff.Attempt())
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// bringUp runs the full sequence from power-on to a subscribed MQTT session.
func (r *Reporter) bringUp(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, bringUpTimeout)
	defer cancel()

	d := r.Device
	switch err := d.PowerReset(ctx); {
	case errors.Is(err, modem.ErrNoPins):
		r.Logger.Debug("No GPIO, skipping power cycle")
	case err != nil:
		return fmt.Errorf("power reset: %w", err)
	default:
		err := d.WaitFor(ctx, modem.InState(modem.StateReady, modem.StateRegistered), modem.Wait{
			Query:   at.CmdAt,
			Timeout: bootTimeout,
		})
		if err != nil {
			return fmt.Errorf("modem boot: %w", err)
		}
	}

	if err := d.Network(ctx, r.Config.PSM); err != nil {
		return err
	}
	if r.TLS != nil {
		if err := d.ConfigureSSL(ctx, *r.TLS); err != nil {
			return err
		}
	}
	if err := d.Open(ctx, r.Config.BrokerHost, r.Config.BrokerPort); err != nil {
		return err
	}

	clientID := r.Config.ClientID
	if clientID == "" {
		clientID = d.Identity().CCID
	}
	if err := d.Connect(ctx, clientID); err != nil {
		return err
	}
	if r.Config.UpdateTopic != "" {
		if err := d.Subscribe(ctx, r.Config.UpdateTopic, 0); err != nil {
			return err
		}
	}

	r.Logger.Info("Modem online", "client_id", clientID, "broker", r.Config.BrokerHost)
	return nil
}

// serve publishes reports until the session breaks.
func (r *Reporter) serve(ctx context.Context) error {
	ticker := time.NewTicker(r.Config.ReportInterval)
	defer ticker.Stop()

	for {
		if err := r.report(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
			r.Logger.Info("Alarm raised, reporting now")
		}
	}
}

// report publishes one Report. The alarm latch is cleared only after a
// report carrying it was published.
func (r *Reporter) report(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	d := r.Device
	if s := d.State(); s != modem.StateMQTTConnected {
		return fmt.Errorf("%w: state %s", errLinkLost, s)
	}

	if err := d.RefreshStatus(ctx); err != nil {
		if errors.Is(err, modem.ErrProtocolReset) {
			return err
		}
		r.Logger.Warn("Failed to refresh modem status", "error", err)
	}

	var temperature *float64
	if t, err := ReadTemperature(r.Config.ThermalZone); err != nil {
		r.Logger.Debug("No temperature reading", "error", err)
	} else {
		temperature = &t
	}

	alarm := d.AlarmSet()
	report := NewReport(d.Identity(), alarm, temperature, r.now())
	payload, err := report.Marshal()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := d.Publish(ctx, r.Config.StateTopic, payload); err != nil {
		return err
	}
	if alarm {
		d.ClearAlarm()
	}

	r.Logger.Info("Report published", "id", report.ID, "alarm", alarm, "battery_voltage", report.BatteryVoltage)
	return nil
}
