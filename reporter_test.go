package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"watchible.io/modemd/modem"
)

// fakeDevice records the calls the reporter makes and fails the ones listed
// in fail once each.
type fakeDevice struct {
	mu        sync.Mutex
	calls     []string
	fail      map[string]error
	state     modem.State
	alarm     bool
	published chan []byte
	noPins    bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		fail:      make(map[string]error),
		published: make(chan []byte, 8),
	}
}

func (d *fakeDevice) call(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, name)
	if err, ok := d.fail[name]; ok {
		delete(d.fail, name)
		return err
	}
	return nil
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

func (d *fakeDevice) PowerReset(context.Context) error {
	if d.noPins {
		d.call("PowerReset")
		return modem.ErrNoPins
	}
	return d.call("PowerReset")
}

func (d *fakeDevice) WaitFor(context.Context, modem.Condition, modem.Wait) error {
	return d.call("WaitFor")
}

func (d *fakeDevice) Network(context.Context, bool) error { return d.call("Network") }

func (d *fakeDevice) ConfigureSSL(context.Context, modem.TLSMaterial) error {
	return d.call("ConfigureSSL")
}

func (d *fakeDevice) Open(context.Context, string, int) error { return d.call("Open") }

func (d *fakeDevice) Connect(_ context.Context, clientID string) error {
	if err := d.call("Connect " + clientID); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = modem.StateMQTTConnected
	return nil
}

func (d *fakeDevice) Subscribe(context.Context, string, int) error { return d.call("Subscribe") }

func (d *fakeDevice) Publish(_ context.Context, _ string, payload []byte) error {
	if err := d.call("Publish"); err != nil {
		return err
	}
	d.published <- payload
	return nil
}

func (d *fakeDevice) RefreshStatus(context.Context) error { return d.call("RefreshStatus") }

func (d *fakeDevice) State() modem.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDevice) Identity() modem.Identity {
	return modem.Identity{CCID: "8986001", Battery: "3550"}
}

func (d *fakeDevice) AlarmSet() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alarm
}

func (d *fakeDevice) ClearAlarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alarm = false
}

func newTestReporter(d *fakeDevice, tls *modem.TLSMaterial) *Reporter {
	config, _ := LoadConfig(WithDefaults())
	config.BrokerHost = "mqtt.example.com"
	config.ReportInterval = time.Hour
	config.ThermalZone = filepath.Join("testdata", "absent")

	r := NewReporter(slog.New(slog.NewTextHandler(io.Discard, nil)), d, config, tls)
	r.Backoff = &backoff.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond}
	return r
}

func receive(t *testing.T, d *fakeDevice) map[string]any {
	t.Helper()
	select {
	case payload := <-d.published:
		var report map[string]any
		if err := json.Unmarshal(payload, &report); err != nil {
			t.Fatalf("published payload is not json: %v", err)
		}
		return report
	case <-time.After(time.Second):
		t.Fatalf("nothing published, calls: %v", d.Calls())
		return nil
	}
}

func TestReporterBringUp(t *testing.T) {
	d := newFakeDevice()
	r := newTestReporter(d, &modem.TLSMaterial{CACert: []byte("CA")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	report := receive(t, d)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}

	want := []string{
		"PowerReset",
		"WaitFor",
		"Network",
		"ConfigureSSL",
		"Open",
		"Connect 8986001",
		"Subscribe",
		"RefreshStatus",
		"Publish",
	}
	if got := d.Calls(); !slices.Equal(got, want) {
		t.Errorf("expected calls %v, got %v", want, got)
	}
	if report["ccid"] != "8986001" || report["battery_voltage"] != "3550" {
		t.Errorf("unexpected report %v", report)
	}
	if report["temperature"] != nil {
		t.Errorf("expected no temperature, got %v", report["temperature"])
	}
}

func TestReporterWithoutPins(t *testing.T) {
	d := newFakeDevice()
	d.noPins = true
	r := newTestReporter(d, nil)
	r.Config.ClientID = "sensor-1"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	receive(t, d)
	calls := d.Calls()
	if slices.Contains(calls, "WaitFor") || slices.Contains(calls, "ConfigureSSL") {
		t.Errorf("expected no boot wait and no ssl setup, got %v", calls)
	}
	if !slices.Contains(calls, "Connect sensor-1") {
		t.Errorf("expected the configured client id, got %v", calls)
	}
}

func TestReporterRetriesBringUp(t *testing.T) {
	d := newFakeDevice()
	d.fail["Network"] = modem.ErrTimeout
	d.fail["Open"] = modem.ErrOpenFailed
	r := newTestReporter(d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	receive(t, d)
	var networks int
	for _, c := range d.Calls() {
		if c == "Network" {
			networks++
		}
	}
	if networks != 3 {
		t.Errorf("expected bring-up to run three times, got %d: %v", networks, d.Calls())
	}
}

func TestReporterAlarm(t *testing.T) {
	d := newFakeDevice()
	d.noPins = true
	r := newTestReporter(d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	if report := receive(t, d); report["alarm"] != false {
		t.Errorf("expected first report without alarm, got %v", report)
	}

	d.mu.Lock()
	d.alarm = true
	d.mu.Unlock()
	r.Wake()

	if report := receive(t, d); report["alarm"] != true {
		t.Errorf("expected alarm report, got %v", report)
	}
	deadline := time.Now().Add(time.Second)
	for d.AlarmSet() {
		if time.Now().After(deadline) {
			t.Fatal("expected the alarm to be cleared once reported")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReporterKeepsAlarmOnFailedPublish(t *testing.T) {
	d := newFakeDevice()
	d.noPins = true
	d.alarm = true
	d.state = modem.StateMQTTConnected
	r := newTestReporter(d, nil)
	d.fail["Publish"] = modem.ErrNotConnected

	if err := r.report(context.Background()); !errors.Is(err, modem.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got: %v", err)
	}
	if !d.AlarmSet() {
		t.Error("expected the alarm to survive a failed publish")
	}
}

func TestReporterLinkLost(t *testing.T) {
	d := newFakeDevice()
	d.state = modem.StateRegistered
	r := newTestReporter(d, nil)

	if err := r.report(context.Background()); !errors.Is(err, errLinkLost) {
		t.Errorf("expected errLinkLost, got: %v", err)
	}
	if calls := d.Calls(); len(calls) != 0 {
		t.Errorf("expected nothing sent, got %v", calls)
	}
}
