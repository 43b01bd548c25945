package modem_test

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"watchible.io/modemd/modem"
)

func TestBringUpAndPublish(t *testing.T) {
	var (
		mu        sync.Mutex
		published []modem.PublishResult
		states    []modem.State
	)
	m, transport := startModem(t, modem.NewConfigBuilder().
		OnPublished(func(r modem.PublishResult) {
			mu.Lock()
			defer mu.Unlock()
			published = append(published, r)
		}).
		OnStateChange(func(_, to modem.State) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, to)
		}))

	transport.OnWrite(replies(map[string][]string{
		`AT+QMTOPEN=0,"broker.example",8883`: {"OK\r\n", "+QMTOPEN: 0,0\r\n"},
		`AT+QMTCONN=0,"898600"`:              {"OK\r\n", "+QMTCONN: 0,3\r\n"},
		`AT+QMTCONN?`:                        {"+QMTCONN: 0,3\r\n", "OK\r\n"},
		`AT+QMTPUB=0,0,0,0,"device/state"`:   {"> "},
		"\x1a":                               {"OK\r\n", "+QMTPUB: 0,0,0\r\n"},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport.SendData("\r\nRDY\r\n")
	time.Sleep(10 * time.Millisecond)
	if got := m.State(); got != modem.StateReset {
		t.Fatalf("expected reset after boot, got %s", got)
	}

	transport.SendData("+CEREG: 1,5\r\n")
	waitState(t, m, modem.StateRegistered)

	if err := m.Open(ctx, "broker.example", 8883); err != nil {
		t.Fatalf("unexpected error from Open(): %v", err)
	}
	if got := m.State(); got != modem.StateMQTTOpened {
		t.Fatalf("expected mqtt_opened, got %s", got)
	}

	if err := m.Connect(ctx, "898600"); err != nil {
		t.Fatalf("unexpected error from Connect(): %v", err)
	}
	if got := m.State(); got != modem.StateMQTTConnected {
		t.Fatalf("expected mqtt_connected, got %s", got)
	}

	payload := []byte(`{"ccid":"898600","alarm":false}`)
	if err := m.Publish(ctx, "device/state", payload); err != nil {
		t.Fatalf("unexpected error from Publish(): %v", err)
	}
	if got := m.State(); got != modem.StateMQTTConnected {
		t.Errorf("expected state restored to mqtt_connected, got %s", got)
	}

	written := transport.Written()
	i := slices.Index(written, `AT+QMTPUB=0,0,0,0,"device/state"`+"\r\n")
	if i < 0 || i+2 >= len(written) {
		t.Fatalf("publish command missing from %q", written)
	}
	if written[i+1] != string(payload) || written[i+2] != "\x1a" {
		t.Errorf("expected payload then Ctrl-Z after the publish command, got %q", written[i+1:])
	}

	// +QMTPUB arrives after OK; give the Loop a moment to deliver it.
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(published) != 1 || published[0].Result != 0 {
		t.Errorf("expected one successful publish, got %+v", published)
	}
	wantStates := []modem.State{
		modem.StateRegistered,
		modem.StateMQTTOpening,
		modem.StateMQTTOpened,
		modem.StateMQTTConnecting,
		modem.StateMQTTConnected,
		modem.StateReading,
		modem.StateMQTTConnected,
	}
	if !slices.Equal(states, wantStates) {
		t.Errorf("expected transitions %v, got %v", wantStates, states)
	}
}

func TestOpenFailure(t *testing.T) {
	m, transport := startModem(t, modem.NewConfigBuilder())
	transport.OnWrite(replies(map[string][]string{
		`AT+QMTOPEN=0,"broker.example",1883`: {"OK\r\n", "+QMTOPEN: 0,3\r\n"},
	}))
	transport.SendData("+CEREG: 1\r\n")
	waitState(t, m, modem.StateRegistered)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := m.Open(ctx, "broker.example", 1883)
	if err == nil || !strings.Contains(err.Error(), "broker.example:1883") {
		t.Errorf("expected ErrOpenFailed naming the broker, got: %v", err)
	}
	if got := m.State(); got != modem.StateMQTTOpenFailed {
		t.Errorf("expected mqtt_open_failed, got %s", got)
	}

	if err := m.Publish(ctx, "device/state", []byte("{}")); err != modem.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got: %v", err)
	}
}

func TestNetwork(t *testing.T) {
	tests := []struct {
		name string
		psm  bool
		want []string
	}{
		{
			name: "Sleep disabled",
			want: []string{"AT+QCCID", "AT+QSCLK=0", "AT+CEREG?"},
		},
		{
			name: "Power saving",
			psm:  true,
			want: []string{
				"AT+QCCID",
				"AT+QNBIOTEVENT=1,1",
				`AT+CPSMS=1,,,"00101100","00100001"`,
				"AT+QSCLK=1",
				"AT+CEREG?",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transport := startModem(t, modem.NewConfigBuilder())
			transport.OnWrite(func(written string) []string {
				switch strings.TrimSpace(written) {
				case "AT+QCCID":
					return []string{"+QCCID: 89860012345678901234\r\n", "OK\r\n"}
				case "AT+CEREG?":
					return []string{"+CEREG: 0,1\r\n", "OK\r\n"}
				default:
					return []string{"OK\r\n"}
				}
			})

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := m.Network(ctx, tt.psm); err != nil {
				t.Fatalf("unexpected error from Network(): %v", err)
			}

			var got []string
			for _, w := range transport.Written() {
				got = append(got, strings.TrimSpace(w))
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("expected commands %q, got %q", tt.want, got)
			}
			if id := m.Identity(); id.CCID != "89860012345678901234" {
				t.Errorf("expected ccid to be recorded, got %q", id.CCID)
			}
			if s := m.State(); s != modem.StateRegistered {
				t.Errorf("expected registered, got %s", s)
			}
		})
	}
}

func TestConfigureSSL(t *testing.T) {
	m, transport := startModem(t, modem.NewConfigBuilder())
	transport.OnWrite(func(written string) []string {
		switch w := strings.TrimSpace(written); {
		case w == `AT+QSSLCFG=0,0,"cacert"`, w == `AT+QSSLCFG=0,0,"clientcert"`, w == `AT+QSSLCFG=0,0,"clientkey"`:
			return []string{">"}
		case strings.HasPrefix(w, "AT"), w == "\x1a":
			return []string{"OK\r\n"}
		default:
			// Certificate lines get no answer.
			return nil
		}
	})
	transport.SendData("+CEREG: 1\r\n")
	waitState(t, m, modem.StateRegistered)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.ConfigureSSL(ctx, modem.TLSMaterial{
		CACert:     []byte("CA\n"),
		ClientCert: []byte("CERT\n"),
		ClientKey:  []byte("KEY\n"),
	})
	if err != nil {
		t.Fatalf("unexpected error from ConfigureSSL(): %v", err)
	}

	want := []string{
		`AT+QSSLCFG=0,0,"sslversion",4` + "\r\n",
		`AT+QSSLCFG=0,0,"seclevel",2` + "\r\n",
		`AT+QSSLCFG=0,0,"cacert"` + "\r\n", "CA\n", "\x1a",
		`AT+QSSLCFG=0,0,"clientcert"` + "\r\n", "CERT\n", "\x1a",
		`AT+QSSLCFG=0,0,"clientkey"` + "\r\n", "KEY\n", "\x1a",
		`AT+QMTCFG="ssl",0,1,0,0` + "\r\n",
	}
	if got := transport.Written(); !slices.Equal(got, want) {
		t.Errorf("expected writes %q, got %q", want, got)
	}
	if got := m.State(); got != modem.StateRegistered {
		t.Errorf("expected registered after uploads, got %s", got)
	}
}

func TestSessionTeardown(t *testing.T) {
	var disconnects []int
	m, transport := startModem(t, modem.NewConfigBuilder().
		OnDisconnect(func(code int) { disconnects = append(disconnects, code) }))
	transport.OnWrite(replies(map[string][]string{
		`AT+QMTSUB=0,1,"device/update",0`: {"OK\r\n", "+QMTSUB: 0,1,0,0\r\n"},
		"AT+CBC":                          {"+CBC: 0,0,3600\r\n", "OK\r\n"},
		"AT+CCLK?":                        {"+CCLK: 26/10/18,09:15:00+00\r\n", "OK\r\n"},
		"AT+QMTDISC=0":                    {"OK\r\n", "+QMTDISC: 0,0\r\n"},
		"AT+QMTCLOSE=0":                   {"OK\r\n", "+QMTCLOSE: 0,0\r\n"},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Subscribe(ctx, "device/update", 0); err != modem.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected before connecting, got: %v", err)
	}

	transport.SendData("+QMTCONN: 0,3\r\n")
	waitState(t, m, modem.StateMQTTConnected)

	if err := m.Subscribe(ctx, "device/update", 0); err != nil {
		t.Fatalf("unexpected error from Subscribe(): %v", err)
	}

	if err := m.RefreshStatus(ctx); err != nil {
		t.Fatalf("unexpected error from RefreshStatus(): %v", err)
	}
	id := m.Identity()
	if id.Battery != "3600" || id.Clock != "26/10/18,09:15:00+00" {
		t.Errorf("expected battery and clock in identity, got %+v", id)
	}

	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("unexpected error from Disconnect(): %v", err)
	}
	waitState(t, m, modem.StateMQTTDisconnected)

	if err := m.CloseMQTT(ctx); err != nil {
		t.Fatalf("unexpected error from CloseMQTT(): %v", err)
	}
	if got := m.State(); got != modem.StateRegistered {
		t.Errorf("expected registered after close, got %s", got)
	}
	if len(disconnects) != 0 {
		t.Errorf("expected no link-loss callback for an orderly close, got %v", disconnects)
	}
}

func TestConnectDialects(t *testing.T) {
	tests := []struct {
		name    string
		dialect modem.Dialect
		// query answers AT+QMTCONN?; empty means the modem stays silent
		query string
		// urc is sent shortly after the OK of AT+QMTCONN=...
		urc       string
		wantQuery bool
	}{
		{
			name:    "Result dialect waits for the result line",
			dialect: modem.DialectResult,
			query:   "+QMTCONN: 0,3",
			urc:     "+QMTCONN: 0,0,0",
		},
		{
			name:      "State dialect polls the connection state",
			dialect:   modem.DialectState,
			query:     "+QMTCONN: 0,3",
			wantQuery: true,
		},
		{
			name:    "State dialect accepts the result line",
			dialect: modem.DialectState,
			urc:     "+QMTCONN: 0,0,0",
		},
		{
			name:      "Auto dialect polls the connection state",
			dialect:   modem.DialectAuto,
			query:     "+QMTCONN: 0,3",
			wantQuery: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transport := startModem(t, modem.NewConfigBuilder().WithConnDialect(tt.dialect))
			transport.OnWrite(func(written string) []string {
				switch strings.TrimSpace(written) {
				case `AT+QMTCONN=0,"898600"`:
					if tt.urc != "" {
						go func() {
							time.Sleep(30 * time.Millisecond)
							transport.SendData(tt.urc + "\r\n")
						}()
					}
					return []string{"OK\r\n"}
				case "AT+QMTCONN?":
					if tt.query == "" {
						return []string{"OK\r\n"}
					}
					return []string{tt.query + "\r\n", "OK\r\n"}
				}
				return nil
			})

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := m.Connect(ctx, "898600"); err != nil {
				t.Fatalf("unexpected error from Connect(): %v", err)
			}
			if got := m.State(); got != modem.StateMQTTConnected {
				t.Errorf("expected mqtt_connected, got %s", got)
			}
			queried := slices.Contains(transport.Written(), "AT+QMTCONN?\r\n")
			if tt.wantQuery && !queried {
				t.Error("expected the connection state to be queried")
			}
			if tt.dialect == modem.DialectResult && queried {
				t.Error("expected no connection state query in the result dialect")
			}
		})
	}
}
