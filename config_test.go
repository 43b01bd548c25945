package main

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults())
		if err != nil {
			t.Fatalf("unexpected error from LoadConfig(): %v", err)
		}
		if config.BrokerPort != 8883 {
			t.Errorf("expected broker port 8883, got %d", config.BrokerPort)
		}
		if config.ReportInterval != 15*time.Minute {
			t.Errorf("expected 15m report interval, got %s", config.ReportInterval)
		}
		if config.StateTopic != "device/state" || config.UpdateTopic != "device/update" {
			t.Errorf("unexpected topics %q %q", config.StateTopic, config.UpdateTopic)
		}
	})

	t.Run("File overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "modemd.yaml")
		data := strings.Join([]string{
			"broker_host: mqtt.example.com",
			"broker_port: 1883",
			"report_interval: 90s",
			"psm: true",
			"ca_cert: /etc/modemd/ca.pem",
			"conn_dialect: state",
		}, "\n")
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}

		config, err := LoadConfig(WithDefaults(), WithFile(path))
		if err != nil {
			t.Fatalf("unexpected error from LoadConfig(): %v", err)
		}
		if config.BrokerHost != "mqtt.example.com" || config.BrokerPort != 1883 {
			t.Errorf("unexpected broker %s:%d", config.BrokerHost, config.BrokerPort)
		}
		if config.ReportInterval != 90*time.Second {
			t.Errorf("expected 90s report interval, got %s", config.ReportInterval)
		}
		if !config.PSM {
			t.Error("expected psm to be enabled")
		}
		if config.ConnDialect != "state" {
			t.Errorf("expected state dialect, got %q", config.ConnDialect)
		}
		if config.SerialPort != "/dev/ttyUSB0" {
			t.Errorf("expected default serial port to survive, got %q", config.SerialPort)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadConfig(WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
		if err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("Malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("report_interval: [1"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(WithFile(path)); err == nil {
			t.Error("expected a parse error")
		}
	})

	t.Run("Environment", func(t *testing.T) {
		t.Setenv("BROKER_HOST", "env.example.com")
		t.Setenv("BROKER_PORT", "8884")
		t.Setenv("REPORT_INTERVAL", "5m")
		t.Setenv("PSM", "true")
		t.Setenv("BAUD_RATE", "not-a-number")
		t.Setenv("CONN_DIALECT", "result")

		config, err := LoadConfig(WithDefaults(), WithEnv())
		if err != nil {
			t.Fatalf("unexpected error from LoadConfig(): %v", err)
		}
		if config.BrokerHost != "env.example.com" || config.BrokerPort != 8884 {
			t.Errorf("unexpected broker %s:%d", config.BrokerHost, config.BrokerPort)
		}
		if config.ReportInterval != 5*time.Minute {
			t.Errorf("expected 5m report interval, got %s", config.ReportInterval)
		}
		if !config.PSM {
			t.Error("expected psm to be enabled")
		}
		if config.BaudRate != 115200 {
			t.Errorf("expected invalid baud rate to be ignored, got %d", config.BaudRate)
		}
		if config.ConnDialect != "result" {
			t.Errorf("expected result dialect, got %q", config.ConnDialect)
		}
	})

	t.Run("Flags win over environment", func(t *testing.T) {
		t.Setenv("BROKER_HOST", "env.example.com")

		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.String("broker-host", "", "")
		fs.Duration("report-interval", 0, "")
		fs.String("serial-port", "", "")
		fs.String("conn-dialect", "auto", "")
		if err := fs.Parse([]string{"-broker-host", "flag.example.com", "-report-interval", "2m", "-conn-dialect", "state"}); err != nil {
			t.Fatal(err)
		}

		config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(fs))
		if err != nil {
			t.Fatalf("unexpected error from LoadConfig(): %v", err)
		}
		if config.BrokerHost != "flag.example.com" {
			t.Errorf("expected flag broker host, got %q", config.BrokerHost)
		}
		if config.ReportInterval != 2*time.Minute {
			t.Errorf("expected 2m report interval, got %s", config.ReportInterval)
		}
		if config.ConnDialect != "state" {
			t.Errorf("expected flag dialect, got %q", config.ConnDialect)
		}
		if config.SerialPort != "/dev/ttyUSB0" {
			t.Errorf("expected unset flag to leave serial port alone, got %q", config.SerialPort)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		c, _ := LoadConfig(WithDefaults())
		c.BrokerHost = "mqtt.example.com"
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "No broker", mutate: func(c *Config) { c.BrokerHost = "" }, wantErr: "broker host"},
		{name: "No serial port", mutate: func(c *Config) { c.SerialPort = "" }, wantErr: "serial port"},
		{name: "Zero interval", mutate: func(c *Config) { c.ReportInterval = 0 }, wantErr: "report interval"},
		{name: "Known dialect", mutate: func(c *Config) { c.ConnDialect = "result" }},
		{name: "Unknown dialect", mutate: func(c *Config) { c.ConnDialect = "legacy" }, wantErr: "connection dialect"},
		{name: "Client cert without CA", mutate: func(c *Config) { c.ClientCert = "cert.pem" }, wantErr: "CA certificate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
