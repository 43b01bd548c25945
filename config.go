package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"watchible.io/modemd/modem"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the status server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	// BrokerHost and BrokerPort locate the MQTT broker the modem connects to
	BrokerHost string `yaml:"broker_host"`
	BrokerPort int    `yaml:"broker_port"`
	// ClientID is the MQTT client id. Empty uses the SIM CCID.
	ClientID string `yaml:"client_id"`
	// StateTopic receives the periodic reports
	StateTopic string `yaml:"state_topic"`
	// UpdateTopic is subscribed to for configuration pushed to the device
	UpdateTopic string `yaml:"update_topic"`

	// ReportInterval is the time between two reports
	ReportInterval time.Duration `yaml:"report_interval"`
	// PSM lets the modem negotiate power saving mode with the network
	PSM bool `yaml:"psm"`

	// CACert, ClientCert and ClientKey are paths to the TLS material uploaded
	// to the modem. TLS is disabled when CACert is empty.
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`

	// ThermalZone is the sysfs file the board temperature is read from
	ThermalZone string `yaml:"thermal_zone"`
	// LocalBroker, when set, receives a mirror of modem events
	// (e.g. "tcp://127.0.0.1:1883")
	LocalBroker string `yaml:"local_broker"`
	// ConnDialect selects how +QMTCONN status codes are read by firmware
	// revision: "auto" (default), "result" or "state"
	ConnDialect string `yaml:"conn_dialect"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.BrokerPort = 8883
		c.StateTopic = "device/state"
		c.UpdateTopic = "device/update"
		c.ReportInterval = 15 * time.Minute
		c.ThermalZone = "/sys/class/thermal/thermal_zone0/temp"
		return nil
	}
}

// WithFile loads configuration from a YAML file. Keys missing from the file
// keep their current value. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if host := os.Getenv("BROKER_HOST"); host != "" {
			c.BrokerHost = host
		}

		if port := os.Getenv("BROKER_PORT"); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				c.BrokerPort = p
			}
		}

		if id := os.Getenv("CLIENT_ID"); id != "" {
			c.ClientID = id
		}

		if interval := os.Getenv("REPORT_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.ReportInterval = d
			}
		}

		if psm := os.Getenv("PSM"); psm != "" {
			if b, err := strconv.ParseBool(psm); err == nil {
				c.PSM = b
			}
		}

		if broker := os.Getenv("LOCAL_BROKER"); broker != "" {
			c.LocalBroker = broker
		}

		if dialect := os.Getenv("CONN_DIALECT"); dialect != "" {
			c.ConnDialect = dialect
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "broker-host":
				c.BrokerHost = f.Value.String()
			case "broker-port":
				if p, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BrokerPort = p
				}
			case "report-interval":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.ReportInterval = d
				}
			case "psm":
				if b, err := strconv.ParseBool(f.Value.String()); err == nil {
					c.PSM = b
				}
			case "conn-dialect":
				c.ConnDialect = f.Value.String()
			}
		})
		return nil
	}
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SerialPort == "" {
		errs = append(errs, errors.New("serial port is required"))
	}
	if c.BrokerHost == "" {
		errs = append(errs, errors.New("broker host is required"))
	}
	if c.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("report interval must be positive, got %s", c.ReportInterval))
	}
	if _, err := modem.ParseDialect(c.ConnDialect); err != nil {
		errs = append(errs, err)
	}
	if c.CACert == "" && (c.ClientCert != "" || c.ClientKey != "") {
		errs = append(errs, errors.New("client certificate requires a CA certificate"))
	}
	return errors.Join(errs...)
}
