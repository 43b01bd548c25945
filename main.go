package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"watchible.io/modemd/modem"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("broker-host", "", "MQTT broker the modem connects to")
	flag.Int("broker-port", 8883, "MQTT broker port")
	flag.Duration("report-interval", 15*time.Minute, "Time between two reports")
	flag.Bool("psm", false, "Request power saving mode from the network")
	flag.String("conn-dialect", "auto", "How +QMTCONN status codes are read (auto, result, state)")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configPath), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	tls, err := loadTLS(config)
	if err != nil {
		logger.Error("Failed to load TLS material", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Validate rejected unknown dialects.
	dialect, _ := modem.ParseDialect(config.ConnDialect)

	builder := modem.NewConfigBuilder().
		WithLogger(logger.With("component", "modem")).
		WithMetrics(modem.NewMetrics(registry)).
		WithPayloadLineDelay(100 * time.Millisecond).
		WithConnDialect(dialect).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		})

	var bridge *Bridge
	if config.LocalBroker != "" {
		bridge = NewBridge(logger.With("component", "bridge"), config.LocalBroker, "modemd")
		builder.OnStateChange(bridge.StateChanged).
			OnMessage(bridge.Message).
			OnPublished(bridge.Published)
	}

	modemConfig, err := builder.Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting modem daemon", "modem", m)

	go func() {
		if err := m.Loop(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Modem loop stopped", "error", err)
			stop()
		}
	}()

	if bridge != nil {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := bridge.Connect(connectCtx); err != nil {
			logger.Warn("Local broker unavailable, retrying in the background", "error", err)
		}
		cancel()
		defer bridge.Close()
	}

	reporter := NewReporter(logger.With("component", "reporter"), m, config, tls)
	raiseAlarm := func() bool {
		if !m.TriggerAlarm() {
			return false
		}
		reporter.Wake()
		return true
	}

	// SIGUSR1 stands in for the alarm interrupt on boards without GPIO
	alarmChan := make(chan os.Signal, 1)
	signal.Notify(alarmChan, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-alarmChan:
				logger.Info("Alarm signal received", "accepted", raiseAlarm())
			}
		}
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:   logger.With("component", "server"),
			Modem:    m,
			Gatherer: registry,
			Alarm:    raiseAlarm,
		},
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Reporter stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
	}
	<-reporterDone

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}
}

// loadTLS reads the certificate files named in the configuration. It
// returns nil when TLS is disabled.
func loadTLS(config *Config) (*modem.TLSMaterial, error) {
	if config.CACert == "" {
		return nil, nil
	}

	var tls modem.TLSMaterial
	files := []struct {
		path string
		dst  *[]byte
	}{
		{config.CACert, &tls.CACert},
		{config.ClientCert, &tls.ClientCert},
		{config.ClientKey, &tls.ClientKey},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.path, err)
		}
		*f.dst = data
	}
	return &tls, nil
}
