package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"watchible.io/modemd/modem"
)

// publisher is the part of mqtt.Client the bridge uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Bridge mirrors modem events to a broker on the host so local services can
// follow the session without talking to the serial port. Its callbacks run
// on the modem Loop and never wait for the broker.
type Bridge struct {
	Logger *slog.Logger
	// Prefix is prepended to every mirrored topic
	Prefix string

	client publisher
	closer func()
}

// NewBridge creates a bridge to the broker at url. The client keeps
// reconnecting in the background; Connect only waits for the first attempt.
func NewBridge(logger *slog.Logger, url, clientID string) *Bridge {
	opts := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("Local broker connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("Connected to local broker", "broker", url)
		})

	client := mqtt.NewClient(opts)
	return &Bridge{
		Logger: logger,
		Prefix: "modem",
		client: client,
		closer: func() { client.Disconnect(250) },
	}
}

// Connect starts the client.
func (b *Bridge) Connect(ctx context.Context) error {
	c, ok := b.client.(mqtt.Client)
	if !ok {
		return nil
	}
	token := c.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connect local broker: %w", err)
		}
		return nil
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	if b.closer != nil {
		b.closer()
	}
}

// StateChanged publishes the new session state, retained.
func (b *Bridge) StateChanged(from, to modem.State) {
	type stateEvent struct {
		From modem.State `json:"from"`
		To   modem.State `json:"to"`
		At   time.Time   `json:"at"`
	}
	b.publish("state", true, stateEvent{From: from, To: to, At: time.Now().UTC()})
}

// Message forwards a message the modem received from the remote broker.
func (b *Bridge) Message(msg modem.Message) {
	type inboxEvent struct {
		Topic   string `json:"topic"`
		Payload string `json:"payload"`
	}
	b.publish("inbox", false, inboxEvent{Topic: msg.Topic, Payload: msg.Payload})
}

// Published forwards the outcome of a remote publish.
func (b *Bridge) Published(r modem.PublishResult) {
	b.publish("published", false, r)
}

func (b *Bridge) publish(suffix string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.Logger.Warn("Failed to encode bridge event", "error", err, "topic", suffix)
		return
	}
	topic := b.Prefix + "/" + suffix
	token := b.client.Publish(topic, 0, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			b.Logger.Debug("Bridge publish failed", "error", err, "topic", topic)
		}
	}()
}
