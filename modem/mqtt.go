package modem

import (
	"context"
	"fmt"

	"watchible.io/modemd/at"
)

// TLSMaterial is the certificate set uploaded to the modem's SSL context.
// The modem does the TLS handshake itself.
type TLSMaterial struct {
	CACert     []byte
	ClientCert []byte
	ClientKey  []byte
}

// ConfigureSSL sets up the SSL context for TLS 1.2 with client
// authentication, uploads the certificates and binds the context to the
// MQTT connection.
func (m *Modem) ConfigureSSL(ctx context.Context, tls TLSMaterial) error {
	id := m.config.connectID

	for _, cmd := range []string{
		at.SSLConfig(id, "sslversion", 4),
		at.SSLConfig(id, "seclevel", 2),
	} {
		if err := m.SendAndAwait(ctx, cmd); err != nil {
			return fmt.Errorf("ssl config: %w", err)
		}
	}

	uploads := []struct {
		key  string
		data []byte
	}{
		{"cacert", tls.CACert},
		{"clientcert", tls.ClientCert},
		{"clientkey", tls.ClientKey},
	}
	for _, u := range uploads {
		if len(u.data) == 0 {
			continue
		}
		m.log.Info("Uploading certificate", "kind", u.key, "bytes", len(u.data))
		if err := m.upload(ctx, at.SSLConfig(id, u.key), u.data); err != nil {
			return fmt.Errorf("upload %s: %w", u.key, err)
		}
	}

	if err := m.SendAndAwait(ctx, at.MQTTUseSSL(id, id)); err != nil {
		return fmt.Errorf("enable mqtt ssl: %w", err)
	}
	return nil
}

// Open opens the network connection to the broker and waits until the modem
// reports the outcome.
func (m *Modem) Open(ctx context.Context, host string, port int) error {
	if err := m.sendTransitional(ctx, at.MQTTOpen(m.config.connectID, host, port), StateMQTTOpening); err != nil {
		return fmt.Errorf("mqtt open: %w", err)
	}

	if err := m.WaitFor(ctx, InState(StateMQTTOpened, StateMQTTOpenFailed), Wait{}); err != nil {
		return fmt.Errorf("mqtt open: %w", err)
	}
	if m.State() == StateMQTTOpenFailed {
		return fmt.Errorf("%w: %s:%d", ErrOpenFailed, host, port)
	}
	return nil
}

// Connect logs clientID in to the opened broker and waits for the result.
// Unless the dialect reads two field lines as results, the connection state
// is re-queried until it settles.
func (m *Modem) Connect(ctx context.Context, clientID string) error {
	if err := m.sendTransitional(ctx, at.MQTTConnect(m.config.connectID, clientID), StateMQTTConnecting); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	var w Wait
	if m.config.dialect != DialectResult {
		w.Query = at.CmdQueryConnection
	}
	done := InState(StateMQTTConnected, StateMQTTConnectFailed, StateMQTTClosed)
	if err := m.WaitFor(ctx, done, w); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if s := m.State(); s != StateMQTTConnected {
		return fmt.Errorf("%w: %s", ErrConnectFailed, s)
	}
	return nil
}

// Publish sends payload to topic with QoS 0. The session must be connected.
// The payload goes through the data prompt and the session returns to
// StateMQTTConnected afterwards.
func (m *Modem) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.State() != StateMQTTConnected {
		return ErrNotConnected
	}
	cmd := at.MQTTPublish(m.config.connectID, 0, 0, false, topic)
	if err := m.upload(ctx, cmd, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	m.log.Debug("Published", "topic", topic, "bytes", len(payload))
	return nil
}

// Subscribe subscribes to topic. Messages arrive through the OnMessage
// callback.
func (m *Modem) Subscribe(ctx context.Context, topic string, qos int) error {
	if m.State() != StateMQTTConnected {
		return ErrNotConnected
	}
	if err := m.SendAndAwait(ctx, at.MQTTSubscribe(m.config.connectID, 1, topic, qos)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Disconnect logs the client out of the broker.
func (m *Modem) Disconnect(ctx context.Context) error {
	if err := m.SendAndAwait(ctx, at.MQTTDisconnect(m.config.connectID)); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}

// CloseMQTT closes the broker connection and waits until the session is
// back to StateRegistered.
func (m *Modem) CloseMQTT(ctx context.Context) error {
	if err := m.SendAndAwait(ctx, at.MQTTClose(m.config.connectID)); err != nil {
		return fmt.Errorf("mqtt close: %w", err)
	}
	if err := m.WaitFor(ctx, InState(StateRegistered), Wait{}); err != nil {
		return fmt.Errorf("mqtt close: %w", err)
	}
	return nil
}

// sendTransitional enters state before sending cmd so that a fast answer
// cannot be overwritten. The previous state is restored if the command
// fails.
func (m *Modem) sendTransitional(ctx context.Context, cmd string, state State) error {
	prev := m.State()
	m.setState(state)
	if err := m.SendAndAwait(ctx, cmd); err != nil {
		from, changed := m.session.transitionIf(prev, state)
		m.stateChanged(from, prev, changed)
		return err
	}
	return nil
}
