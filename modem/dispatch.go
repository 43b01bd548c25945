package modem

import (
	"fmt"
	"strconv"
	"strings"

	"watchible.io/modemd/at"
)

// builtinHandlers returns the status line handlers the driver knows about,
// keyed by the name between '+' and ':'.
func (m *Modem) builtinHandlers() map[string]EventHandler {
	return map[string]EventHandler{
		"CEREG":       m.onRegistration,
		"CPIN":        m.onSIM,
		"QCCID":       m.onCCID,
		"CGSN":        m.onIMEI,
		"QCGSN":       m.onIMEI,
		"QMTOPEN":     m.onMQTTOpen,
		"QMTCONN":     m.onMQTTConn,
		"QMTDISC":     m.onMQTTDisc,
		"QMTSTAT":     m.onMQTTStat,
		"QMTCLOSE":    m.onMQTTClose,
		"QMTPUB":      m.onMQTTPub,
		"QMTRECV":     m.onMQTTRecv,
		"CBC":         m.onBattery,
		"CCLK":        m.onClock,
		"QNBIOTEVENT": m.onPowerSave,
		"CGDCONT":     m.onContext,
		"IP":          m.onIP,
	}
}

// fields splits a status payload on commas and trims each field.
func fields(payload string) []string {
	parts := strings.Split(payload, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

// intField parses fields[i], failing with a ParseError naming event when the
// field is missing or not an integer.
func intField(event, payload string, f []string, i int) (int, error) {
	if i >= len(f) {
		return 0, &ParseError{Event: event, Payload: payload, Err: fmt.Errorf("missing field %d", i+1)}
	}
	n, err := strconv.Atoi(f[i])
	if err != nil {
		return 0, &ParseError{Event: event, Payload: payload, Err: err}
	}
	return n, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func isDottedQuad(s string) bool {
	return len(strings.Split(s, ".")) == 4
}

func registered(stat int) bool {
	return stat == 1 || stat == 5
}

// onRegistration handles +CEREG. A single field is an unsolicited
// registration update; two or more fields are the answer to AT+CEREG?,
// where the first field is the report mode and is not looked at. Only
// (re)gaining registration changes state.
func (m *Modem) onRegistration(payload string) error {
	f := fields(payload)
	idx := 0
	if len(f) >= 2 {
		idx = 1
	}
	stat, err := intField("CEREG", payload, f, idx)
	if err != nil {
		return err
	}
	if registered(stat) {
		m.setState(StateRegistered)
	}
	return nil
}

// onSIM handles +CPIN. A ready SIM after a restart makes the modem usable.
func (m *Modem) onSIM(payload string) error {
	if strings.TrimSpace(payload) != at.SimReady {
		return nil
	}
	from, changed := m.session.transitionIf(StateReady, StateReset)
	m.stateChanged(from, StateReady, changed)
	return nil
}

func (m *Modem) onCCID(payload string) error {
	ccid := strings.TrimSpace(payload)
	m.session.updateIdentity(func(id *Identity) { id.CCID = ccid })
	m.log.Info("SIM identified", "ccid", ccid)
	return nil
}

func (m *Modem) onIMEI(payload string) error {
	imei := unquote(payload)
	m.session.updateIdentity(func(id *Identity) { id.IMEI = imei })
	return nil
}

// onMQTTOpen handles +QMTOPEN: <connectID>,<result>.
func (m *Modem) onMQTTOpen(payload string) error {
	result, err := intField("QMTOPEN", payload, fields(payload), 1)
	if err != nil {
		return err
	}
	if result == 0 {
		m.setState(StateMQTTOpened)
		return nil
	}
	m.log.Warn("MQTT network open failed", "result", result)
	m.setState(StateMQTTOpenFailed)
	return nil
}

// onMQTTConn handles +QMTCONN. The result of AT+QMTCONN=... carries a
// return code as third field and is always read as a result. A two field
// line is read according to the configured Dialect.
func (m *Modem) onMQTTConn(payload string) error {
	f := fields(payload)
	code, err := intField("QMTCONN", payload, f, 1)
	if err != nil {
		return err
	}

	dialect := m.config.dialect
	if len(f) >= 3 {
		dialect = DialectResult
	}

	var next State
	switch dialect {
	case DialectResult:
		switch code {
		case 0:
			next = StateMQTTConnected
		case 1:
			next = StateMQTTConnecting
		default:
			next = StateMQTTConnectFailed
		}
	case DialectState:
		switch code {
		case 3:
			next = StateMQTTConnected
		case 1, 2:
			next = StateMQTTConnecting
		case 4:
			next = StateMQTTDisconnected
		default:
			next = StateMQTTConnectFailed
		}
	default:
		switch code {
		case 0, 3:
			next = StateMQTTConnected
		case 1, 2:
			next = StateMQTTConnecting
		default:
			next = StateMQTTConnectFailed
		}
	}

	m.setState(next)
	if next == StateMQTTConnected && m.config.onConnect != nil {
		m.config.onConnect()
	}
	return nil
}

// onMQTTDisc handles +QMTDISC: <connectID>,<result>.
func (m *Modem) onMQTTDisc(payload string) error {
	result, err := intField("QMTDISC", payload, fields(payload), 1)
	if err != nil {
		return err
	}
	if result == 0 {
		m.setState(StateMQTTDisconnected)
	}
	return nil
}

// onMQTTStat handles +QMTSTAT, which reports a link dropped by the network
// or the broker.
func (m *Modem) onMQTTStat(payload string) error {
	code, err := intField("QMTSTAT", payload, fields(payload), 1)
	if err != nil {
		return err
	}
	if code <= 0 {
		return nil
	}
	m.log.Warn("MQTT link closed", "code", code)
	m.setState(StateMQTTClosed)
	if m.config.onDisconnect != nil {
		m.config.onDisconnect(code)
	}
	return nil
}

func (m *Modem) onMQTTClose(payload string) error {
	result, err := intField("QMTCLOSE", payload, fields(payload), 1)
	if err != nil {
		return err
	}
	if result == 0 {
		m.setState(StateRegistered)
	}
	return nil
}

// onMQTTPub handles +QMTPUB: <connectID>,<msgID>,<result>[,<value>].
func (m *Modem) onMQTTPub(payload string) error {
	f := fields(payload)
	res := PublishResult{Value: -1}
	var err error
	if res.ConnectID, err = intField("QMTPUB", payload, f, 0); err != nil {
		return err
	}
	if res.MsgID, err = intField("QMTPUB", payload, f, 1); err != nil {
		return err
	}
	if res.Result, err = intField("QMTPUB", payload, f, 2); err != nil {
		return err
	}
	if len(f) > 3 {
		if res.Value, err = intField("QMTPUB", payload, f, 3); err != nil {
			return err
		}
	}
	if m.config.onPublished != nil {
		m.config.onPublished(res)
	}
	return nil
}

// onMQTTRecv handles +QMTRECV: <connectID>,<msgID>,"<topic>","<payload>".
// The payload is everything after the third comma, commas included.
func (m *Modem) onMQTTRecv(payload string) error {
	f := strings.SplitN(payload, ",", 4)
	if len(f) < 4 {
		return &ParseError{Event: "QMTRECV", Payload: payload, Err: fmt.Errorf("want 4 fields, got %d", len(f))}
	}
	var (
		msg Message
		err error
	)
	if msg.ConnectID, err = intField("QMTRECV", payload, fields(f[0]), 0); err != nil {
		return err
	}
	if msg.MsgID, err = intField("QMTRECV", payload, fields(f[1]), 0); err != nil {
		return err
	}
	msg.Topic = unquote(f[2])
	msg.Payload = unquote(f[3])
	if m.config.onMessage != nil {
		m.config.onMessage(msg)
	}
	return nil
}

// onBattery handles +CBC: <bcs>,<bcl>,<voltage>. Some firmware reports the
// voltage alone.
func (m *Modem) onBattery(payload string) error {
	f := fields(payload)
	battery := f[0]
	if len(f) >= 3 {
		battery = f[2]
	}
	m.session.updateIdentity(func(id *Identity) { id.Battery = battery })
	return nil
}

func (m *Modem) onClock(payload string) error {
	clock := strings.TrimSpace(payload)
	m.session.updateIdentity(func(id *Identity) { id.Clock = clock })
	return nil
}

// onPowerSave handles +QNBIOTEVENT, reported once AT+QNBIOTEVENT=1,1 is set.
func (m *Modem) onPowerSave(payload string) error {
	switch {
	case strings.Contains(payload, at.EnterPSM):
		from, changed := m.session.enterPowerSave()
		m.stateChanged(from, StatePowerSave, changed)
	case strings.Contains(payload, at.ExitPSM):
		from, to, changed := m.session.exitPowerSave()
		m.stateChanged(from, to, changed)
	}
	return nil
}

// onContext handles +CGDCONT: <cid>,<type>,<apn>,<address>,...
func (m *Modem) onContext(payload string) error {
	f := fields(payload)
	if len(f) < 4 {
		return nil
	}
	if addr := unquote(f[3]); isDottedQuad(addr) {
		m.setIP(addr)
	}
	return nil
}

func (m *Modem) onIP(payload string) error {
	if addr := unquote(payload); isDottedQuad(addr) {
		m.setIP(addr)
	}
	return nil
}

func (m *Modem) setIP(addr string) {
	m.session.updateIdentity(func(id *Identity) { id.IP = addr })
	m.log.Info("Device address assigned", "ip", addr)
}
