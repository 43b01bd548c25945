package modem

import "fmt"

// State is the authoritative session state of the modem.
type State int

const (
	StateReset State = iota
	StateReady
	StateRegistered
	// StateReading means the modem printed the payload prompt and is
	// waiting for raw bytes terminated by Ctrl-Z.
	StateReading
	StateMQTTOpening
	StateMQTTOpened
	StateMQTTOpenFailed
	StateMQTTConnecting
	StateMQTTConnected
	StateMQTTConnectFailed
	StateMQTTDisconnected
	StateMQTTClosed
	StatePowerSave
)

var stateNames = [...]string{
	StateReset:             "reset",
	StateReady:             "ready",
	StateRegistered:        "registered",
	StateReading:           "reading",
	StateMQTTOpening:       "mqtt_opening",
	StateMQTTOpened:        "mqtt_opened",
	StateMQTTOpenFailed:    "mqtt_open_failed",
	StateMQTTConnecting:    "mqtt_connecting",
	StateMQTTConnected:     "mqtt_connected",
	StateMQTTConnectFailed: "mqtt_connect_failed",
	StateMQTTDisconnected:  "mqtt_disconnected",
	StateMQTTClosed:        "mqtt_closed",
	StatePowerSave:         "power_save",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Condition reports whether a state satisfies a wait.
type Condition func(State) bool

// InState is satisfied by any of the given states.
func InState(states ...State) Condition {
	return func(s State) bool {
		for _, want := range states {
			if s == want {
				return true
			}
		}
		return false
	}
}

// Identity holds what the modem has told us about itself. Fields are empty
// until the corresponding status line has been seen.
type Identity struct {
	CCID    string `json:"ccid,omitempty"`
	IMEI    string `json:"imei,omitempty"`
	IP      string `json:"ip,omitempty"`
	Clock   string `json:"clock,omitempty"`
	Battery string `json:"battery,omitempty"`
}

// Message is an MQTT message delivered by +QMTRECV.
type Message struct {
	ConnectID int
	MsgID     int
	Topic     string
	Payload   string
}

// PublishResult is the outcome reported by +QMTPUB.
type PublishResult struct {
	ConnectID int
	MsgID     int
	// Result is 0 on success, 1 if the packet is being retransmitted and 2
	// if sending failed.
	Result int
	// Value is the retransmission count or, for QoS 0, absent (-1).
	Value int
}

// Dialect selects how the second field of a two field +QMTCONN line is
// interpreted. Lines with a return code as third field always answer
// AT+QMTCONN=... and are read as results.
type Dialect int

const (
	// DialectAuto accepts both encodings: 0 and 3 mean connected, 1 and 2
	// mean still connecting.
	DialectAuto Dialect = iota
	// DialectResult reads the field as the result of AT+QMTCONN=...:
	// 0 connected, 1 retransmitting, 2 failed to send. Connect does not
	// poll AT+QMTCONN? in this dialect.
	DialectResult
	// DialectState reads the field as the answer to AT+QMTCONN?:
	// 1 initializing, 2 connecting, 3 connected, 4 disconnecting.
	DialectState
)

// ParseDialect maps a configuration value to a Dialect. The empty string
// selects DialectAuto.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "", "auto":
		return DialectAuto, nil
	case "result":
		return DialectResult, nil
	case "state":
		return DialectState, nil
	}
	return DialectAuto, fmt.Errorf("modem: unknown connection dialect %q", s)
}

// MarshalText renders the state by name in logs and JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
