package at

import (
	"fmt"
	"strings"
)

// Commands understood by the BC66 that the driver issues on its own. They
// are written without the AT+ escape; Normalize adds it.
const (
	CmdAt                = "AT"
	CmdQueryCCID         = "QCCID"
	CmdQueryIMEI         = "CGSN=1"
	CmdQueryRegistration = "CEREG?"
	CmdQueryClock        = "CCLK?"
	CmdQueryBattery      = "CBC"
	CmdQueryContext      = "CGDCONT?"
	CmdQueryConnection   = "QMTCONN?"
	CmdSleepOff          = "QSCLK=0"
	CmdSleepOn           = "QSCLK=1"
	CmdReportPSMEvents   = "QNBIOTEVENT=1,1"

	// CmdPowerSaving requests PSM with a 12h periodic TAU and 1 minute
	// active time.
	CmdPowerSaving = `CPSMS=1,,,"00101100","00100001"`

	SimReady = "READY"
	EnterPSM = "ENTER PSM"
	ExitPSM  = "EXIT PSM"
)

// Normalize frames a command for the wire: the AT+ escape is prepended
// unless the command already starts with AT (in any case), surrounding
// whitespace is removed and CRLF is appended.
func Normalize(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if len(cmd) < 2 || !strings.EqualFold(cmd[:2], "AT") {
		cmd = "AT+" + cmd
	}
	return cmd + CRLF
}

// SSLConfig builds an AT+QSSLCFG setting for SSL context ctxID.
func SSLConfig(ctxID int, key string, value ...any) string {
	cmd := fmt.Sprintf(`QSSLCFG=0,%d,"%s"`, ctxID, key)
	for _, v := range value {
		cmd += fmt.Sprintf(",%v", v)
	}
	return cmd
}

// MQTTUseSSL binds MQTT connection connectID to SSL context ctxID.
func MQTTUseSSL(connectID, ctxID int) string {
	return fmt.Sprintf(`QMTCFG="ssl",%d,1,%d,0`, connectID, ctxID)
}

// MQTTOpen opens the network connection to an MQTT broker.
func MQTTOpen(connectID int, host string, port int) string {
	return fmt.Sprintf(`QMTOPEN=%d,"%s",%d`, connectID, host, port)
}

// MQTTConnect connects a client to the broker opened on connectID.
func MQTTConnect(connectID int, clientID string) string {
	return fmt.Sprintf(`QMTCONN=%d,"%s"`, connectID, clientID)
}

// MQTTPublish starts a publish; the modem answers with the payload prompt.
// QoS 0 messages must use msgID 0.
func MQTTPublish(connectID, msgID, qos int, retain bool, topic string) string {
	r := 0
	if retain {
		r = 1
	}
	return fmt.Sprintf(`QMTPUB=%d,%d,%d,%d,"%s"`, connectID, msgID, qos, r, topic)
}

// MQTTSubscribe subscribes to a single topic.
func MQTTSubscribe(connectID, msgID int, topic string, qos int) string {
	return fmt.Sprintf(`QMTSUB=%d,%d,"%s",%d`, connectID, msgID, topic, qos)
}

// MQTTDisconnect disconnects the client on connectID.
func MQTTDisconnect(connectID int) string {
	return fmt.Sprintf("QMTDISC=%d", connectID)
}

// MQTTClose closes the network connection on connectID.
func MQTTClose(connectID int) string {
	return fmt.Sprintf("QMTCLOSE=%d", connectID)
}
