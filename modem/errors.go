package modem

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no transport.
	//
	// This can occur if the Dialer returned a nil Transport or if the Modem
	// was not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation attempted afterwards.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still draining the transport.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrTimeout is returned when the modem did not complete a command, or
	// the session did not reach the awaited state, before the deadline.
	//
	// The command itself is not cancelled. Its completion may still arrive
	// later and clear the pending command.
	ErrTimeout = errors.New("timed out")

	// ErrCommandPending is returned by Send when a previous command has not
	// completed yet. Only one command may be outstanding on the wire.
	ErrCommandPending = errors.New("command pending")

	// ErrCommandFailed is matched by a *CommandError, which is returned when
	// the modem answered ERROR, +CME ERROR or +CMS ERROR.
	ErrCommandFailed = errors.New("command failed")

	// ErrProtocolReset is returned to a caller whose command was cleared by
	// a boot marker or by a power cycle. The session is back in StateReset
	// and the full bring-up sequence has to run again.
	ErrProtocolReset = errors.New("modem restarted")

	// ErrTransport wraps a failed write to the transport. The command is
	// treated as not sent.
	ErrTransport = errors.New("transport write failed")

	// ErrParse is matched by a *ParseError.
	ErrParse = errors.New("malformed event payload")

	// ErrNoPrompt is returned when a payload upload was requested but the
	// modem completed the command instead of asking for data.
	ErrNoPrompt = errors.New("modem did not prompt for data")

	// ErrNotConnected is returned by Publish and Subscribe when the MQTT
	// session is not connected.
	ErrNotConnected = errors.New("mqtt not connected")

	// ErrOpenFailed is returned by Open when the modem reports that the
	// broker connection could not be opened.
	ErrOpenFailed = errors.New("mqtt open failed")

	// ErrConnectFailed is returned by Connect when the broker refused the
	// client or the modem gave up.
	ErrConnectFailed = errors.New("mqtt connect failed")

	// ErrNoPins is returned by power sequencing when no GPIO collaborator
	// was configured.
	ErrNoPins = errors.New("no gpio pins configured")
)

// CommandError reports a command the modem answered with a failure code.
type CommandError struct {
	// Cmd is the command as written, without line terminator.
	Cmd string
	// Final is the final response line, e.g. "ERROR" or "+CME ERROR: 50".
	Final string
	// Lines holds the intermediate lines received before Final.
	Lines []string
}

func (e *CommandError) Error() string {
	if len(e.Lines) == 0 {
		return fmt.Sprintf("%s: %s", e.Cmd, e.Final)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Cmd, e.Final, strings.Join(e.Lines, "; "))
}

func (e *CommandError) Is(target error) bool { return target == ErrCommandFailed }

// ParseError reports a status line whose payload a handler could not use.
// The update is dropped; session state is left unchanged.
type ParseError struct {
	Event   string
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse +%s: %q: %v", e.Event, e.Payload, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }
