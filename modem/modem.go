package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"watchible.io/modemd/at"
)

// Modem drives a Quectel BC66 NB-IoT modem over a line-oriented AT channel.
//
// A single Loop goroutine drains the transport, classifies every line and
// applies it to the shared session. Command issuers write to the transport
// directly, one command at a time, and block on the session until the Loop
// sees the matching completion marker.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config  Config
	log     *slog.Logger
	metrics *Metrics
	// session holds state, identity, the pending command and the alarm
	// latch behind one mutex
	session *session
	// handlers maps a status line name to the code that applies it
	handlers map[string]EventHandler

	// writeMu serializes transport writes between commands and payloads
	writeMu sync.Mutex

	// urcChan receives every status line for observers. It is buffered and
	// drops events when nobody keeps up.
	urcChan chan Event

	closed      atomic.Bool
	loopRunning atomic.Bool
	// done is closed by Close to stop a running Loop
	done chan struct{}
}

// Event is a status line as seen on the wire.
type Event struct {
	Name    string
	Payload string
}

// New creates a new Modem instance with the given configuration.
// It establishes the transport connection and arms the alarm interrupt
// when pins are configured. The session starts in StateReset; nothing is
// written to the modem until the caller issues a command.
//
// Loop must be running for commands to complete.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport: transport,
		config:    config,
		log:       config.logger,
		metrics:   config.metrics,
		session:   newSession(),
		urcChan:   make(chan Event, 100),
		done:      make(chan struct{}),
	}
	m.handlers = m.builtinHandlers()
	for name, fn := range config.handlers {
		m.handlers[name] = fn
	}

	if config.pins != nil {
		if err := config.pins.OnEdge(LineAlarm, func() { m.TriggerAlarm() }); err != nil {
			transport.Close()
			return nil, fmt.Errorf("arm alarm interrupt: %w", err)
		}
	}

	return m, nil
}

// Loop is the Line Reader. It must run for as long as the modem is in use,
// typically in its own goroutine:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//
// It reads the transport line by line, sleeping briefly whenever no data is
// available, and feeds every line to the classifier. Undecodable bytes and
// overlong lines are dropped and counted; malformed status lines are
// logged. None of these stop the Loop.
//
// Loop returns when ctx is cancelled, Close is called, the transport
// reports EOF or a read error occurs.
func (m *Modem) Loop(ctx context.Context) error {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader := at.NewReader(m.transport, m.config.idleInterval, m.config.maxLineLength)

	// Channels for tokens and errors from the reader goroutine
	tokens := make(chan []byte, 10)
	readErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for {
			token, err := reader.ReadToken(ctx)
			if errors.Is(err, at.ErrLineTooLong) {
				m.metrics.decodeError()
				m.log.Warn("Discarding overlong line")
				continue
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErrs <- err
				}
				return
			}
			select {
			case tokens <- token:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-m.done:
			return ErrAlreadyClosed

		case token, ok := <-tokens:
			if !ok {
				select {
				case err := <-readErrs:
					return m.readFailed(ctx, err)
				default:
				}
				return io.EOF
			}
			m.handleLine(token)

		case err := <-readErrs:
			return m.readFailed(ctx, err)
		}
	}
}

func (m *Modem) readFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("read error: %w", err)
}

// handleLine applies one framed line to the session.
func (m *Modem) handleLine(raw []byte) {
	line, lossy := at.Decode(raw)
	if lossy {
		m.metrics.decodeError()
		m.log.Warn("Dropped undecodable bytes", "line", line)
	}
	if line == "" {
		return
	}

	kind := at.Classify(line)
	m.metrics.line(kind.String())
	m.log.Debug("Modem line", "kind", kind.String(), "line", line)

	switch kind {
	case at.TypeBoot:
		hadPending := m.session.hasPending()
		from, changed := m.session.reboot()
		m.log.Warn("Modem restarted", "banner", line, "previous_state", from, "pending_cleared", hadPending)
		m.stateChanged(from, StateReset, changed)

	case at.TypeFinal:
		if p := m.session.complete(line, at.IsSuccess(line)); p != nil {
			m.log.Debug("Command completed", "command", p.cmd, "final", line)
		}

	case at.TypePrompt:
		m.setState(StateReading)

	case at.TypeStatus:
		name, payload, err := at.ParseStatus(line)
		if err != nil {
			m.log.Warn("Malformed status line", "line", line, "error", err)
			return
		}
		m.session.appendLine(line)
		m.dispatch(name, payload)

	default:
		if strings.HasPrefix(line, at.StatusPrefix) {
			m.log.Warn("Malformed status line", "line", line, "error", at.ErrMalformedStatus)
		}
		m.session.appendLine(line)
	}
}

// dispatch routes a status line to its handler.
func (m *Modem) dispatch(name, payload string) {
	select {
	case m.urcChan <- Event{Name: name, Payload: payload}:
	default:
		// URC channel is full - drop the event
	}

	h, ok := m.handlers[name]
	if !ok {
		m.metrics.unknownEvent(name)
		m.log.Debug("Unhandled status line", "event", name, "payload", payload)
		return
	}
	if err := h(payload); err != nil {
		m.metrics.parseError(name)
		m.log.Warn("Dropped status line", "event", name, "payload", payload, "error", err)
	}
}

// setState is the only way handlers change the session state.
func (m *Modem) setState(to State) {
	from, changed := m.session.transition(to)
	m.stateChanged(from, to, changed)
}

func (m *Modem) stateChanged(from, to State, changed bool) {
	if !changed {
		return
	}
	m.log.Info("Session state changed", "from", from, "to", to)
	m.metrics.transition(to)
	if m.config.onStateChange != nil {
		m.config.onStateChange(from, to)
	}
}

// URC returns a read-only channel that receives every status line the
// modem sends, solicited or not. The channel is buffered, but may drop
// events if not consumed fast enough.
func (m *Modem) URC() <-chan Event {
	return m.urcChan
}

// State returns the current session state.
func (m *Modem) State() State {
	return m.session.State()
}

// Identity returns what the modem has reported about itself so far.
func (m *Modem) Identity() Identity {
	return m.session.Identity()
}

// Close shuts down the modem and releases all resources.
// It stops the event loop and closes the transport connection.
// After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if m.closed.Swap(true) {
		return ErrAlreadyClosed
	}
	close(m.done)

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// LogValue implements slog.LogValuer.
func (m *Modem) LogValue() slog.Value {
	id := m.Identity()
	return slog.GroupValue(
		slog.String("state", m.State().String()),
		slog.String("ccid", id.CCID),
		slog.String("imei", id.IMEI),
	)
}
