package modem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"watchible.io/modemd/at"
)

// Send writes cmd to the modem and returns without waiting for the
// completion marker. The command is normalized first: the AT+ escape is
// added unless cmd already starts with AT, and CRLF is appended.
//
// Send fails with ErrCommandPending while another command is outstanding
// and with ErrTransport if the write failed, in which case no command is
// pending afterwards. Nothing is written once ctx is done.
func (m *Modem) Send(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.send(cmd)
	return err
}

func (m *Modem) send(cmd string) (*pendingCommand, error) {
	if m.closed.Load() {
		return nil, ErrAlreadyClosed
	}

	wire := at.Normalize(cmd)
	name := strings.TrimSpace(wire)

	p, err := m.session.begin(name, m.config.now())
	if err != nil {
		return nil, err
	}

	if err := m.write([]byte(wire)); err != nil {
		m.session.cancel(p)
		m.metrics.command("transport_error")
		m.log.Error("Failed to send command", "command", name, "error", err)
		return nil, err
	}

	m.log.Debug("Sent command", "command", name)
	return p, nil
}

func (m *Modem) write(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if _, err := m.transport.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Exec sends cmd and blocks until the modem completes it. It returns the
// intermediate lines the modem printed before the completion marker.
//
// If another command is outstanding, Exec waits for it to finish first. When
// ctx carries no deadline the configured AT timeout applies. A timed out
// command is not cancelled on the modem: its completion still lands later
// and clears the pending command.
//
// A failure answer is returned as a *CommandError, a restart of the modem
// while waiting as ErrProtocolReset.
func (m *Modem) Exec(ctx context.Context, cmd string) ([]string, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	p, err := m.acquire(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return m.await(ctx, p)
}

// SendAndAwait is Exec without the response lines.
func (m *Modem) SendAndAwait(ctx context.Context, cmd string) error {
	_, err := m.Exec(ctx, cmd)
	return err
}

func (m *Modem) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.config.atTimeout)
}

// acquire sends cmd as soon as no other command is pending.
func (m *Modem) acquire(ctx context.Context, cmd string) (*pendingCommand, error) {
	for {
		changed := m.session.watch()
		p, err := m.send(cmd)
		if !errors.Is(err, ErrCommandPending) {
			return p, err
		}

		select {
		case <-ctx.Done():
			m.metrics.command("timeout")
			return nil, fmt.Errorf("%w: waiting to send %q: %w", ErrTimeout, cmd, ctx.Err())
		case <-changed:
		}
	}
}

// await blocks until p completes or ctx expires.
func (m *Modem) await(ctx context.Context, p *pendingCommand) ([]string, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		m.metrics.command("timeout")
		m.log.Warn("Command timed out", "command", p.cmd)
		return nil, fmt.Errorf("%w: %q: %w", ErrTimeout, p.cmd, ctx.Err())
	}

	outcome, final, lines := m.session.result(p)
	switch outcome {
	case outcomeOK:
		m.metrics.command("ok")
		return lines, nil
	case outcomeFailed:
		m.metrics.command("error")
		return lines, &CommandError{Cmd: p.cmd, Final: final, Lines: lines}
	case outcomeReset:
		m.metrics.command("reset")
		return lines, fmt.Errorf("%w: %q", ErrProtocolReset, p.cmd)
	default:
		return lines, fmt.Errorf("%w: %q cancelled", ErrTimeout, p.cmd)
	}
}

// awaitPrompt blocks until the modem asks for payload data after p was sent.
func (m *Modem) awaitPrompt(ctx context.Context, p *pendingCommand) error {
	for {
		changed := m.session.watch()
		if m.State() == StateReading {
			return nil
		}

		select {
		case <-ctx.Done():
			m.metrics.command("timeout")
			return fmt.Errorf("%w: no prompt for %q: %w", ErrTimeout, p.cmd, ctx.Err())
		case <-p.done:
			if m.State() == StateReading {
				return nil
			}
			if _, err := m.await(ctx, p); err != nil {
				return err
			}
			return fmt.Errorf("%w: %q", ErrNoPrompt, p.cmd)
		case <-changed:
		}
	}
}

// SendPayload uploads data after the modem printed the payload prompt. The
// bytes are written one line at a time, paced by the configured payload line
// delay, followed by Ctrl-Z. The modem does not announce the end of the
// upload, so the session state is then set to restore.
//
// SendPayload fails with ErrNoPrompt unless the session is in StateReading.
// If a write fails the state is left at StateReading: the modem is still
// waiting for data.
func (m *Modem) SendPayload(ctx context.Context, data []byte, restore State) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.State() != StateReading {
		return ErrNoPrompt
	}

	chunks := bytes.SplitAfter(data, []byte{at.LF})
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		if err := m.write(chunk); err != nil {
			m.log.Error("Payload upload failed", "error", err)
			return err
		}
		if m.config.payloadDelay > 0 && i < len(chunks)-1 {
			if err := sleep(ctx, m.config.payloadDelay); err != nil {
				return err
			}
		}
	}
	if err := m.write([]byte(at.CtrlZ)); err != nil {
		m.log.Error("Payload terminator failed", "error", err)
		return err
	}

	m.log.Debug("Uploaded payload", "bytes", len(data), "restore", restore)
	m.setState(restore)
	return nil
}

// upload runs a prompted command: cmd is sent, the prompt awaited, data
// uploaded and the completion awaited. The state current before cmd was
// sent is restored after the upload.
func (m *Modem) upload(ctx context.Context, cmd string, data []byte) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	restore := m.State()
	p, err := m.acquire(ctx, cmd)
	if err != nil {
		return err
	}
	if err := m.awaitPrompt(ctx, p); err != nil {
		return err
	}
	if err := m.SendPayload(ctx, data, restore); err != nil {
		return err
	}
	_, err = m.await(ctx, p)
	return err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
