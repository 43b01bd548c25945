package modem

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Wait tunes WaitFor.
type Wait struct {
	// Query is sent on every poll while the condition does not hold,
	// typically an idempotent status query such as CEREG?. Empty sends
	// nothing.
	Query string
	// Interval between polls. Zero uses the configured poll interval.
	Interval time.Duration
	// Timeout bounds the wait on top of any ctx deadline. Zero waits until
	// ctx is done.
	Timeout time.Duration
}

// WaitFor blocks until the session state satisfies cond. It returns
// immediately, without sending anything, if cond already holds. Otherwise
// it sends w.Query once per poll interval and re-checks the state whenever
// it changes.
//
// Failures of the query command are logged and do not end the wait, except
// a restart of the modem, which ends it with ErrProtocolReset.
func (m *Modem) WaitFor(ctx context.Context, cond Condition, w Wait) error {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = m.config.pollInterval
	}

	changed := m.session.watch()
	if cond(m.State()) {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	query := w.Query != ""
	for {
		if query {
			query = false
			qctx, cancel := context.WithTimeout(ctx, m.config.atTimeout)
			err := m.SendAndAwait(qctx, w.Query)
			cancel()
			if err != nil {
				switch {
				case errors.Is(err, ErrProtocolReset):
					return err
				case ctx.Err() != nil:
					return fmt.Errorf("%w: state %s: %w", ErrTimeout, m.State(), ctx.Err())
				default:
					m.log.Warn("Wait query failed", "query", w.Query, "error", err)
				}
			}
			changed = m.session.watch()
			if cond(m.State()) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: state %s: %w", ErrTimeout, m.State(), ctx.Err())
		case <-changed:
		case <-ticker.C:
			query = w.Query != ""
		}

		changed = m.session.watch()
		if cond(m.State()) {
			return nil
		}
	}
}
