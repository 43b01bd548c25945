package modem

import (
	"sync"
	"time"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeOK
	outcomeFailed
	outcomeReset
	outcomeCancelled
)

// pendingCommand is the single command outstanding on the wire. Its fields
// other than cmd and done are guarded by the session mutex.
type pendingCommand struct {
	cmd     string
	sent    time.Time
	lines   []string
	final   string
	outcome outcome
	done    chan struct{}
}

// session is the state shared by the Loop and the command issuers.
//
// Every field is guarded by mu, which is only held for the duration of a
// read or write. It is never held across a sleep or transport I/O.
type session struct {
	mu        sync.Mutex
	state     State
	beforePSM State
	identity  Identity
	pending   *pendingCommand
	alarm     bool
	lastAlarm time.Time
	// changed is closed and replaced whenever state or pending changes so
	// that waiters can block without polling.
	changed chan struct{}
}

func newSession() *session {
	return &session{
		state:   StateReset,
		changed: make(chan struct{}),
	}
}

// notifyLocked wakes every watcher. mu must be held.
func (s *session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// watch returns a channel closed on the next state or pending change.
func (s *session) watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition records to as the current state. Any transition is accepted;
// which transitions happen is decided by the callers.
func (s *session) transition(to State) (from State, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *session) transitionLocked(to State) (from State, changed bool) {
	from = s.state
	if from == to {
		return from, false
	}
	s.state = to
	s.notifyLocked()
	return from, true
}

// transitionIf moves to "to" only while the session is in one of from.
func (s *session) transitionIf(to State, from ...State) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !InState(from...)(s.state) {
		return s.state, false
	}
	return s.transitionLocked(to)
}

func (s *session) enterPowerSave() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePowerSave {
		return s.state, false
	}
	s.beforePSM = s.state
	return s.transitionLocked(StatePowerSave)
}

// exitPowerSave restores the state that was current when PSM was entered.
func (s *session) exitPowerSave() (from, to State, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePowerSave {
		return s.state, s.state, false
	}
	to = s.beforePSM
	from, changed = s.transitionLocked(to)
	return from, to, changed
}

// reboot forces StateReset, forgets the identity and releases the pending
// command with outcomeReset.
func (s *session) reboot() (from State, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = Identity{}
	if p := s.pending; p != nil {
		p.outcome = outcomeReset
		close(p.done)
		s.pending = nil
	}
	from = s.state
	s.state = StateReset
	s.notifyLocked()
	return from, from != StateReset
}

func (s *session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *session) updateIdentity(fn func(*Identity)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.identity)
}

// begin registers cmd as the pending command. It fails with
// ErrCommandPending while another command is outstanding, however long ago
// it was sent: only a completion marker or a restart of the modem clears it.
func (s *session) begin(cmd string, now time.Time) (*pendingCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return nil, ErrCommandPending
	}
	p := &pendingCommand{
		cmd:  cmd,
		sent: now,
		done: make(chan struct{}),
	}
	s.pending = p
	s.notifyLocked()
	return p, nil
}

// cancel drops p without an outcome, used when the command never reached
// the wire.
func (s *session) cancel(p *pendingCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != p {
		return
	}
	p.outcome = outcomeCancelled
	close(p.done)
	s.pending = nil
	s.notifyLocked()
}

// complete clears the pending command on a final response line. Without a
// pending command it does nothing, so repeated markers are harmless.
func (s *session) complete(final string, ok bool) *pendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	if p == nil {
		return nil
	}
	p.final = final
	if ok {
		p.outcome = outcomeOK
	} else {
		p.outcome = outcomeFailed
	}
	close(p.done)
	s.pending = nil
	s.notifyLocked()
	return p
}

// appendLine records an intermediate response line for the pending command.
func (s *session) appendLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.lines = append(s.pending.lines, line)
	}
}

// hasPending reports whether a command is outstanding.
func (s *session) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// result reads the outcome of a finished command.
func (s *session) result(p *pendingCommand) (outcome, string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.outcome, p.final, p.lines
}

// triggerAlarm sets the alarm latch unless the previous accepted trigger
// was less than window ago. It reports whether the trigger was accepted.
func (s *session) triggerAlarm(now time.Time, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastAlarm.IsZero() && now.Sub(s.lastAlarm) <= window {
		return false
	}
	s.alarm = true
	s.lastAlarm = now
	return true
}

func (s *session) alarmSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alarm
}

func (s *session) clearAlarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarm = false
}
