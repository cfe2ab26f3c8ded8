// Package coordinator implements the lock state machine: it decides, per
// observed process event, whether to intercept, suspends the target before
// any prompt is shown, serializes verification per app key, and restores or
// terminates the target when verification resolves.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/applockd/applockd/internal/actuator"
	"github.com/applockd/applockd/internal/audit"
	"github.com/applockd/applockd/internal/grace"
	"github.com/applockd/applockd/internal/metrics"
	"github.com/applockd/applockd/internal/policy"
	"github.com/applockd/applockd/internal/verifier"
	"github.com/applockd/applockd/internal/watcher"
)

// DefaultVerifyTimeout bounds how long a verification session may stay in
// the verifying state, even if the verifier never calls back.
const DefaultVerifyTimeout = 60 * time.Second

// State is the per-key lifecycle position.
type State string

const (
	StateIdle         State = "idle"
	StateSuspended    State = "suspended"
	StateVerifying    State = "verifying"
	StateResolvedOK   State = "resolved_ok"
	StateResolvedFail State = "resolved_fail"
)

// Config wires the coordinator's collaborators.
type Config struct {
	Policies *policy.Store
	Grace    *grace.Tracker
	Actuator actuator.Actuator
	Verifier verifier.Verifier
	// VerifyTimeout bounds a whole session, not one attempt. Defaults to
	// DefaultVerifyTimeout.
	VerifyTimeout time.Duration
	// Sinks receive audit events; failures are logged and ignored.
	Sinks []audit.Sink
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// session is one in-flight verification. At most one exists per app key.
type session struct {
	key         string
	pid         int
	displayName string
	startedAt   time.Time
	attempt     int
	state       State
	policy      policy.Policy
	cancel      context.CancelFunc
	superseded  bool
}

// SessionStatus is an externally consumable snapshot of one session.
type SessionStatus struct {
	AppKey      string    `json:"app_key"`
	PID         int       `json:"pid"`
	DisplayName string    `json:"display_name"`
	State       State     `json:"state"`
	StartedAt   time.Time `json:"started_at"`
	Attempt     int       `json:"attempt"`
}

// Coordinator consumes process events and drives at most one verification
// per protected app key. Construct with New; the zero value is not usable.
type Coordinator struct {
	policies *policy.Store
	grace    *grace.Tracker
	act      actuator.Actuator
	verif    verifier.Verifier
	timeout  time.Duration
	sinks    []audit.Sink
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
	closed   bool
}

func New(cfg Config) *Coordinator {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Grace == nil {
		cfg.Grace = grace.NewTracker()
	}
	return &Coordinator{
		policies: cfg.Policies,
		grace:    cfg.Grace,
		act:      cfg.Actuator,
		verif:    cfg.Verifier,
		timeout:  cfg.VerifyTimeout,
		sinks:    cfg.Sinks,
		now:      cfg.Now,
		sessions: make(map[string]*session),
	}
}

// OnEvent is the notification entry point. It never blocks on verification:
// interception suspends the target synchronously, then the session runs in
// its own goroutine. Safe for concurrent use.
func (c *Coordinator) OnEvent(ev watcher.Event) {
	pol := c.policies.Snapshot()
	key, ok := pol.Match(ev.Name)
	if !ok {
		return
	}
	now := c.now()
	if c.grace.InGrace(key, now, pol.GracePeriod) {
		metrics.IncGraceHit(key)
		c.audit(audit.Event{OccurredAt: now, Kind: audit.KindGraceHit, AppKey: key, PID: ev.PID, DisplayName: ev.Name})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if cur, busy := c.sessions[key]; busy {
		c.handleBusyLocked(cur, key, ev, pol, now)
		return
	}
	s := c.beginSessionLocked(key, ev, pol, now)
	c.mu.Unlock()

	c.intercept(s)
}

// handleBusyLocked applies the serialization rule when an event arrives for
// a key that already has a session. Called with c.mu held; releases it
// before returning.
func (c *Coordinator) handleBusyLocked(cur *session, key string, ev watcher.Event, pol policy.Policy, now time.Time) {
	if cur.pid == ev.PID {
		// duplicate signal for the process we are already handling
		c.mu.Unlock()
		return
	}
	if c.act.Alive(cur.pid) {
		// A second instance launched while verification is pending: remove
		// it rather than queueing a second prompt.
		c.mu.Unlock()
		if err := c.act.Terminate(ev.PID); err != nil {
			slog.Warn("terminate duplicate launch failed", "app", key, "pid", ev.PID, "err", err)
		}
		c.audit(audit.Event{OccurredAt: now, Kind: audit.KindDenied, AppKey: key, PID: ev.PID, DisplayName: ev.Name, Detail: "second launch during pending verification"})
		return
	}
	// The pending process died without resolution; restart interception for
	// the new pid. The old session is superseded: its eventual result is
	// discarded and it must not tear down the replacement.
	cur.superseded = true
	if cur.cancel != nil {
		cur.cancel()
	}
	s := c.beginSessionLocked(key, ev, pol, now)
	c.mu.Unlock()

	c.intercept(s)
}

// beginSessionLocked registers a new session for key. Caller holds c.mu.
func (c *Coordinator) beginSessionLocked(key string, ev watcher.Event, pol policy.Policy, now time.Time) *session {
	s := &session{
		key:         key,
		pid:         ev.PID,
		displayName: ev.Name,
		startedAt:   now,
		attempt:     1,
		state:       StateIdle,
		policy:      pol,
	}
	c.sessions[key] = s
	c.wg.Add(1)
	metrics.AddActiveSessions(1)
	return s
}

// intercept performs the synchronous suspend (neutralize first, authenticate
// second) and launches the verification goroutine.
func (c *Coordinator) intercept(s *session) {
	if err := c.act.Suspend(s.pid); err != nil {
		slog.Warn("suspend failed", "app", s.key, "pid", s.pid, "err", err)
		if !c.act.Alive(s.pid) {
			c.finishVanished(s)
			return
		}
	}
	c.transition(s, StateSuspended)
	metrics.IncInterception(s.key)
	c.audit(audit.Event{OccurredAt: s.startedAt, Kind: audit.KindIntercepted, AppKey: s.key, PID: s.pid, DisplayName: s.displayName, Attempt: 1})

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.mu.Lock()
	s.cancel = cancel
	closed := c.closed
	c.mu.Unlock()
	if closed {
		cancel()
	}

	go c.runSession(ctx, s)
}

// result is the internal resolution of a session.
type result struct {
	outcome string // metrics/audit label
	kind    audit.Kind
	restore bool
	detail  string
}

func (c *Coordinator) runSession(ctx context.Context, s *session) {
	defer func() {
		c.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		c.mu.Unlock()
	}()
	c.transition(s, StateVerifying)
	res := c.verifyLoop(ctx, s)
	c.resolve(s, res)
}

// verifyLoop drives rounds against the verifier until the session resolves.
// Only a wrong credential consumes an attempt and re-prompts; everything
// else ends the session (fail-closed).
func (c *Coordinator) verifyLoop(ctx context.Context, s *session) result {
	maxAttempts := s.policy.MaxAttempts
	for attempt := 1; ; attempt++ {
		c.setAttempt(s, attempt)
		req := verifier.Request{
			Prompt:    s.displayName,
			Attempt:   attempt,
			Remaining: maxAttempts - attempt + 1,
		}
		out, err, timedOut := c.verifyOnce(ctx, s, req)
		if timedOut {
			if c.isSuperseded(s) {
				return result{outcome: "superseded", kind: audit.KindVanished, detail: "superseded by relaunch"}
			}
			return result{outcome: "timeout", kind: audit.KindTimeout, detail: "verification deadline expired"}
		}
		switch out {
		case verifier.Success:
			return result{outcome: "success", kind: audit.KindVerified, restore: true}
		case verifier.WrongCredential:
			if attempt >= maxAttempts {
				return result{outcome: "denied", kind: audit.KindDenied, detail: "max attempts exhausted"}
			}
			// re-prompt with one fewer remaining
		case verifier.Cancelled:
			return result{outcome: "cancelled", kind: audit.KindDenied, detail: "prompt dismissed"}
		default:
			detail := "verifier unavailable"
			if err != nil {
				detail = err.Error()
			}
			return result{outcome: "unavailable", kind: audit.KindDenied, detail: detail}
		}
	}
}

// answer carries one verifier round's result between goroutines.
type answer struct {
	out verifier.Outcome
	err error
}

// verifyOnce runs one verifier round, bounded by ctx. The deadline is
// enforced here, not in the verifier: a verifier that never calls back still
// cannot extend the session. A result arriving after the deadline is
// recorded as stale and discarded.
func (c *Coordinator) verifyOnce(ctx context.Context, s *session, req verifier.Request) (verifier.Outcome, error, bool) {
	ch := make(chan answer, 1)
	go func() {
		out, err := c.verif.Verify(ctx, req)
		ch <- answer{out, err}
	}()
	select {
	case a := <-ch:
		if ctx.Err() != nil {
			return a.out, a.err, true
		}
		return a.out, a.err, false
	case <-ctx.Done():
		go c.drainStale(s, ch)
		return verifier.Unavailable, ctx.Err(), true
	}
}

// drainStale consumes a verifier answer that arrives after its session
// already resolved, so it can never trigger a restore.
func (c *Coordinator) drainStale(s *session, ch <-chan answer) {
	a := <-ch
	c.audit(audit.Event{
		OccurredAt:  c.now(),
		Kind:        audit.KindStaleResult,
		AppKey:      s.key,
		PID:         s.pid,
		DisplayName: s.displayName,
		Detail:      "late verifier result discarded: " + a.out.String(),
	})
	slog.Debug("discarded stale verifier result", "app", s.key, "pid", s.pid, "outcome", a.out)
}

func (c *Coordinator) resolve(s *session, res result) {
	defer func() {
		c.mu.Lock()
		if c.sessions[s.key] == s {
			delete(c.sessions, s.key)
		}
		c.mu.Unlock()
		metrics.AddActiveSessions(-1)
		c.wg.Done()
	}()

	now := c.now()
	if c.isSuperseded(s) {
		// replacement session owns the key now; nothing left to act on
		c.transition(s, StateIdle)
		metrics.IncVerification(s.key, "superseded")
		return
	}
	if !c.act.Alive(s.pid) {
		if res.restore {
			// Verified, but the suspended target died in the meantime (or the
			// platform could only terminate, not suspend). Start a fresh
			// instance; grace covers it so the new PID is not re-prompted.
			c.transition(s, StateResolvedOK)
			if err := c.act.Relaunch(s.displayName); err != nil {
				slog.Warn("relaunch failed", "app", s.key, "name", s.displayName, "err", err)
			}
			c.grace.Record(s.key, now)
			metrics.IncVerification(s.key, res.outcome)
			c.audit(audit.Event{OccurredAt: now, Kind: res.kind, AppKey: s.key, PID: s.pid, DisplayName: s.displayName, Attempt: c.attemptOf(s), Detail: "target relaunched after verification"})
			c.transition(s, StateIdle)
			slog.Info("verification succeeded, target relaunched", "app", s.key, "name", s.displayName)
			return
		}
		c.finishVanishedResolved(s, now)
		return
	}

	if res.restore {
		c.transition(s, StateResolvedOK)
		if err := c.act.Restore(s.pid); err != nil {
			slog.Warn("restore failed", "app", s.key, "pid", s.pid, "err", err)
		}
		// grace strictly follows a completed restore
		c.grace.Record(s.key, now)
		metrics.IncVerification(s.key, res.outcome)
		c.audit(audit.Event{OccurredAt: now, Kind: res.kind, AppKey: s.key, PID: s.pid, DisplayName: s.displayName, Attempt: c.attemptOf(s)})
		c.transition(s, StateIdle)
		slog.Info("verification succeeded", "app", s.key, "pid", s.pid)
		return
	}

	c.transition(s, StateResolvedFail)
	if err := c.act.Terminate(s.pid); err != nil {
		slog.Warn("terminate failed", "app", s.key, "pid", s.pid, "err", err)
	}
	metrics.IncVerification(s.key, res.outcome)
	c.audit(audit.Event{OccurredAt: now, Kind: res.kind, AppKey: s.key, PID: s.pid, DisplayName: s.displayName, Attempt: c.attemptOf(s), Detail: res.detail})
	c.transition(s, StateIdle)
	slog.Info("verification failed, target terminated", "app", s.key, "pid", s.pid, "reason", res.outcome)
}

// finishVanished handles a target that disappeared before verification even
// started: tear down without any actuator call.
func (c *Coordinator) finishVanished(s *session) {
	now := c.now()
	c.audit(audit.Event{OccurredAt: now, Kind: audit.KindVanished, AppKey: s.key, PID: s.pid, DisplayName: s.displayName})
	metrics.IncVerification(s.key, "vanished")
	c.transition(s, StateIdle)
	c.mu.Lock()
	if c.sessions[s.key] == s {
		delete(c.sessions, s.key)
	}
	c.mu.Unlock()
	metrics.AddActiveSessions(-1)
	c.wg.Done()
}

func (c *Coordinator) finishVanishedResolved(s *session, now time.Time) {
	c.transition(s, StateIdle)
	metrics.IncVerification(s.key, "vanished")
	c.audit(audit.Event{OccurredAt: now, Kind: audit.KindVanished, AppKey: s.key, PID: s.pid, DisplayName: s.displayName, Detail: "target exited during verification"})
	slog.Info("target vanished during verification", "app", s.key, "pid", s.pid)
}

// Reload swaps the active policy snapshot. In-flight sessions keep the
// snapshot they captured at start.
func (c *Coordinator) Reload(p policy.Policy) {
	c.policies.Reload(p)
	c.audit(audit.Event{OccurredAt: c.now(), Kind: audit.KindReload, Detail: "policy snapshot replaced"})
	slog.Info("policy reloaded", "keywords", len(p.Keywords), "grace", p.GracePeriod, "max_attempts", p.MaxAttempts)
}

// Sessions returns snapshots of all in-flight sessions.
func (c *Coordinator) Sessions() []SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionStatus, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, SessionStatus{
			AppKey:      s.key,
			PID:         s.pid,
			DisplayName: s.displayName,
			State:       s.state,
			StartedAt:   s.startedAt,
			Attempt:     s.attempt,
		})
	}
	return out
}

// GraceSnapshot exposes the tracker's entries for status reporting.
func (c *Coordinator) GraceSnapshot() map[string]time.Time { return c.grace.Snapshot() }

// Policy returns the active policy snapshot.
func (c *Coordinator) Policy() policy.Policy { return c.policies.Snapshot() }

// Close cancels all in-flight sessions and waits for them to resolve. The
// coordinator accepts no events afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for _, s := range c.sessions {
		if s.cancel != nil {
			s.cancel()
		}
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// --- small guarded accessors ---

func (c *Coordinator) transition(s *session, to State) {
	c.mu.Lock()
	from := s.state
	s.state = to
	c.mu.Unlock()
	if from != to {
		metrics.RecordStateTransition(s.key, string(from), string(to))
	}
}

func (c *Coordinator) setAttempt(s *session, n int) {
	c.mu.Lock()
	s.attempt = n
	c.mu.Unlock()
}

func (c *Coordinator) attemptOf(s *session) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.attempt
}

func (c *Coordinator) isSuperseded(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.superseded
}

func (c *Coordinator) audit(e audit.Event) {
	for _, sink := range c.sinks {
		if err := sink.Send(context.Background(), e); err != nil {
			slog.Debug("audit sink write failed", "kind", e.Kind, "err", err)
		}
	}
}
