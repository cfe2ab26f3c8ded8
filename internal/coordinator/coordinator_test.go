package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/applockd/applockd/internal/audit"
	"github.com/applockd/applockd/internal/grace"
	"github.com/applockd/applockd/internal/policy"
	"github.com/applockd/applockd/internal/verifier"
	"github.com/applockd/applockd/internal/watcher"
)

// --- fakes ---

type fakeActuator struct {
	mu         sync.Mutex
	suspended  []int
	restored   []int
	terminated []int
	relaunched []string
	dead       map[int]bool
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{dead: make(map[int]bool)}
}

func (f *fakeActuator) Suspend(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead[pid] {
		return errors.New("no such process")
	}
	f.suspended = append(f.suspended, pid)
	return nil
}

func (f *fakeActuator) Restore(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, pid)
	return nil
}

func (f *fakeActuator) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	f.dead[pid] = true
	return nil
}

func (f *fakeActuator) Relaunch(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relaunched = append(f.relaunched, name)
	return nil
}

func (f *fakeActuator) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[pid]
}

func (f *fakeActuator) kill(pid int) {
	f.mu.Lock()
	f.dead[pid] = true
	f.mu.Unlock()
}

func (f *fakeActuator) counts() (sus, res, term int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.suspended), len(f.restored), len(f.terminated)
}

type scriptVerifier struct {
	mu       sync.Mutex
	outcomes []verifier.Outcome
	calls    []verifier.Request
}

func (v *scriptVerifier) Verify(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, req)
	if len(v.outcomes) == 0 {
		return verifier.Success, nil
	}
	out := v.outcomes[0]
	v.outcomes = v.outcomes[1:]
	return out, nil
}

func (v *scriptVerifier) requests() []verifier.Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]verifier.Request(nil), v.calls...)
}

type memSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memSink) Send(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) kinds() []audit.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Kind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

func (s *memSink) has(k audit.Kind) bool {
	for _, got := range s.kinds() {
		if got == k {
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// --- helpers ---

type fixture struct {
	co    *Coordinator
	act   *fakeActuator
	verif *scriptVerifier
	sink  *memSink
	clock *fakeClock
}

func newFixture(t *testing.T, pol policy.Policy, timeout time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		act:   newFakeActuator(),
		verif: &scriptVerifier{},
		sink:  &memSink{},
		clock: &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.co = New(Config{
		Policies:      policy.NewStore(pol),
		Grace:         grace.NewTracker(),
		Actuator:      f.act,
		Verifier:      f.verif,
		VerifyTimeout: timeout,
		Sinks:         []audit.Sink{f.sink},
		Now:           f.clock.Now,
	})
	t.Cleanup(f.co.Close)
	return f
}

func ev(pid int, name string) watcher.Event {
	return watcher.Event{PID: pid, Name: name, Kind: watcher.Launch}
}

func waitIdle(t *testing.T, co *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for len(co.Sessions()) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions did not drain: %+v", co.Sessions())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- tests ---

func TestUnmatchedEventIgnored(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)
	f.co.OnEvent(ev(100, "Terminal"))
	if sus, _, _ := f.act.counts(); sus != 0 {
		t.Fatalf("unmatched event must not suspend")
	}
	if len(f.co.Sessions()) != 0 {
		t.Fatalf("no session expected")
	}
}

func TestSuspendPrecedesVerification(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	var suspendedAtVerify bool
	var mu sync.Mutex
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		sus, _, _ := f.act.counts()
		mu.Lock()
		suspendedAtVerify = sus == 1
		mu.Unlock()
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	mu.Lock()
	defer mu.Unlock()
	if !suspendedAtVerify {
		t.Fatalf("verification started before suspend")
	}
}

func TestSuccessScenario(t *testing.T) {
	// policy {"chat"}, grace 30s: success at t0, helper event at +10s is
	// suppressed, same event at +40s intercepts again.
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	sus, res, term := f.act.counts()
	if sus != 1 || res != 1 || term != 0 {
		t.Fatalf("expected suspend+restore only, got sus=%d res=%d term=%d", sus, res, term)
	}
	reqs := f.verif.requests()
	if len(reqs) != 1 || reqs[0].Prompt != "Chat App" {
		t.Fatalf("unexpected verify requests: %+v", reqs)
	}

	f.clock.advance(10 * time.Second)
	f.co.OnEvent(ev(101, "Chat App Helper"))
	if sus, _, _ := f.act.counts(); sus != 1 {
		t.Fatalf("event inside grace window must not suspend")
	}
	if !f.sink.has(audit.KindGraceHit) {
		t.Fatalf("grace hit not audited")
	}

	f.clock.advance(30 * time.Second) // t0+40s, grace expired
	f.co.OnEvent(ev(101, "Chat App Helper"))
	if sus, _, _ := f.act.counts(); sus != 2 {
		t.Fatalf("event after grace expiry must suspend again")
	}
	waitIdle(t, f.co)
}

func TestGraceRecordedOnlyOnSuccess(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 1), time.Second)
	f.verif.outcomes = []verifier.Outcome{verifier.WrongCredential}

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	if len(f.co.GraceSnapshot()) != 0 {
		t.Fatalf("failed verification must not record grace")
	}
	sus, res, term := f.act.counts()
	if sus != 1 || res != 0 || term != 1 {
		t.Fatalf("fail-closed expected terminate, got sus=%d res=%d term=%d", sus, res, term)
	}
}

func TestWrongCredentialRetries(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)
	f.verif.outcomes = []verifier.Outcome{
		verifier.WrongCredential,
		verifier.WrongCredential,
		verifier.WrongCredential,
	}

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	reqs := f.verif.requests()
	if len(reqs) != 3 {
		t.Fatalf("expected exactly 3 prompts, got %d", len(reqs))
	}
	for i, r := range reqs {
		if r.Attempt != i+1 || r.Remaining != 3-i {
			t.Fatalf("prompt %d carried attempt=%d remaining=%d", i, r.Attempt, r.Remaining)
		}
	}
	_, res, term := f.act.counts()
	if res != 0 || term != 1 {
		t.Fatalf("third wrong credential must terminate exactly once (res=%d term=%d)", res, term)
	}
}

func TestWrongThenCorrect(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)
	f.verif.outcomes = []verifier.Outcome{verifier.WrongCredential, verifier.Success}

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	if len(f.verif.requests()) != 2 {
		t.Fatalf("expected 2 prompts")
	}
	_, res, term := f.act.counts()
	if res != 1 || term != 0 {
		t.Fatalf("second attempt success must restore (res=%d term=%d)", res, term)
	}
}

func TestCancelFailsClosed(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)
	f.verif.outcomes = []verifier.Outcome{verifier.Cancelled}

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	if len(f.verif.requests()) != 1 {
		t.Fatalf("cancel must not re-prompt")
	}
	_, res, term := f.act.counts()
	if res != 0 || term != 1 {
		t.Fatalf("cancel must terminate (res=%d term=%d)", res, term)
	}
}

func TestUnavailableFailsClosed(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)
	f.verif.outcomes = []verifier.Outcome{verifier.Unavailable}

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	_, res, term := f.act.counts()
	if res != 0 || term != 1 {
		t.Fatalf("unavailable backend must fail closed (res=%d term=%d)", res, term)
	}
}

func TestCoordinatorOwnedTimeout(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), 50*time.Millisecond)

	release := make(chan struct{})
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		// a misbehaving verifier that ignores ctx and answers late
		<-release
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	_, res, term := f.act.counts()
	if res != 0 || term != 1 {
		t.Fatalf("timeout must terminate exactly once (res=%d term=%d)", res, term)
	}
	if !f.sink.has(audit.KindTimeout) {
		t.Fatalf("timeout not audited")
	}

	// late success must be discarded without a restore
	close(release)
	deadline := time.Now().Add(time.Second)
	for !f.sink.has(audit.KindStaleResult) {
		if time.Now().After(deadline) {
			t.Fatalf("stale result was not recorded")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, res, _ := f.act.counts(); res != 0 {
		t.Fatalf("late success triggered a restore")
	}
}

func TestSingleFlightPerKey(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	gate := make(chan struct{})
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		<-gate
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	// second instance launches while verification is pending
	f.co.OnEvent(ev(101, "Chat App"))

	if n := len(f.co.Sessions()); n != 1 {
		t.Fatalf("expected a single session, got %d", n)
	}
	f.act.mu.Lock()
	term := append([]int(nil), f.act.terminated...)
	f.act.mu.Unlock()
	if len(term) != 1 || term[0] != 101 {
		t.Fatalf("duplicate launch should be terminated outright, got %v", term)
	}

	close(gate)
	waitIdle(t, f.co)
	if _, res, _ := f.act.counts(); res != 1 {
		t.Fatalf("original pid should still be restored")
	}
}

func TestSamePIDDuplicateDropped(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	gate := make(chan struct{})
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		<-gate
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	f.co.OnEvent(ev(100, "Chat App")) // activation signal for same pid

	sus, _, term := f.act.counts()
	if sus != 1 || term != 0 {
		t.Fatalf("duplicate event for same pid must be dropped (sus=%d term=%d)", sus, term)
	}
	close(gate)
	waitIdle(t, f.co)
}

func TestConcurrentEventsNeverOverlapSessions(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	gate := make(chan struct{})
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		<-gate
		return verifier.Success, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			f.co.OnEvent(ev(pid, "Chat App"))
		}(100 + i)
	}
	wg.Wait()

	if n := len(f.co.Sessions()); n != 1 {
		t.Fatalf("serialization violated: %d sessions for one key", n)
	}
	if sus, _, _ := f.act.counts(); sus != 1 {
		t.Fatalf("only the first launch should be suspended, got %d", sus)
	}
	close(gate)
	waitIdle(t, f.co)
}

func TestDistinctKeysVerifyConcurrently(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat", "mail"}, 30*time.Second, 3), 2*time.Second)

	gate := make(chan struct{})
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		<-gate
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	// chat is verifying; an unrelated key must still be intercepted
	// immediately and OnEvent must not block.
	done := make(chan struct{})
	go func() {
		f.co.OnEvent(ev(200, "Mail App"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("OnEvent blocked on an unrelated key's verification")
	}

	if n := len(f.co.Sessions()); n != 2 {
		t.Fatalf("expected 2 concurrent sessions, got %d", n)
	}
	if sus, _, _ := f.act.counts(); sus != 2 {
		t.Fatalf("both keys should be suspended, got %d", sus)
	}
	close(gate)
	waitIdle(t, f.co)
}

func TestVanishedDuringVerification(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		f.act.kill(100) // target exits while the prompt is up
		return verifier.Cancelled, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	_, res, term := f.act.counts()
	if res != 0 || term != 0 {
		t.Fatalf("vanished target must see no restore/terminate (res=%d term=%d)", res, term)
	}
	if len(f.co.GraceSnapshot()) != 0 {
		t.Fatalf("vanished target must not record grace")
	}
	if !f.sink.has(audit.KindVanished) {
		t.Fatalf("vanish not audited")
	}
}

func TestRelaunchWhenVerifiedTargetDied(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		f.act.kill(100)
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	_, res, term := f.act.counts()
	if res != 0 || term != 0 {
		t.Fatalf("dead target cannot be restored or terminated (res=%d term=%d)", res, term)
	}
	f.act.mu.Lock()
	relaunched := append([]string(nil), f.act.relaunched...)
	f.act.mu.Unlock()
	if len(relaunched) != 1 || relaunched[0] != "Chat App" {
		t.Fatalf("expected a relaunch of the display name, got %v", relaunched)
	}
	// grace covers the relaunched instance so its new pid is not re-prompted
	if len(f.co.GraceSnapshot()) != 1 {
		t.Fatalf("relaunch must record grace")
	}
	f.co.OnEvent(ev(200, "Chat App"))
	if sus, _, _ := f.act.counts(); sus != 1 {
		t.Fatalf("relaunched instance must ride the grace window")
	}
}

func TestPendingDeadRestartsForNewPID(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), 2*time.Second)

	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		doomed := false
		once.Do(func() { doomed = true })
		if doomed {
			close(started)
			<-ctx.Done() // superseded session hangs until cancelled
			return verifier.Unavailable, ctx.Err()
		}
		<-gate
		return verifier.Success, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	<-started       // the first session's prompt is up before the target dies
	f.act.kill(100) // pending target dies without resolution

	f.co.OnEvent(ev(101, "Chat App"))
	deadline := time.Now().Add(time.Second)
	for {
		f.act.mu.Lock()
		n := len(f.act.suspended)
		f.act.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("interception was not restarted for the new pid")
		}
		time.Sleep(2 * time.Millisecond)
	}

	close(gate)
	waitIdle(t, f.co)

	f.act.mu.Lock()
	restored := append([]int(nil), f.act.restored...)
	f.act.mu.Unlock()
	if len(restored) != 1 || restored[0] != 101 {
		t.Fatalf("new pid should be restored, got %v", restored)
	}
}

func TestReloadDoesNotAffectInflightSession(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)

	started := make(chan struct{})
	gate := make(chan struct{})
	f.verif.outcomes = nil
	f.co.verif = verifier.Func(func(ctx context.Context, req verifier.Request) (verifier.Outcome, error) {
		if req.Attempt == 1 {
			close(started)
			<-gate
			return verifier.WrongCredential, nil
		}
		return verifier.WrongCredential, nil
	})

	f.co.OnEvent(ev(100, "Chat App"))
	<-started

	// drop the chat keyword and shrink attempts mid-flight
	f.co.Reload(policy.New([]string{"other"}, time.Minute, 1))
	close(gate)
	waitIdle(t, f.co)

	// the in-flight session keeps max_attempts=3 from its snapshot
	if got := len(f.verif.requests()); got != 0 {
		t.Fatalf("script verifier unexpectedly used")
	}
	_, _, term := f.act.counts()
	if term != 1 {
		t.Fatalf("session should have resolved fail-closed once, term=%d", term)
	}

	// new events for the dropped keyword are no longer intercepted
	f.co.OnEvent(ev(200, "Chat App"))
	if len(f.co.Sessions()) != 0 {
		t.Fatalf("reloaded policy should not match the chat keyword anymore")
	}
	if !f.sink.has(audit.KindReload) {
		t.Fatalf("reload not audited")
	}
}

func TestNeverRestoredWithoutSuccess(t *testing.T) {
	// property: for event sequences where no verification succeeds, the
	// target always ends terminated, never restored.
	outcomes := [][]verifier.Outcome{
		{verifier.Cancelled},
		{verifier.Unavailable},
		{verifier.WrongCredential, verifier.Cancelled},
		{verifier.WrongCredential, verifier.WrongCredential, verifier.WrongCredential},
	}
	for i, script := range outcomes {
		f := newFixture(t, policy.New([]string{"chat"}, 30*time.Second, 3), time.Second)
		f.verif.outcomes = script
		f.co.OnEvent(ev(100+i, "Chat App"))
		waitIdle(t, f.co)
		_, res, term := f.act.counts()
		if res != 0 || term != 1 {
			t.Fatalf("script %d: res=%d term=%d", i, res, term)
		}
	}
}

func TestAttemptResetAcrossSessions(t *testing.T) {
	f := newFixture(t, policy.New([]string{"chat"}, 0, 3), time.Second)
	// grace period positive but we avoid grace by failing the first session
	f.verif.outcomes = []verifier.Outcome{verifier.WrongCredential, verifier.Cancelled}

	f.co.OnEvent(ev(100, "Chat App"))
	waitIdle(t, f.co)

	f.verif.outcomes = []verifier.Outcome{verifier.Success}
	f.co.OnEvent(ev(101, "Chat App"))
	waitIdle(t, f.co)

	reqs := f.verif.requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 rounds total, got %d", len(reqs))
	}
	if reqs[2].Attempt != 1 {
		t.Fatalf("new session must restart attempts at 1, got %d", reqs[2].Attempt)
	}
}
