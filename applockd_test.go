package applockd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/applockd/applockd/internal/verifier"
	"github.com/applockd/applockd/internal/watcher"
)

type recordingActuator struct {
	mu         sync.Mutex
	suspended  []int
	restored   []int
	terminated []int
}

func (a *recordingActuator) Suspend(pid int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suspended = append(a.suspended, pid)
	return nil
}

func (a *recordingActuator) Restore(pid int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restored = append(a.restored, pid)
	return nil
}

func (a *recordingActuator) Terminate(pid int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.terminated = append(a.terminated, pid)
	return nil
}

func (a *recordingActuator) Relaunch(string) error { return nil }
func (a *recordingActuator) Alive(int) bool        { return true }

func waitDrained(t *testing.T, c *Coordinator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(c.Sessions()) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sessions did not drain")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestNewPolicyNormalizes(t *testing.T) {
	p := NewPolicy([]string{" WhatsApp ", "whatsapp", ""}, 0, 0)
	if len(p.Keywords) != 1 || p.Keywords[0] != "whatsapp" {
		t.Fatalf("keywords: %v", p.Keywords)
	}
	if p.GracePeriod != time.Minute || p.MaxAttempts != 3 {
		t.Fatalf("defaults: %+v", p)
	}
}

func TestEmbeddedCoordinatorRoundTrip(t *testing.T) {
	act := &recordingActuator{}
	c := New(Options{
		Policy:   NewPolicy([]string{"whatsapp"}, 30*time.Second, 3),
		Actuator: act,
		Verifier: verifier.Func(func(context.Context, VerifyRequest) (Outcome, error) {
			return verifier.Success, nil
		}),
	})
	defer c.Close()

	ev, err := watcher.NewEvent(4242, "WhatsApp", watcher.Launch)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	c.OnEvent(ev)
	waitDrained(t, c)

	act.mu.Lock()
	defer act.mu.Unlock()
	if len(act.suspended) != 1 || len(act.restored) != 1 || len(act.terminated) != 0 {
		t.Fatalf("sus=%v res=%v term=%v", act.suspended, act.restored, act.terminated)
	}
}

func TestHashPasswordStable(t *testing.T) {
	if HashPassword("1234") != "03ac674216f3e15c761ee1a5e255f067953623c8b388b4459e13f978d7c846f4" {
		t.Fatalf("unexpected digest for known input")
	}
}

func TestNewAuditSinkSQLite(t *testing.T) {
	sink, err := NewAuditSink(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("NewAuditSink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewHTTPHandlerServesHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := New(Options{
		Policy: NewPolicy(nil, 0, 0),
		Verifier: verifier.Func(func(context.Context, VerifyRequest) (Outcome, error) {
			return verifier.Success, nil
		}),
	})
	defer c.Close()

	h := NewHTTPHandler("/api", "unused.toml", c, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}
