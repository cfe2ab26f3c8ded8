package applockd

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/applockd/applockd/internal/actuator"
	"github.com/applockd/applockd/internal/audit"
	"github.com/applockd/applockd/internal/audit/factory"
	cfg "github.com/applockd/applockd/internal/config"
	"github.com/applockd/applockd/internal/coordinator"
	"github.com/applockd/applockd/internal/grace"
	"github.com/applockd/applockd/internal/metrics"
	"github.com/applockd/applockd/internal/policy"
	iapi "github.com/applockd/applockd/internal/server"
	"github.com/applockd/applockd/internal/verifier"
	"github.com/applockd/applockd/internal/watcher"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Policy = policy.Policy

type Event = watcher.Event

type SessionStatus = coordinator.SessionStatus

type Actuator = actuator.Actuator

type Verifier = verifier.Verifier

type VerifyRequest = verifier.Request

type Outcome = verifier.Outcome

type AuditEvent = audit.Event

type AuditSink = audit.Sink

// Coordinator is a thin facade over internal/coordinator.Coordinator.
// It provides a stable public API for embedding the lock engine.
type Coordinator struct{ inner *coordinator.Coordinator }

// Options configures an embedded Coordinator. Zero values fall back to the
// platform defaults: signal-based process control and a 60s session timeout.
type Options struct {
	Policy        Policy
	Actuator      Actuator
	Verifier      Verifier
	VerifyTimeout time.Duration
	Sinks         []AuditSink
}

// New builds a Coordinator. Verifier is required; everything else defaults.
func New(opts Options) *Coordinator {
	act := opts.Actuator
	if act == nil {
		act = actuator.NewSignalActuator()
	}
	return &Coordinator{inner: coordinator.New(coordinator.Config{
		Policies:      policy.NewStore(opts.Policy),
		Grace:         grace.NewTracker(),
		Actuator:      act,
		Verifier:      opts.Verifier,
		VerifyTimeout: opts.VerifyTimeout,
		Sinks:         opts.Sinks,
	})}
}

// NewPolicy normalizes keywords and fills defaults for grace and attempts.
func NewPolicy(keywords []string, gracePeriod time.Duration, maxAttempts int) Policy {
	return policy.New(keywords, gracePeriod, maxAttempts)
}

func (c *Coordinator) OnEvent(ev Event)                    { c.inner.OnEvent(ev) }
func (c *Coordinator) Reload(p Policy)                     { c.inner.Reload(p) }
func (c *Coordinator) Policy() Policy                      { return c.inner.Policy() }
func (c *Coordinator) Sessions() []SessionStatus           { return c.inner.Sessions() }
func (c *Coordinator) GraceSnapshot() map[string]time.Time { return c.inner.GraceSnapshot() }
func (c *Coordinator) Close()                              { c.inner.Close() }

// Watcher facade

type Watcher struct{ inner *watcher.PollSource }

// NewWatcher polls the process table on the given interval (<=0 uses the
// 300ms default) and delivers launch events to subscribers.
func NewWatcher(interval time.Duration) *Watcher {
	return &Watcher{inner: watcher.NewPollSource(interval)}
}

func (w *Watcher) Subscribe(fn func(Event)) { w.inner.Subscribe(fn) }
func (w *Watcher) Start() error             { return w.inner.Start() }
func (w *Watcher) Stop()                    { w.inner.Stop() }

// NewPasswordVerifier verifies a SHA-256 password hash; the prompt dialog
// stays external via the prompt callback.
func NewPasswordVerifier(hash string, prompt verifier.PromptFunc) (Verifier, error) {
	return verifier.NewPasswordVerifier(hash, prompt)
}

// NewCommandVerifier delegates each verification round to an external dialog
// command (exit 0 success, 1 wrong credential, 2 cancelled).
func NewCommandVerifier(command string, args ...string) (Verifier, error) {
	return verifier.NewCommandVerifier(command, args...)
}

// HashPassword returns the lowercase hex SHA-256 digest of secret.
func HashPassword(secret string) string { return verifier.HashPassword(secret) }

// NewAuditSink builds an audit sink from a DSN: sqlite://, postgres://,
// clickhouse://, or a bare path for sqlite.
func NewAuditSink(dsn string) (AuditSink, error) { return factory.NewSinkFromDSN(dsn) }

func LoadConfig(path string) (cfg.Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts the control API on addr for the given coordinator.
// configPath backs the reload and policy mutation endpoints; reader may be nil.
func NewHTTPServer(addr, basePath, configPath string, c *Coordinator, reader audit.Reader) *http.Server {
	return iapi.NewServer(addr, iapi.NewRouter(c.inner, configPath, reader, basePath))
}

// NewHTTPHandler returns the control API as a mountable http.Handler.
func NewHTTPHandler(basePath, configPath string, c *Coordinator, reader audit.Reader) http.Handler {
	return iapi.NewRouter(c.inner, configPath, reader, basePath).Handler()
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
