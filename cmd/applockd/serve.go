package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/applockd/applockd/internal/actuator"
	"github.com/applockd/applockd/internal/audit"
	"github.com/applockd/applockd/internal/audit/factory"
	"github.com/applockd/applockd/internal/config"
	"github.com/applockd/applockd/internal/coordinator"
	"github.com/applockd/applockd/internal/grace"
	"github.com/applockd/applockd/internal/metrics"
	"github.com/applockd/applockd/internal/policy"
	"github.com/applockd/applockd/internal/server"
	"github.com/applockd/applockd/internal/verifier"
	"github.com/applockd/applockd/internal/watcher"
)

// runServe wires the daemon together and blocks until SIGINT/SIGTERM.
// SIGHUP re-reads the config file and swaps the policy.
func runServe(flags *ServeFlags, args []string) error {
	path := flags.ConfigPath
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		path = "applockd.toml"
	}

	cfg := config.LoadOrFailSafe(path)

	logCloser, err := cfg.LoggerConfig().Setup()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logCloser.Close() }()

	if err := metrics.RegisterDefault(); err != nil {
		slog.Warn("metrics registration failed", "err", err)
	}
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() { _ = metricsSrv.ListenAndServe() }()
		slog.Info("metrics listener started", "addr", cfg.Metrics.Listen)
	}

	var sinks []audit.Sink
	var reader audit.Reader
	if cfg.Audit.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("audit sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		sinks = append(sinks, sink)
		if r, ok := sink.(audit.Reader); ok {
			reader = r
		}
	}

	verif, err := buildVerifier(cfg)
	if err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		Policies:      policy.NewStore(cfg.PolicySnapshot()),
		Grace:         grace.NewTracker(),
		Actuator:      actuator.NewSignalActuator(),
		Verifier:      verif,
		VerifyTimeout: cfg.Verifier.VerifyTimeout,
		Sinks:         sinks,
	})
	defer coord.Close()

	src := watcher.NewPollSource(cfg.Watcher.Interval)
	src.Subscribe(coord.OnEvent)
	if err := src.Start(); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer src.Stop()

	router := server.NewRouter(coord, path, reader, cfg.Server.BasePath)
	apiSrv := server.NewServer(cfg.Server.Listen, router)

	pol := coord.Policy()
	slog.Info("applockd started",
		"config", path,
		"keywords", len(pol.Keywords),
		"grace", pol.GracePeriod,
		"max_attempts", pol.MaxAttempts,
		"listen", cfg.Server.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			next, err := config.Load(path)
			if err != nil {
				slog.Error("reload failed, keeping current policy", "err", err)
				continue
			}
			coord.Reload(next.PolicySnapshot())
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		_ = apiSrv.Close()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// buildVerifier maps the config's verifier section to an implementation.
func buildVerifier(cfg config.Config) (verifier.Verifier, error) {
	switch cfg.Verifier.Type {
	case "command":
		return verifier.NewCommandVerifier(cfg.Verifier.Command[0], cfg.Verifier.Command[1:]...)
	case "password":
		if cfg.Verifier.PasswordHash == "" {
			if len(cfg.Policy.Keywords) == 0 {
				// fail-safe config: nothing is protected, so no prompt can
				// fire; stay up and deny any verification that does happen
				slog.Warn("no password_hash configured; verification unavailable until 'applockd passwd' runs")
				return verifier.Func(func(context.Context, verifier.Request) (verifier.Outcome, error) {
					return verifier.Unavailable, nil
				}), nil
			}
			return nil, fmt.Errorf("verifier type password requires password_hash; run 'applockd passwd' first")
		}
		return verifier.NewPasswordVerifier(cfg.Verifier.PasswordHash, terminalPrompt)
	default:
		return nil, fmt.Errorf("unsupported verifier type %q", cfg.Verifier.Type)
	}
}
