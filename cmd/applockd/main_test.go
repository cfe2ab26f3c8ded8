package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/applockd/applockd/pkg/client"
)

func TestBuildRootSubcommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"serve": false, "status": false, "reload": false, "policy": false, "audit": false, "passwd": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func newFakeDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Status{Policy: client.Policy{Keywords: []string{"whatsapp"}}})
	})
	mux.HandleFunc("GET /api/policy", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(client.Policy{Keywords: []string{"whatsapp"}})
	})
	mux.HandleFunc("POST /api/reload", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusCommandAgainstDaemon(t *testing.T) {
	srv := newFakeDaemon(t)
	root := buildRoot()
	root.SetArgs([]string{"status", "--api-url", srv.URL + "/api"})
	if err := root.Execute(); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestReloadCommandAgainstDaemon(t *testing.T) {
	srv := newFakeDaemon(t)
	root := buildRoot()
	root.SetArgs([]string{"reload", "--api-url", srv.URL + "/api"})
	if err := root.Execute(); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestStatusUnreachableDaemon(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"status", "--api-url", "http://127.0.0.1:1/api", "--api-timeout", "200ms"})
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error for unreachable daemon")
	}
}

func TestPolicyAddRequiresKeywordFlag(t *testing.T) {
	root := buildRoot()
	root.SetArgs([]string{"policy", "add"})
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error when --keyword is missing")
	}
}
