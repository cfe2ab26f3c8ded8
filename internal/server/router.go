// Package server exposes the daemon's control API over HTTP.
package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/applockd/applockd/internal/audit"
	"github.com/applockd/applockd/internal/config"
	"github.com/applockd/applockd/internal/coordinator"
)

// Router provides embeddable HTTP handlers for controlling the lock daemon.
// Endpoints:
//
//	GET  {basePath}/status         coordinator snapshot: policy, sessions, grace
//	POST {basePath}/reload         re-read the config file, swap the policy
//	GET  {basePath}/policy         active policy snapshot
//	POST {basePath}/policy/add     body: {"keyword": "..."}
//	POST {basePath}/policy/remove  body: {"keyword": "..."}
//	GET  {basePath}/audit          query: limit=N (requires a readable sink)
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	coord      *coordinator.Coordinator
	configPath string
	reader     audit.Reader // nil when the sink is write-only or absent
	basePath   string
}

// NewRouter constructs a Router with configurable basePath. reader may be nil.
func NewRouter(coord *coordinator.Coordinator, configPath string, reader audit.Reader, basePath string) *Router {
	return &Router{coord: coord, configPath: configPath, reader: reader, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/reload", r.handleReload)
	group.GET("/policy", r.handlePolicy)
	group.POST("/policy/add", r.handlePolicyAdd)
	group.POST("/policy/remove", r.handlePolicyRemove)
	group.GET("/audit", r.handleAudit)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// PolicyResp is the wire form of the active policy.
type PolicyResp struct {
	Keywords    []string `json:"keywords"`
	GracePeriod string   `json:"grace_period"`
	MaxAttempts int      `json:"max_attempts"`
}

// StatusResp is the wire form of GET /status.
type StatusResp struct {
	Policy   PolicyResp                  `json:"policy"`
	Sessions []coordinator.SessionStatus `json:"sessions"`
	Grace    map[string]time.Time        `json:"grace"`
}

type keywordReq struct {
	Keyword string `json:"keyword"`
}

func (r *Router) policyResp() PolicyResp {
	p := r.coord.Policy()
	kws := p.Keywords
	if kws == nil {
		kws = []string{}
	}
	return PolicyResp{Keywords: kws, GracePeriod: p.GracePeriod.String(), MaxAttempts: p.MaxAttempts}
}

func (r *Router) handleStatus(c *gin.Context) {
	sessions := r.coord.Sessions()
	if sessions == nil {
		sessions = []coordinator.SessionStatus{}
	}
	writeJSON(c, http.StatusOK, StatusResp{
		Policy:   r.policyResp(),
		Sessions: sessions,
		Grace:    r.coord.GraceSnapshot(),
	})
}

func (r *Router) handleReload(c *gin.Context) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	r.coord.Reload(cfg.PolicySnapshot())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePolicy(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.policyResp())
}

func (r *Router) handlePolicyAdd(c *gin.Context) {
	kw, ok := r.bindKeyword(c)
	if !ok {
		return
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	for _, existing := range cfg.Policy.Keywords {
		if strings.EqualFold(strings.TrimSpace(existing), kw) {
			writeJSON(c, http.StatusConflict, errorResp{Error: "keyword already protected: " + kw})
			return
		}
	}
	cfg.Policy.Keywords = append(cfg.Policy.Keywords, kw)
	if err := cfg.Save(r.configPath); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.coord.Reload(cfg.PolicySnapshot())
	writeJSON(c, http.StatusOK, r.policyResp())
}

func (r *Router) handlePolicyRemove(c *gin.Context) {
	kw, ok := r.bindKeyword(c)
	if !ok {
		return
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	kept := cfg.Policy.Keywords[:0]
	removed := false
	for _, existing := range cfg.Policy.Keywords {
		if strings.EqualFold(strings.TrimSpace(existing), kw) {
			removed = true
			continue
		}
		kept = append(kept, existing)
	}
	if !removed {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "keyword not protected: " + kw})
		return
	}
	cfg.Policy.Keywords = kept
	if err := cfg.Save(r.configPath); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.coord.Reload(cfg.PolicySnapshot())
	writeJSON(c, http.StatusOK, r.policyResp())
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.reader == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "audit sink does not support reads"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.reader.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) bindKeyword(c *gin.Context) (string, bool) {
	var req keywordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return "", false
	}
	kw := strings.ToLower(strings.TrimSpace(req.Keyword))
	if kw == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "keyword required"})
		return "", false
	}
	return kw, true
}
