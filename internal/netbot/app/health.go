package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bdobrica/Netbot/common/version"
	"github.com/bdobrica/Netbot/internal/netbot/store"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// HealthServer exposes /health, /status and read-only views of the audit
// log (/audit, /audit/{id}).
// It is optional; the bot runs without it when HTTPAddr is empty.
type HealthServer struct {
	addr      string
	store     statusProvider
	poller    pollStats
	sessions  sessionCounter
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// statusProvider is the minimal interface the health server needs from Store.
type statusProvider interface {
	Ping(ctx context.Context) error
	AuditCount(ctx context.Context) (int64, error)
	GetAuditLog(ctx context.Context, limit int) ([]*store.AuditEntry, error)
	GetAuditByTrace(ctx context.Context, traceID string) ([]*store.AuditEntry, error)
	GetAuditEntry(ctx context.Context, id int64) (*store.AuditEntry, error)
}

type pollStats interface {
	Processed() int64
	Failed() int64
	Tracked() int
}

type sessionCounter interface {
	Len() int
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Error   string `json:"error,omitempty"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status            string    `json:"status"`
	Version           string    `json:"version"`
	Commit            string    `json:"commit"`
	BuildTime         string    `json:"build_time"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSecs        float64   `json:"uptime_seconds"`
	Sessions          int       `json:"sessions"`
	ProcessedCommands int64     `json:"processed_commands"`
	FailedCommands    int64     `json:"failed_commands"`
	AuditEntries      int64     `json:"audit_entries"`
	TrackedMessages   int       `json:"tracked_messages"`
}

// auditEntryResponse is one audit row as served by /audit.
type auditEntryResponse struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"ts"`
	TraceID   string          `json:"trace_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Target    string          `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    string          `json:"result"`
	Error     string          `json:"error,omitempty"`
}

func toAuditResponse(e *store.AuditEntry) auditEntryResponse {
	out := auditEntryResponse{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		TraceID:   e.TraceID,
		Actor:     e.Actor,
		Action:    e.Action,
		Target:    e.Target.String,
		Result:    e.Result,
		Error:     e.ErrorMessage.String,
	}
	if e.PayloadJSON.Valid && json.Valid([]byte(e.PayloadJSON.String)) {
		out.Payload = json.RawMessage(e.PayloadJSON.String)
	}
	return out
}

// NewHealthServer creates and configures the HTTP server (does not start it).
// Any of the providers may be nil.
func NewHealthServer(addr string, sp statusProvider, ps pollStats, sc sessionCounter) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		store:     sp,
		poller:    ps,
		sessions:  sc,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	mux.HandleFunc("GET /audit", hs.handleAuditList)
	mux.HandleFunc("GET /audit/{id}", hs.handleAuditEntry)
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Serve listens on the configured address and blocks until ctx is cancelled,
// then shuts the server down.
func (h *HealthServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}
	return h.serve(ctx, ln)
}

func (h *HealthServer) serve(ctx context.Context, ln net.Listener) error {
	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		errCh <- h.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
	<-errCh
	return nil
}

// handleHealth responds with ok, or 503 when the database is unreachable.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}
	code := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Error = "database unavailable"
			code = http.StatusServiceUnavailable
			slog.Warn("health: database ping failed", "err", err)
		}
	}
	writeJSON(w, code, resp)
}

// handleStatus responds with runtime statistics.
func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	if h.store != nil {
		if n, err := h.store.AuditCount(r.Context()); err == nil {
			resp.AuditEntries = n
		}
	}
	if h.poller != nil {
		resp.ProcessedCommands = h.poller.Processed()
		resp.FailedCommands = h.poller.Failed()
		resp.TrackedMessages = h.poller.Tracked()
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuditList serves the most recent entries (?limit=N), or every entry
// of one command when ?trace= is given.
func (h *HealthServer) handleAuditList(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}

	var (
		entries []*store.AuditEntry
		err     error
	)
	if traceID := r.URL.Query().Get("trace"); traceID != "" {
		entries, err = h.store.GetAuditByTrace(r.Context(), traceID)
	} else {
		limit := defaultAuditLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, convErr := strconv.Atoi(v)
			if convErr != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = min(n, maxAuditLimit)
		}
		entries, err = h.store.GetAuditLog(r.Context(), limit)
	}
	if err != nil {
		slog.Warn("health: audit query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}

	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toAuditResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAuditEntry serves one entry by id.
func (h *HealthServer) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid audit entry id")
		return
	}
	entry, err := h.store.GetAuditEntry(r.Context(), id)
	switch {
	case store.IsNotFound(err):
		writeError(w, http.StatusNotFound, "audit entry not found")
		return
	case err != nil:
		slog.Warn("health: audit query failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, toAuditResponse(entry))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
