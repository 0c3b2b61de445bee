package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/bdobrica/Netbot/common/version"
	"github.com/bdobrica/Netbot/internal/netbot/app"
	"github.com/bdobrica/Netbot/internal/netbot/store"
)

type fakeStatus struct {
	pingErr error
	audit   int64
}

func (f fakeStatus) Ping(context.Context) error                { return f.pingErr }
func (f fakeStatus) AuditCount(context.Context) (int64, error) { return f.audit, nil }

func (f fakeStatus) GetAuditLog(context.Context, int) ([]*store.AuditEntry, error) {
	return nil, nil
}

func (f fakeStatus) GetAuditByTrace(context.Context, string) ([]*store.AuditEntry, error) {
	return nil, nil
}

func (f fakeStatus) GetAuditEntry(context.Context, int64) (*store.AuditEntry, error) {
	return nil, store.ErrNotFound
}

type fakeStats struct {
	processed, failed int64
	tracked           int
}

func (f fakeStats) Processed() int64 { return f.processed }
func (f fakeStats) Failed() int64    { return f.failed }
func (f fakeStats) Tracked() int     { return f.tracked }

type fakeSessions int

func (f fakeSessions) Len() int { return int(f) }

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec, body
}

func TestHealth_OK(t *testing.T) {
	hs := app.NewHealthServer(":0", fakeStatus{}, nil, nil)
	rec, body := get(t, hs, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" || body["version"] != version.Version {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	hs := app.NewHealthServer(":0", fakeStatus{pingErr: errors.New("database is closed")}, nil, nil)
	rec, body := get(t, hs, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "degraded" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	hs := app.NewHealthServer(":0", fakeStatus{audit: 12}, fakeStats{processed: 7, failed: 1, tracked: 30}, fakeSessions(2))
	rec, body := get(t, hs, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	// JSON numbers decode as float64.
	checks := map[string]float64{
		"sessions":           2,
		"processed_commands": 7,
		"failed_commands":    1,
		"audit_entries":      12,
		"tracked_messages":   30,
	}
	for key, want := range checks {
		if got, _ := body[key].(float64); got != want {
			t.Errorf("%s = %v, want %v", key, body[key], want)
		}
	}
	if _, ok := body["uptime_seconds"]; !ok {
		t.Error("uptime_seconds missing")
	}
}

func TestStatus_NoProviders(t *testing.T) {
	hs := app.NewHealthServer(":0", nil, nil, nil)
	rec, body := get(t, hs, "/status")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	hs := app.NewHealthServer(":0", nil, nil, nil)
	rec := httptest.NewRecorder()
	hs.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func newAuditStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	rows := []struct{ trace, action, result string }{
		{"t_a", "select_transport", "transport_selected"},
		{"t_b", "create", "created"},
		{"t_b", "status", "status_up"},
	}
	for _, r := range rows {
		if err := st.WriteAudit(ctx, r.trace, owner, r.action, "10.0.15.61", r.result,
			store.AuditPayload{"transport": "restconf"}, ""); err != nil {
			t.Fatalf("WriteAudit: %v", err)
		}
	}
	return st
}

func getList(t *testing.T, h http.Handler, path string) (int, []map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		return rec.Code, nil
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec.Code, out
}

func TestAudit_Recent(t *testing.T) {
	hs := app.NewHealthServer(":0", newAuditStore(t), nil, nil)

	code, entries := getList(t, hs, "/audit")
	if code != http.StatusOK || len(entries) != 3 {
		t.Fatalf("code = %d entries = %v", code, entries)
	}
	if entries[0]["action"] != "status" {
		t.Errorf("newest entry = %v", entries[0])
	}
	payload, _ := entries[0]["payload"].(map[string]any)
	if payload["transport"] != "restconf" {
		t.Errorf("payload = %v", entries[0]["payload"])
	}

	code, entries = getList(t, hs, "/audit?limit=1")
	if code != http.StatusOK || len(entries) != 1 {
		t.Errorf("limit=1: code = %d entries = %d", code, len(entries))
	}

	if code, _ = getList(t, hs, "/audit?limit=zero"); code != http.StatusBadRequest {
		t.Errorf("bad limit: code = %d", code)
	}
}

func TestAudit_ByTrace(t *testing.T) {
	hs := app.NewHealthServer(":0", newAuditStore(t), nil, nil)

	code, entries := getList(t, hs, "/audit?trace=t_b")
	if code != http.StatusOK || len(entries) != 2 {
		t.Fatalf("code = %d entries = %v", code, entries)
	}
	if entries[0]["action"] != "create" || entries[1]["action"] != "status" {
		t.Errorf("trace entries out of order: %v", entries)
	}

	code, entries = getList(t, hs, "/audit?trace=t_missing")
	if code != http.StatusOK || len(entries) != 0 {
		t.Errorf("unknown trace: code = %d entries = %v", code, entries)
	}
}

func TestAudit_Entry(t *testing.T) {
	hs := app.NewHealthServer(":0", newAuditStore(t), nil, nil)

	rec, body := get(t, hs, "/audit/2")
	if rec.Code != http.StatusOK || body["action"] != "create" || body["trace_id"] != "t_b" {
		t.Errorf("code = %d body = %v", rec.Code, body)
	}

	rec, _ = get(t, hs, "/audit/99")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing entry: code = %d", rec.Code)
	}

	rec, _ = get(t, hs, "/audit/abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: code = %d", rec.Code)
	}
}

func TestAudit_NoStore(t *testing.T) {
	hs := app.NewHealthServer(":0", nil, nil, nil)
	rec, _ := get(t, hs, "/audit")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d", rec.Code)
	}
}
