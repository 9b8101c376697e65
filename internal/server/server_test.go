package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BakeLens/shellgate/internal/rules"
	"github.com/BakeLens/shellgate/internal/telemetry"
)

func testOptions(t *testing.T, withStorage bool) Options {
	t.Helper()
	engine, err := rules.NewTestEngine(rules.PolicyFile{
		Version: 1,
		Bash:    rules.TierConfig{Allow: rules.StringOrArray{"ls *"}, Deny: rules.StringOrArray{"rm *"}},
	})
	if err != nil {
		t.Fatalf("NewTestEngine: %v", err)
	}
	opts := Options{
		Engine:     engine,
		Classifier: rules.NewClassifier(rules.NewResolver(t.TempDir(), nil)),
		Agent:      "build",
		Version:    "test",
	}
	if withStorage {
		s, err := telemetry.NewStorage(":memory:", "")
		if err != nil {
			t.Fatalf("NewStorage: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		opts.Storage = s
	}
	return opts
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIServer_Routes(t *testing.T) {
	h := NewAPIServer(testOptions(t, true)).Handler()

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/api/status", "", http.StatusOK},
		{http.MethodPost, "/api/check", `{"command":"ls -la"}`, http.StatusOK},
		{http.MethodGet, "/api/policy", "", http.StatusOK},
		{http.MethodGet, "/api/policy/files", "", http.StatusOK},
		{http.MethodGet, "/api/logs", "", http.StatusOK},
		{http.MethodGet, "/api/logs/stats", "", http.StatusOK},
		{http.MethodGet, "/api/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := serve(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestAPIServer_Health(t *testing.T) {
	h := NewAPIServer(testOptions(t, false)).Handler()
	w := serve(t, h, http.MethodGet, "/health", "")
	if w.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", w.Body.String())
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestAPIServer_NoStorage(t *testing.T) {
	h := NewAPIServer(testOptions(t, false)).Handler()
	if w := serve(t, h, http.MethodGet, "/api/logs", ""); w.Code != http.StatusNotFound {
		t.Errorf("/api/logs without storage: status = %d, want 404", w.Code)
	}

	w := serve(t, h, http.MethodGet, "/api/status", "")
	var status map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status["audit_enabled"] != false || status["rules_count"] != float64(2) {
		t.Errorf("status = %v", status)
	}
}

func TestAPIServer_RemoteRejected(t *testing.T) {
	h := NewAPIServer(testOptions(t, false)).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "203.0.113.7:5000"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestManager_StartShutdown(t *testing.T) {
	opts := testOptions(t, true)
	ctx := context.Background()
	if err := opts.Storage.LogExecution(ctx, telemetry.Execution{Command: "ls", Outcome: telemetry.OutcomeExited}); err != nil {
		t.Fatal(err)
	}

	m, err := Start(opts, ManagerConfig{Listen: "127.0.0.1:0", RetentionDays: 30, CleanupInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + m.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("body = %q", body)
	}

	// Let the cleanup loop tick at least once; recent rows must survive it.
	time.Sleep(30 * time.Millisecond)
	logs, err := opts.Storage.ListExecutions(ctx, telemetry.Filter{})
	if err != nil || len(logs) != 1 {
		t.Errorf("recent rows after cleanup = %v, %v", logs, err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if _, err := http.Get("http://" + m.Addr().String() + "/health"); err == nil {
		t.Error("server still answering after Shutdown")
	}
}

func TestManager_ListenError(t *testing.T) {
	if _, err := Start(testOptions(t, false), ManagerConfig{Listen: "not-an-address"}); err == nil {
		t.Error("expected listen error")
	}
}
