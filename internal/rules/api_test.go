package rules

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e, err := NewTestEngine(
		PolicyFile{Version: 1, Bash: TierConfig{Allow: StringOrArray{"ls *"}, Deny: StringOrArray{"rm *"}}, TrustedCommands: StringOrArray{"ls *"}},
		PolicyFile{Version: 1, Agent: "plan", Bash: TierConfig{Deny: StringOrArray{"git push *"}}},
	)
	if err != nil {
		t.Fatalf("NewTestEngine: %v", err)
	}
	c, _, _ := testClassifier(t)
	router := gin.New()
	NewAPIHandler(e, c, "build").RegisterRoutes(router.Group("/api"))
	return router
}

func doRequest(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return w, out
}

func TestAPI_Check(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name    string
		body    string
		status  int
		highest string
	}{
		{"allowed", `{"command":"ls -la"}`, http.StatusOK, "allow"},
		{"denied", `{"command":"echo hi && rm -rf x"}`, http.StatusOK, "deny"},
		{"agent policy", `{"command":"git push origin","agent":"plan"}`, http.StatusOK, "deny"},
		{"default agent", `{"command":"git push origin"}`, http.StatusOK, "ask"},
		{"missing command", `{}`, http.StatusBadRequest, ""},
		{"parse error", `{"command":"echo 'open"}`, http.StatusUnprocessableEntity, ""},
		{"bidi", `{"command":"ls \u202e"}`, http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := doRequest(t, router, http.MethodPost, "/api/check", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if tt.highest == "" {
				if out["error"] == nil {
					t.Error("error response without message")
				}
				return
			}
			analysis, _ := out["analysis"].(map[string]any)
			if got := analysis["highest"]; got != tt.highest {
				t.Errorf("highest = %v, want %s", got, tt.highest)
			}
		})
	}
}

func TestAPI_Policy(t *testing.T) {
	router := newTestRouter(t)

	w, out := doRequest(t, router, http.MethodGet, "/api/policy?agent=plan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if out["agent"] != "plan" {
		t.Errorf("agent = %v", out["agent"])
	}
	if out["total"] != float64(3) {
		t.Errorf("total = %v, want 3", out["total"])
	}
	if out["default_tier"] != "ask" {
		t.Errorf("default_tier = %v", out["default_tier"])
	}

	_, out = doRequest(t, router, http.MethodGet, "/api/policy", "")
	if out["agent"] != "build" || out["total"] != float64(2) {
		t.Errorf("default agent policy = %v", out)
	}
}

func TestAPI_Lint(t *testing.T) {
	router := newTestRouter(t)

	_, out := doRequest(t, router, http.MethodPost, "/api/policy/lint", "version: 1\nbash:\n  allow: [\"ls *\"]\n")
	if out["valid"] != true {
		t.Errorf("valid policy reported invalid: %v", out)
	}

	_, out = doRequest(t, router, http.MethodPost, "/api/policy/lint", "version: 1\nbash:\n  alow: [\"ls *\"]\n")
	if out["valid"] != false {
		t.Errorf("unknown key should be invalid: %v", out)
	}
}

func TestAPI_Files(t *testing.T) {
	router := newTestRouter(t)
	w, out := doRequest(t, router, http.MethodGet, "/api/policy/files", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	files, _ := out["files"].([]any)
	if len(files) != 2 {
		t.Errorf("files = %v, want 2 entries", out["files"])
	}
}
