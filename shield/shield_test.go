package shield

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dbopen"
)

func newShieldDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestMaintenanceOffByDefault(t *testing.T) {
	m := NewMaintenance(newShieldDB(t))
	if m.Active() {
		t.Fatal("fresh install must not be in maintenance")
	}

	rec := httptest.NewRecorder()
	m.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMaintenanceMissingTableIsOff(t *testing.T) {
	m := NewMaintenance(dbopen.OpenMemory(t))
	if m.Active() {
		t.Fatal("missing table must read as maintenance off")
	}
}

func TestMaintenanceBlocks(t *testing.T) {
	db := newShieldDB(t)
	if _, err := db.Exec(`UPDATE maintenance SET active = 1, message = 'Volvemos pronto' WHERE id = 1`); err != nil {
		t.Fatal(err)
	}
	m := NewMaintenance(db, "/healthz")
	if !m.Active() {
		t.Fatal("flag not picked up")
	}
	h := m.Middleware(okHandler())

	// API paths get JSON.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/data", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("api status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("api Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Volvemos pronto") {
		t.Errorf("api body = %q", rec.Body.String())
	}
	if rec.Header().Get("Retry-After") != "300" {
		t.Error("Retry-After missing")
	}

	// Pages get HTML.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("page status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("page Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "Volvemos pronto") {
		t.Error("page body missing message")
	}

	// Excluded prefixes pass through.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("excluded status = %d", rec.Code)
	}
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	db := newShieldDB(t)
	if _, err := db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		VALUES ('GET /api/data', 2, 60, 1)`); err != nil {
		t.Fatal(err)
	}
	rl := NewRateLimiter(db)
	h := rl.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Error("Retry-After missing")
	}

	// A different client still passes.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("other ip status = %d", rec.Code)
	}
}

func TestRateLimiterUnruledEndpointUnlimited(t *testing.T) {
	rl := NewRateLimiter(newShieldDB(t))
	h := rl.Middleware(okHandler())
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterDisabledRule(t *testing.T) {
	db := newShieldDB(t)
	if _, err := db.Exec(`INSERT INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
		VALUES ('GET /x', 1, 60, 0)`); err != nil {
		t.Fatal(err)
	}
	rl := NewRateLimiter(db)
	if !rl.allow("10.0.0.1", "GET /x") || !rl.allow("10.0.0.1", "GET /x") {
		t.Fatal("disabled rule must not limit")
	}
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		remote string
		xff    string
		want   string
	}{
		{"10.0.0.1:5000", "", "10.0.0.1"},
		{"10.0.0.1:5000", "203.0.113.9", "203.0.113.9"},
		{"10.0.0.1:5000", "203.0.113.9, 198.51.100.2", "203.0.113.9"},
		{"bad-addr", "", "bad-addr"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if tt.xff != "" {
			req.Header.Set("X-Forwarded-For", tt.xff)
		}
		if got := ExtractIP(req); got != tt.want {
			t.Errorf("ExtractIP(remote=%q, xff=%q) = %q, want %q", tt.remote, tt.xff, got, tt.want)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "ws:") {
		t.Errorf("CSP must allow websockets, got %q", csp)
	}
}

func TestMaxJSONBody(t *testing.T) {
	h := MaxJSONBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		if _, err := r.Body.Read(buf); err != nil && err.Error() == "http: request body too large" {
			http.Error(w, "too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/update", strings.NewReader(strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestTraceID(t *testing.T) {
	var inside string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inside = GetTraceID(r.Context())
		GetLogger(r.Context()).Debug("in handler")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if inside == "" {
		t.Fatal("trace id missing from context")
	}
	if rec.Header().Get("X-Trace-ID") != inside {
		t.Errorf("header = %q, context = %q", rec.Header().Get("X-Trace-ID"), inside)
	}
}
