package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/cache"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/graph"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/presence"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/versionstore"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/whitelist"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeSource struct {
	mu   sync.Mutex
	rows map[dataset.ID][]dataset.Row
}

func (f *fakeSource) FetchRows(_ context.Context, id dataset.ID) ([]dataset.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dataset.Row(nil), f.rows[id]...), nil
}

type fakePatcher struct {
	mu      sync.Mutex
	patches []string
}

func (f *fakePatcher) PatchItemField(_ context.Context, id dataset.ID, itemID, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, fmt.Sprintf("%s/%s/%s=%v", id, itemID, field, value))
	return nil
}

type fakeWaker struct{ calls atomic.Int32 }

func (f *fakeWaker) Wake() { f.calls.Add(1) }

type fakeWhitelistStore struct {
	mu     sync.Mutex
	items  []graph.ListItem
	nextID int
}

func (f *fakeWhitelistStore) ListItems(context.Context, string) ([]graph.ListItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]graph.ListItem(nil), f.items...), nil
}

func (f *fakeWhitelistStore) CreateItem(_ context.Context, _ string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.items = append(f.items, graph.ListItem{ID: fmt.Sprint(f.nextID), Fields: fields})
	return nil
}

func (f *fakeWhitelistStore) DeleteItem(_ context.Context, _ string, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.items {
		if it.ID == itemID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	return nil
}

type testEnv struct {
	srv     *httptest.Server
	api     *Server
	patcher *fakePatcher
	waker   *fakeWaker
	wlStore *fakeWhitelistStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	source := &fakeSource{rows: map[dataset.ID][]dataset.Row{
		dataset.IPS: {
			{ID: "1", Empresa: "ACME SA", RUC: "80012345-6", Nombre: "Juan Pérez", AudEstado: "COINCIDE"},
			{ID: "2", Empresa: "ACME SA", RUC: "80012345-6", Nombre: "María González", AudEstado: "NO_COINCIDE"},
		},
		dataset.MTESS: {
			{ID: "5", Empresa: "Otra SRL", Nombre: "Pedro Gómez", AudEstado: "COINCIDE"},
		},
	}}
	store := versionstore.New(filepath.Join(t.TempDir(), "version.json"), nil)
	svc := cache.New(source, store, nil)
	patcher := &fakePatcher{}
	waker := &fakeWaker{}
	wlStore := &fakeWhitelistStore{}

	api := New(
		svc,
		cache.NewDispatcher(patcher, nil),
		waker,
		presence.NewHub(nil),
		whitelist.New(wlStore, "", nil),
		auth.NewPhotoCache(),
		nil, // oauth config unused outside the login flow
		testSecret,
		[]string{"admin@empresa.com"},
		nil,
	)

	r := chi.NewRouter()
	r.Use(auth.Middleware(testSecret))
	api.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, api: api, patcher: patcher, waker: waker, wlStore: wlStore}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, claims *auth.SessionClaims) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if claims != nil {
		token, err := auth.GenerateToken(testSecret, claims, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func userClaims() *auth.SessionClaims {
	return &auth.SessionClaims{Name: "Ana Lopez", Email: "ana@empresa.com"}
}

func adminClaims() *auth.SessionClaims {
	return &auth.SessionClaims{Name: "Root", Email: "admin@empresa.com", Admin: true}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestDataRequiresSession(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/data", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestDataReturnsSnapshot(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/data?source=IPS", nil, userClaims())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Data        []dataset.Row `json:"data"`
		LastUpdated string        `json:"last_updated"`
		Version     float64       `json:"version"`
	}
	decodeBody(t, resp, &out)
	if len(out.Data) != 2 {
		t.Errorf("got %d rows, want 2", len(out.Data))
	}
	if out.LastUpdated == "" {
		t.Error("last_updated empty after a fetch")
	}
}

func TestDataUnknownSource(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/data?source=OTRO", nil, userClaims())
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateMarksAndDispatches(t *testing.T) {
	e := newTestEnv(t)

	// Populate the cache first; edits only apply to rows already fetched.
	warm := e.request(t, http.MethodGet, "/api/data?source=IPS", nil, userClaims())
	warm.Body.Close()
	if warm.StatusCode != http.StatusOK {
		t.Fatalf("warmup status = %d", warm.StatusCode)
	}

	// Mixed id types, the way the frontend sends them.
	resp := e.request(t, http.MethodPost, "/api/update",
		map[string]any{"source": "IPS", "ids": []any{1, "2"}}, userClaims())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Updated int     `json:"updated"`
		Version float64 `json:"version"`
	}
	decodeBody(t, resp, &out)
	if out.Updated != 2 {
		t.Errorf("updated = %d, want 2", out.Updated)
	}
	if e.waker.calls.Load() != 1 {
		t.Errorf("wake calls = %d, want 1", e.waker.calls.Load())
	}

	// Background dispatch: status patch plus editor attribution per row.
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.patcher.mu.Lock()
		n := len(e.patcher.patches)
		e.patcher.mu.Unlock()
		if n == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d patches, want 4", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateCustomStatus(t *testing.T) {
	e := newTestEnv(t)

	warm := e.request(t, http.MethodGet, "/api/data?source=IPS", nil, userClaims())
	warm.Body.Close()

	resp := e.request(t, http.MethodPost, "/api/update",
		map[string]any{"source": "IPS", "ids": []any{"1"}, "status": "PENDIENTE"}, userClaims())
	var out struct {
		Updated int `json:"updated"`
	}
	decodeBody(t, resp, &out)
	if out.Updated != 1 {
		t.Fatalf("updated = %d, want 1", out.Updated)
	}

	resp = e.request(t, http.MethodGet, "/api/data?source=IPS", nil, userClaims())
	var data struct {
		Data []dataset.Row `json:"data"`
	}
	decodeBody(t, resp, &data)
	for _, row := range data.Data {
		if row.ID == "1" && row.Revisado != "PENDIENTE" {
			t.Errorf("row 1 status = %q, want PENDIENTE", row.Revisado)
		}
	}

	// The write-back carries the same status.
	deadline := time.Now().Add(2 * time.Second)
	for {
		e.patcher.mu.Lock()
		patches := append([]string(nil), e.patcher.patches...)
		e.patcher.mu.Unlock()
		if len(patches) >= 2 {
			if patches[0] != "IPS/1/REVISADO=PENDIENTE" {
				t.Errorf("patch = %q", patches[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write-back not observed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateRejectsBadIDs(t *testing.T) {
	e := newTestEnv(t)

	for _, body := range []map[string]any{
		{"source": "IPS", "ids": []any{}},
		{"source": "IPS", "ids": []any{true}},
		{"source": "OTRO", "ids": []any{"1"}},
	} {
		resp := e.request(t, http.MethodPost, "/api/update", body, userClaims())
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, resp.StatusCode)
		}
	}
	if e.waker.calls.Load() != 0 {
		t.Error("rejected updates must not wake the loop")
	}
}

func TestVersionEndpoint(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/version", nil, userClaims())
	var out map[string]float64
	decodeBody(t, resp, &out)
	if _, ok := out["IPS"]; !ok {
		t.Errorf("versions = %v, missing IPS", out)
	}
	if _, ok := out["MTESS"]; !ok {
		t.Errorf("versions = %v, missing MTESS", out)
	}
}

func TestExportExcelHeaders(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/export?source=IPS", nil, userClaims())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd == "" {
		t.Error("Content-Disposition missing")
	}
}

func TestExportPDF(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/export/pdf?source=IPS&company=80012345-6", nil, userClaims())
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		t.Error("body is not a PDF")
	}
}

func TestAdminRoutesForbidRegularUsers(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/admin/users", nil, userClaims())
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestUsersCRUD(t *testing.T) {
	e := newTestEnv(t)
	admin := adminClaims()

	resp := e.request(t, http.MethodPost, "/api/admin/users",
		map[string]string{"email": "nueva@empresa.com"}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d, want 201", resp.StatusCode)
	}

	resp = e.request(t, http.MethodPost, "/api/admin/users",
		map[string]string{"email": "nueva@empresa.com"}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}

	resp = e.request(t, http.MethodPost, "/api/admin/users",
		map[string]string{"email": "sin-arroba"}, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status = %d, want 400", resp.StatusCode)
	}

	resp = e.request(t, http.MethodGet, "/api/admin/users", nil, admin)
	var entries []whitelist.Entry
	decodeBody(t, resp, &entries)
	if len(entries) != 1 || entries[0].Email != "nueva@empresa.com" {
		t.Fatalf("entries = %v", entries)
	}

	resp = e.request(t, http.MethodDelete, "/api/admin/users/"+entries[0].ID, nil, admin)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = e.request(t, http.MethodGet, "/api/admin/users", nil, admin)
	entries = nil
	decodeBody(t, resp, &entries)
	if len(entries) != 0 {
		t.Errorf("entries after delete = %v", entries)
	}
}

func TestLoginAllowedAdminBypassesWhitelist(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	// Fresh install, whitelist empty: only the configured admin gets in.
	if !e.api.loginAllowed(ctx, "ADMIN@empresa.com") {
		t.Error("admin rejected with an empty whitelist")
	}
	if e.api.loginAllowed(ctx, "ana@empresa.com") {
		t.Error("non-whitelisted regular user allowed")
	}

	if err := e.wlStore.CreateItem(ctx, graph.WhitelistKey, map[string]any{"correo": "ana@empresa.com"}); err != nil {
		t.Fatal(err)
	}
	if !e.api.loginAllowed(ctx, "ana@empresa.com") {
		t.Error("whitelisted user rejected")
	}
}

func TestMeEndpoint(t *testing.T) {
	e := newTestEnv(t)
	resp := e.request(t, http.MethodGet, "/api/me", nil, userClaims())
	var out struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Admin bool   `json:"admin"`
		Photo string `json:"photo"`
	}
	decodeBody(t, resp, &out)
	if out.Name != "Ana Lopez" || out.Email != "ana@empresa.com" || out.Admin {
		t.Errorf("me = %+v", out)
	}
	if out.Photo == "" {
		t.Error("photo fallback missing")
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
