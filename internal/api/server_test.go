package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/blob"
	"github.com/graftfs/graft/internal/config"
	"github.com/graftfs/graft/internal/daemon"
	"github.com/graftfs/graft/internal/module"
	"github.com/graftfs/graft/internal/registry"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	base := t.TempDir()

	cfg := &config.Config{
		DataDir:    base,
		ModulesDir: filepath.Join(base, "modules"),
		BlobDir:    filepath.Join(base, "archives"),
		DBPath:     filepath.Join(base, "graft.db"),
		SocketPath: filepath.Join(base, "graftd.sock"),
		Partition:  "system",
	}

	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	store := &module.Store{Root: cfg.ModulesDir, Partition: cfg.Partition, Log: zerolog.Nop()}
	d := daemon.New(cfg, reg, store, blob.NewDirStore(cfg.BlobDir), nil, zerolog.Nop())

	return NewServer(cfg, d, zerolog.Nop())
}

func seedModule(t *testing.T, s *Server, id string) {
	t.Helper()
	dir := filepath.Join(s.cfg.ModulesDir, id)
	if err := os.MkdirAll(filepath.Join(dir, "system", "etc"), 0755); err != nil {
		t.Fatal(err)
	}
	prop := "id=" + id + "\nname=" + id + "\n"
	if err := os.WriteFile(filepath.Join(dir, "module.prop"), []byte(prop), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "system", "etc", "x.conf"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestStatus(t *testing.T) {
	s := setupTestServer(t)
	seedModule(t, s, "alpha")

	w := doRequest(t, s, "GET", "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var st statusResponse
	decode(t, w, &st)
	if st.Mounted {
		t.Error("nothing should be mounted")
	}
	if st.Modules != 1 || st.Active != 1 {
		t.Errorf("modules = %d active = %d, want 1/1", st.Modules, st.Active)
	}
	if st.Version == "" {
		t.Error("version missing from status")
	}
}

func TestListModules_Empty(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "GET", "/v1/modules", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want empty list", got)
	}
}

func TestModuleLifecycle(t *testing.T) {
	s := setupTestServer(t)
	seedModule(t, s, "alpha")

	w := doRequest(t, s, "POST", "/v1/modules/alpha/disable", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disable = %d, body %s", w.Code, w.Body.String())
	}

	var mods []*module.Module
	decode(t, doRequest(t, s, "GET", "/v1/modules", ""), &mods)
	if len(mods) != 1 || !mods[0].Disabled {
		t.Fatalf("module should be disabled: %+v", mods)
	}

	w = doRequest(t, s, "POST", "/v1/modules/alpha/enable", "")
	if w.Code != http.StatusOK {
		t.Fatalf("enable = %d", w.Code)
	}

	w = doRequest(t, s, "DELETE", "/v1/modules/alpha", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove = %d", w.Code)
	}
	decode(t, doRequest(t, s, "GET", "/v1/modules", ""), &mods)
	if len(mods) != 1 || !mods[0].Remove {
		t.Fatalf("module should be flagged for removal: %+v", mods)
	}
}

func TestModuleAction_NotFound(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "POST", "/v1/modules/ghost/enable", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestModuleAction_BadID(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "POST", "/v1/modules/has*star/enable", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestInstall_Validation(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "POST", "/v1/modules", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json = %d, want 400", w.Code)
	}

	w = doRequest(t, s, "POST", "/v1/modules", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing source = %d, want 400", w.Code)
	}

	w = doRequest(t, s, "POST", "/v1/modules", `{"source":"/nonexistent/mod.zip"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("broken archive = %d, want 400", w.Code)
	}
}

func TestMount_NoModules(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "POST", "/v1/mount", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestUnmount_NotMounted(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "POST", "/v1/unmount", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
}

func TestPlan(t *testing.T) {
	s := setupTestServer(t)
	seedModule(t, s, "alpha")

	w := doRequest(t, s, "GET", "/v1/plan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var plan daemon.Plan
	decode(t, w, &plan)
	if len(plan.Modules) != 1 || plan.Modules[0] != "alpha" {
		t.Errorf("modules = %v, want [alpha]", plan.Modules)
	}
}

func TestRuns(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "GET", "/v1/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}

	w = doRequest(t, s, "GET", "/v1/runs/42", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing run = %d, want 404", w.Code)
	}

	w = doRequest(t, s, "GET", "/v1/runs/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", w.Code)
	}

	w = doRequest(t, s, "GET", "/v1/runs?limit=0", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", w.Code)
	}
}

func TestTrust(t *testing.T) {
	s := setupTestServer(t)

	w := doRequest(t, s, "GET", "/v1/trust", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get trust = %d", w.Code)
	}
	var tr trustResponse
	decode(t, w, &tr)
	if tr.Fingerprint != "" {
		t.Errorf("fingerprint = %q, want unset", tr.Fingerprint)
	}

	w = doRequest(t, s, "POST", "/v1/trust", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing path = %d, want 400", w.Code)
	}

	w = doRequest(t, s, "POST", "/v1/trust", `{"path":"/nonexistent.zip"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad archive = %d, want 400", w.Code)
	}
}

func TestSweep(t *testing.T) {
	s := setupTestServer(t)
	seedModule(t, s, "alpha")

	w := doRequest(t, s, "POST", "/v1/gc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("gc = %d, body %s", w.Code, w.Body.String())
	}
	var res daemon.SweepResult
	decode(t, w, &res)
	if res.Referenced != 0 || res.SourcesDropped != 0 {
		t.Errorf("sweep = %+v, want empty", res)
	}
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"alpha", true},
		{"a-b_c.d", true},
		{"", false},
		{"has*star", false},
		{"a/b", false},
		{strings.Repeat("x", 129), false},
	}
	for _, tt := range tests {
		if got := isValidID(tt.id); got != tt.want {
			t.Errorf("isValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
