package services

import (
	"canvas-studio/catalog"
	"canvas-studio/config"
	"canvas-studio/core"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newRouter(t *testing.T) (*chi.Mux, *config.Prefs, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	prefs, err := config.LoadPrefs(path)
	if err != nil {
		t.Fatalf("LoadPrefs() failed: %v", err)
	}
	c := catalog.New([]core.AIService{
		{ID: "upscale", Name: "Upscale", WorkerID: "w-1"},
		{ID: "local-only", Name: "Local"},
	})
	r := chi.NewRouter()
	Routes(r, c, prefs, []string{"local-only"})
	return r, prefs, path
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func serviceIDs(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var list []core.AIService
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestHandleList_FollowsAPIMode(t *testing.T) {
	r, prefs, _ := newRouter(t)

	if got := serviceIDs(t, serve(r, http.MethodGet, "/services", "")); len(got) != 1 || got[0] != "upscale" {
		t.Errorf("remote mode: got %v, want [upscale]", got)
	}

	prefs.Set(config.KeyUseLocalAPI, true)
	if got := serviceIDs(t, serve(r, http.MethodGet, "/services", "")); len(got) != 1 || got[0] != "local-only" {
		t.Errorf("local mode: got %v, want [local-only]", got)
	}
}

func TestHandleList_EmptyIsArray(t *testing.T) {
	r := chi.NewRouter()
	prefs, _ := config.LoadPrefs("")
	Routes(r, catalog.New(nil), prefs, nil)

	rec := serve(r, http.MethodGet, "/services", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("got %s, want []", body)
	}
}

func TestSettings_GetAndUpdate(t *testing.T) {
	r, _, path := newRouter(t)

	var got config.Settings
	json.NewDecoder(serve(r, http.MethodGet, "/settings", "").Body).Decode(&got)
	if got.MaxDimension != config.DefaultMaxDimension || got.UseLocalAPI {
		t.Errorf("defaults: got %+v", got)
	}

	rec := serve(r, http.MethodPut, "/settings", `{"useLocalApi":true,"maxDimension":2048}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: got %d, want %d", rec.Code, http.StatusOK)
	}

	reloaded, err := config.LoadPrefs(path)
	if err != nil {
		t.Fatalf("LoadPrefs() failed: %v", err)
	}
	s := reloaded.Settings()
	if !s.UseLocalAPI || s.MaxDimension != 2048 {
		t.Errorf("saved: got %+v", s)
	}
	if s.UIScale != config.DefaultUIScale || s.LocalAPIURL != config.DefaultLocalAPIURL {
		t.Errorf("omitted fields changed: got %+v", s)
	}
}

func TestSettings_UpdateRejected(t *testing.T) {
	r, _, _ := newRouter(t)
	tests := []struct {
		body string
		want int
	}{
		{`{`, http.StatusBadRequest},
		{`{"maxDimension":0}`, http.StatusUnprocessableEntity},
		{`{"uiScale":-5}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if rec := serve(r, http.MethodPut, "/settings", tt.body); rec.Code != tt.want {
			t.Errorf("%s: got %d, want %d", tt.body, rec.Code, tt.want)
		}
	}
}
