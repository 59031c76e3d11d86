package canvas

import (
	"bytes"
	"canvas-studio/core"
	"canvas-studio/editor"
	"canvas-studio/imaging"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newServer(t *testing.T) (*editor.Registry, http.Handler) {
	t.Helper()
	registry := editor.NewRegistry(editor.Deps{})
	t.Cleanup(registry.Close)
	r := chi.NewRouter()
	r.Route("/api/sessions", func(r chi.Router) { Routes(r, registry) })
	return registry, r
}

func do(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, h http.Handler) editor.Info {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/sessions/", `{"screenWidth":800,"screenHeight":600}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: got %d, want %d", rec.Code, http.StatusCreated)
	}
	var info editor.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return info
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := imaging.EncodePNG(imaging.Fill(w, h, color.RGBA{R: 200, A: 255}))
	if err != nil {
		t.Fatalf("EncodePNG() failed: %v", err)
	}
	return data
}

func TestCreateAndGetSession(t *testing.T) {
	_, h := newServer(t)
	info := createSession(t, h)
	if info.ID == "" {
		t.Fatal("session id is empty")
	}

	rec := do(t, h, http.MethodGet, "/api/sessions/"+info.ID+"/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusOK)
	}

	rec = do(t, h, http.MethodDelete, "/api/sessions/"+info.ID+"/", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	rec = do(t, h, http.MethodGet, "/api/sessions/"+info.ID+"/", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("after delete: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUploadImages(t *testing.T) {
	registry, h := newServer(t)
	info := createSession(t, h)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"red.png", "notes.txt", "blue.png"} {
		part, _ := mw.CreateFormFile("files", name)
		if strings.HasSuffix(name, ".png") {
			part.Write(pngBytes(t, 40, 20))
		} else {
			part.Write([]byte("not an image"))
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/layers/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var resp LayersResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.IDs) != 2 {
		t.Fatalf("got %d layers, want 2", len(resp.IDs))
	}

	s, _ := registry.Get(info.ID)
	l, ok := s.Find(resp.IDs[0])
	if !ok || l.Name != "red" || l.Kind != core.KindImage {
		t.Errorf("got %+v", l)
	}
	if sel := s.Selected(); len(sel) != 1 || sel[0] != resp.IDs[1] {
		t.Errorf("selection: got %v, want [%s]", sel, resp.IDs[1])
	}
}

func TestUploadImages_NoImages(t *testing.T) {
	_, h := newServer(t)
	info := createSession(t, h)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("files", "a.txt")
	part.Write([]byte("text"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+info.ID+"/layers/image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTextLayerPatch(t *testing.T) {
	registry, h := newServer(t)
	info := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/api/sessions/"+info.ID+"/layers/text", "")
	var created LayerResponse
	json.NewDecoder(rec.Body).Decode(&created)

	rec = do(t, h, http.MethodPatch, "/api/sessions/"+info.ID+"/layers/"+created.ID,
		`{"text":"Hello","fontSize":"48px","color":"#ff0000","name":"Title"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	s, _ := registry.Get(info.ID)
	l, _ := s.Find(created.ID)
	if l.Name != "Title" || l.Text.Content != "Hello" || l.Text.FontSize != 48 || l.Text.Color != "#ff0000" {
		t.Errorf("got %+v %+v", l, l.Text)
	}
	if l.Height != 58 {
		t.Errorf("height: got %v, want 58", l.Height)
	}
}

func TestPatchLayer_Errors(t *testing.T) {
	_, h := newServer(t)
	info := createSession(t, h)

	rec := do(t, h, http.MethodPatch, "/api/sessions/"+info.ID+"/layers/missing", `{"visible":false}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing layer: got %d, want %d", rec.Code, http.StatusNotFound)
	}

	rec = do(t, h, http.MethodPost, "/api/sessions/"+info.ID+"/layers/empty", `{"width":100,"height":100}`)
	var created LayerResponse
	json.NewDecoder(rec.Body).Decode(&created)

	rec = do(t, h, http.MethodPatch, "/api/sessions/"+info.ID+"/layers/"+created.ID, `{"text":"nope"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("text on image: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	rec = do(t, h, http.MethodPatch, "/api/sessions/"+info.ID+"/layers/"+created.ID, `{`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAddEmpty_FromRatio(t *testing.T) {
	registry, h := newServer(t)
	info := createSession(t, h)

	rec := do(t, h, http.MethodPost, "/api/sessions/"+info.ID+"/layers/empty", `{"ratio":"16:9","base":1024,"divisor":8}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusCreated)
	}
	var created LayerResponse
	json.NewDecoder(rec.Body).Decode(&created)

	s, _ := registry.Get(info.ID)
	l, _ := s.Find(created.ID)
	if l.Width != 1024 || l.Height != 576 {
		t.Errorf("got %vx%v, want 1024x576", l.Width, l.Height)
	}
	if l.Name != "Empty Image 16:9 (1024x576)" {
		t.Errorf("got name %q", l.Name)
	}
}

func TestOrderUndoRedoDelete(t *testing.T) {
	registry, h := newServer(t)
	info := createSession(t, h)
	base := "/api/sessions/" + info.ID

	var ids []string
	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, base+"/layers/empty", `{"width":64,"height":64}`)
		var created LayerResponse
		json.NewDecoder(rec.Body).Decode(&created)
		ids = append(ids, created.ID)
	}

	rec := do(t, h, http.MethodPost, base+"/layers/"+ids[1]+"/order/bottom", "")
	var moved map[string]bool
	json.NewDecoder(rec.Body).Decode(&moved)
	if !moved["moved"] {
		t.Fatalf("expected the layer to move")
	}
	s, _ := registry.Get(info.ID)
	if got := s.Layers()[0].ID; got != ids[1] {
		t.Errorf("bottom layer: got %s, want %s", got, ids[1])
	}

	rec = do(t, h, http.MethodPost, base+"/layers/"+ids[1]+"/order/sideways", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad direction: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	if rec = do(t, h, http.MethodPost, base+"/undo", ""); rec.Code != http.StatusOK {
		t.Fatalf("undo: got %d, want %d", rec.Code, http.StatusOK)
	}
	if got := s.Layers()[0].ID; got != ids[0] {
		t.Errorf("after undo bottom layer: got %s, want %s", got, ids[0])
	}
	if rec = do(t, h, http.MethodPost, base+"/redo", ""); rec.Code != http.StatusOK {
		t.Fatalf("redo: got %d, want %d", rec.Code, http.StatusOK)
	}
	if rec = do(t, h, http.MethodPost, base+"/redo", ""); rec.Code != http.StatusConflict {
		t.Errorf("redo at newest: got %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = do(t, h, http.MethodDelete, base+"/selection", "")
	var deleted map[string]int
	json.NewDecoder(rec.Body).Decode(&deleted)
	if deleted["deleted"] != 1 || len(s.Layers()) != 1 {
		t.Errorf("got deleted=%d layers=%d, want 1 and 1", deleted["deleted"], len(s.Layers()))
	}
}

func TestExportAndFrame(t *testing.T) {
	_, h := newServer(t)
	info := createSession(t, h)
	base := "/api/sessions/" + info.ID

	rec := do(t, h, http.MethodPost, base+"/layers/empty", `{"width":32,"height":16}`)
	var created LayerResponse
	json.NewDecoder(rec.Body).Decode(&created)

	rec = do(t, h, http.MethodGet, base+"/layers/"+created.ID+"/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export: got %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type: got %q, want image/png", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "-TostAI-") {
		t.Errorf("content disposition: got %q", cd)
	}

	rec = do(t, h, http.MethodGet, base+"/frame?w=120&h=80", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("frame: got %d, want %d", rec.Code, http.StatusOK)
	}
	img, _, err := image.Decode(rec.Body)
	if err != nil {
		t.Fatalf("frame is not an image: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 80 {
		t.Errorf("frame size: got %dx%d, want 120x80", b.Dx(), b.Dy())
	}
}

func TestGestures(t *testing.T) {
	registry, h := newServer(t)
	info := createSession(t, h)
	base := "/api/sessions/" + info.ID

	rec := do(t, h, http.MethodPost, base+"/gestures", `[{"type":"wheel","wheel":{"x":400,"y":300,"deltaY":-100}},{"type":"bogus"}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want %d", rec.Code, http.StatusOK)
	}
	var resp GesturesResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Handled != 1 {
		t.Errorf("handled: got %d, want 1", resp.Handled)
	}
	s, _ := registry.Get(info.ID)
	if s.Viewport().Zoom <= 1 {
		t.Errorf("zoom: got %v, want > 1", s.Viewport().Zoom)
	}
}

func TestVideo_NotVideo(t *testing.T) {
	_, h := newServer(t)
	info := createSession(t, h)
	base := "/api/sessions/" + info.ID

	rec := do(t, h, http.MethodPost, base+"/layers/text", "")
	var created LayerResponse
	json.NewDecoder(rec.Body).Decode(&created)

	rec = do(t, h, http.MethodPost, base+"/videos/"+created.ID+"/play", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("play text: got %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	rec = do(t, h, http.MethodPost, base+"/videos/"+created.ID+"/rewind", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown action: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleGetSession_RouteContext(t *testing.T) {
	registry := editor.NewRegistry(editor.Deps{})
	defer registry.Close()
	handler := HandleGetSession(registry)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "nope")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
}
