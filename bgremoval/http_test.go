package bgremoval

import (
	"canvas-studio/imaging"
	"context"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPModelLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/remove":
			if r.Header.Get("Content-Type") != "image/png" {
				t.Errorf("got content type %q", r.Header.Get("Content-Type"))
			}
			data, _ := io.ReadAll(r.Body)
			img, _, err := imaging.Decode(data)
			if err != nil {
				t.Errorf("bad upload: %v", err)
			}
			// Answer at half resolution.
			b := img.Bounds()
			out, _ := imaging.EncodePNG(imaging.Transparent(b.Dx()/2, b.Dy()/2))
			w.Header().Set("Content-Type", "image/png")
			w.Write(out)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m, err := (&HTTPModelLoader{URL: srv.URL}).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	out, err := m.RemoveBackground(context.Background(), imaging.Fill(40, 20, color.White))
	if err != nil {
		t.Fatalf("RemoveBackground() failed: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 40 || b.Dy() != 20 {
		t.Errorf("got %v, want 40x20", b)
	}
}

func TestHTTPModelLoader_NotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := (&HTTPModelLoader{URL: srv.URL}).Load(context.Background()); err == nil {
		t.Error("expected an error while the model warms up")
	}
	if _, err := (&HTTPModelLoader{}).Load(context.Background()); err != ErrNoModel {
		t.Errorf("got %v, want ErrNoModel", err)
	}
}

func TestHTTPMatter_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cuda oom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := (&HTTPMatter{URL: srv.URL}).RemoveBackground(context.Background(), imaging.Fill(4, 4, color.White))
	if err == nil {
		t.Fatal("expected an error")
	}
}
