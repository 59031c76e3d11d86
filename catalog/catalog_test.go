package catalog

import (
	"canvas-studio/core"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `[
  {"id": "upscale", "name": "Upscale", "category": "image", "workerId": "w1", "parameters": [
    {"name": "input_image", "type": "image", "ui": false},
    {"name": "scale", "type": "number", "defaultValue": 2}
  ]},
  {"id": "i2v", "name": "Image to Video", "category": "video", "workerId": " ", "parameters": []},
  {"id": "trellis", "name": "Trellis", "category": "3d", "parameters": []}
]`

func writeCatalog(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, "services.json")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeCatalog(t, t.TempDir(), sample))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := len(c.Services()); got != 3 {
		t.Fatalf("got %d services, want 3", got)
	}
	svc, ok := c.Service("upscale")
	if !ok || svc.Parameters[1].DefaultValue != 2.0 || !svc.HasInputSlot("input_image") {
		t.Errorf("got %+v", svc)
	}
	if _, ok := c.Service("nope"); ok {
		t.Error("unknown id should not be found")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `{`, "parse catalog"},
		{"not an array", `{"id": "x"}`, "invalid catalog"},
		{"bad category", `[{"id": "x", "name": "X", "category": "audio", "parameters": []}]`, "invalid catalog"},
		{"parameter without type", `[{"id": "x", "name": "X", "category": "image", "parameters": [{"name": "p"}]}]`, "invalid catalog"},
		{"duplicate", `[{"id": "x", "name": "X", "category": "image", "parameters": []}, {"id": "x", "name": "Y", "category": "image", "parameters": []}]`, "duplicate service id x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want an error containing %q", err, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	c, err := Load(writeCatalog(t, t.TempDir(), sample))
	if err != nil {
		t.Fatal(err)
	}
	remote := c.Filter(false, nil)
	if len(remote) != 1 || remote[0].ID != "upscale" {
		t.Errorf("remote: got %v", remote)
	}
	local := c.Filter(true, []string{"trellis", "i2v", "missing"})
	if len(local) != 2 || local[0].ID != "i2v" || local[1].ID != "trellis" {
		t.Errorf("local: got %v", local)
	}
	if got := c.Filter(true, nil); len(got) != 0 {
		t.Errorf("local without a list: got %v", got)
	}
}

func TestWatch_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, sample)
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	changed := make(chan int, 4)
	c.OnChange(func(s []core.AIService) { changed <- len(s) })
	if err := c.Watch(context.Background()); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	defer c.Close()

	writeCatalog(t, dir, `[{"id": "only", "name": "Only", "category": "image", "parameters": []}]`)
	select {
	case n := <-changed:
		if n != 1 {
			t.Errorf("got %d services after reload, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}

	writeCatalog(t, dir, `not json`)
	time.Sleep(3 * reloadDebounce)
	if _, ok := c.Service("only"); !ok {
		t.Error("a broken file should keep the previous services")
	}
}
