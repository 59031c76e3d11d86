package bgremoval

import (
	"canvas-studio/core"
	"canvas-studio/imaging"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeCanvas struct {
	mu     sync.Mutex
	layers map[string]core.Layer
	added  []core.Layer
	states []State
}

func newFakeCanvas(layers ...core.Layer) *fakeCanvas {
	c := &fakeCanvas{layers: make(map[string]core.Layer)}
	for _, l := range layers {
		c.layers[l.ID] = l
	}
	return c
}

func (c *fakeCanvas) Layer(id string) (core.Layer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.layers[id]
	return l, ok
}

func (c *fakeCanvas) AppendLayer(l core.Layer) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.ID = fmt.Sprintf("bg-%d", len(c.added)+1)
	c.added = append(c.added, l)
	c.layers[l.ID] = l
	return l.ID
}

func (c *fakeCanvas) QueueChanged(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *fakeCanvas) results() []core.Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Layer(nil), c.added...)
}

func (c *fakeCanvas) errorReports() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.states {
		if s.Error != "" {
			n++
		}
	}
	return n
}

// fakeMatter fails for rasters of width 13 and tracks how many calls overlap.
type fakeMatter struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32
	release chan struct{}
}

func (m *fakeMatter) RemoveBackground(_ context.Context, img image.Image) (image.Image, error) {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	m.calls.Add(1)
	if m.release != nil {
		<-m.release
	}
	b := img.Bounds()
	if b.Dx() == 13 {
		return nil, errors.New("inference failed")
	}
	return imaging.Transparent(b.Dx(), b.Dy()), nil
}

type fakeLoader struct {
	matter *fakeMatter
	err    error
	loads  atomic.Int32
}

func (l *fakeLoader) Load(context.Context) (core.Matter, error) {
	l.loads.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.matter, nil
}

func imageLayer(id string, w int) core.Layer {
	return core.Layer{
		ID: id, Kind: core.KindImage, Name: "Photo " + id, X: 10, Y: 30, Width: 200, Height: 100, Rotation: 15, Visible: true,
		Image: &core.ImagePayload{Raster: imaging.Fill(w, 8, color.White)},
	}
}

func TestQueue_ProducesOffsetLayer(t *testing.T) {
	canvas := newFakeCanvas(imageLayer("a", 16))
	loader := &fakeLoader{matter: &fakeMatter{}}
	q := NewQueue(canvas, loader, nil)

	if n := q.Enqueue(context.Background(), "a"); n != 1 {
		t.Fatalf("got %d accepted, want 1", n)
	}
	q.Wait()

	added := canvas.results()
	if len(added) != 1 {
		t.Fatalf("got %d layers, want 1", len(added))
	}
	l := added[0]
	if l.Name != "Photo a (BG Removed)" || l.X != 30 || l.Y != 50 || l.Width != 200 || l.Height != 100 || l.Rotation != 15 {
		t.Errorf("got %+v", l)
	}
	if b := l.Image.Raster.Bounds(); b.Dx() != 16 || b.Dy() != 8 {
		t.Errorf("got matte %v, want the source size", b)
	}
	if s := q.State(); s.Processing || len(s.Queue) != 0 || s.Current != "" {
		t.Errorf("got state %+v after drain", s)
	}
}

func TestQueue_FiltersLayers(t *testing.T) {
	text := core.Layer{ID: "t", Kind: core.KindText, Text: &core.TextPayload{Content: "hi"}}
	canvas := newFakeCanvas(imageLayer("a", 16), text)
	matter := &fakeMatter{release: make(chan struct{})}
	q := NewQueue(canvas, &fakeLoader{matter: matter}, nil)

	if n := q.Enqueue(context.Background(), "a", "a", "t", "missing"); n != 1 {
		t.Errorf("got %d accepted, want only the image", n)
	}
	if n := q.Enqueue(context.Background(), "a"); n != 0 {
		t.Errorf("got %d accepted, want 0 for a queued layer", n)
	}
	close(matter.release)
	q.Wait()
	if got := len(canvas.results()); got != 1 {
		t.Errorf("got %d layers, want 1", got)
	}
}

func TestQueue_Sequential(t *testing.T) {
	var layers []core.Layer
	var ids []string
	for i := 0; i < 5; i++ {
		l := imageLayer(fmt.Sprintf("l%d", i), 16)
		layers = append(layers, l)
		ids = append(ids, l.ID)
	}
	canvas := newFakeCanvas(layers...)
	matter := &fakeMatter{}
	loader := &fakeLoader{matter: matter}
	q := NewQueue(canvas, loader, nil)

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), id)
		}()
	}
	wg.Wait()
	q.Wait()

	if matter.maxSeen.Load() != 1 {
		t.Errorf("got %d concurrent inferences, want 1", matter.maxSeen.Load())
	}
	if got := len(canvas.results()); got != 5 {
		t.Errorf("got %d layers, want 5", got)
	}
	if loader.loads.Load() < 1 {
		t.Error("model never loaded")
	}
}

func TestQueue_ModelLoadedOnce(t *testing.T) {
	canvas := newFakeCanvas(imageLayer("a", 16), imageLayer("b", 16))
	loader := &fakeLoader{matter: &fakeMatter{}}
	q := NewQueue(canvas, loader, nil)

	q.Enqueue(context.Background(), "a")
	q.Wait()
	q.Enqueue(context.Background(), "b")
	q.Wait()

	if loader.loads.Load() != 1 {
		t.Errorf("got %d loads, want 1", loader.loads.Load())
	}
}

func TestQueue_PerLayerFailureSkips(t *testing.T) {
	canvas := newFakeCanvas(imageLayer("a", 16), imageLayer("bad", 13), imageLayer("c", 16))
	matter := &fakeMatter{}
	q := NewQueue(canvas, &fakeLoader{matter: matter}, nil)

	q.Enqueue(context.Background(), "a", "bad", "c")
	q.Wait()

	added := canvas.results()
	if len(added) != 2 || added[0].Name != "Photo a (BG Removed)" || added[1].Name != "Photo c (BG Removed)" {
		t.Errorf("got %+v", added)
	}
	if matter.calls.Load() != 3 {
		t.Errorf("got %d calls, want 3", matter.calls.Load())
	}
	if canvas.errorReports() != 0 {
		t.Error("a per-layer failure should not be reported as a queue error")
	}
}

func TestQueue_LoadFailureClearsQueue(t *testing.T) {
	canvas := newFakeCanvas(imageLayer("a", 16), imageLayer("b", 16))
	loader := &fakeLoader{err: errors.New("weights missing")}
	q := NewQueue(canvas, loader, nil)

	q.Enqueue(context.Background(), "a", "b")
	q.Wait()

	if canvas.errorReports() != 1 {
		t.Errorf("got %d error reports, want 1", canvas.errorReports())
	}
	if s := q.State(); s.Processing || len(s.Queue) != 0 {
		t.Errorf("got %+v, want an idle empty queue", s)
	}
	if len(canvas.results()) != 0 {
		t.Error("no layer expected")
	}

	loader.err = nil
	loader.matter = &fakeMatter{}
	q.Enqueue(context.Background(), "a")
	q.Wait()
	if len(canvas.results()) != 1 || loader.loads.Load() != 2 {
		t.Errorf("retry: got %d layers after %d loads", len(canvas.results()), loader.loads.Load())
	}
}

func TestQueue_NoLoader(t *testing.T) {
	canvas := newFakeCanvas(imageLayer("a", 16))
	q := NewQueue(canvas, nil, nil)
	q.Enqueue(context.Background(), "a")
	q.Wait()
	if canvas.errorReports() != 1 {
		t.Errorf("got %d error reports, want 1", canvas.errorReports())
	}
}
