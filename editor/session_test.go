package editor

import (
	"canvas-studio/catalog"
	"canvas-studio/config"
	"canvas-studio/core"
	"canvas-studio/gesture"
	"canvas-studio/imaging"
	"canvas-studio/jobs"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events map[string]int
}

func (r *recorder) Notify(_, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[event]++
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

type countingUploader struct {
	calls atomic.Int32
}

func (u *countingUploader) Upload(_ context.Context, _ []byte, filename string) (string, error) {
	u.calls.Add(1)
	return "https://uploads.example/" + filename, nil
}

type completedExecutor struct {
	url string
}

func (e completedExecutor) Submit(context.Context, core.AIService, map[string]any) (*core.ExecutionResponse, error) {
	return &core.ExecutionResponse{Status: "COMPLETED", Output: &core.ExecutionOutput{Result: e.url}}, nil
}

func (e completedExecutor) Status(context.Context, string) (*core.ExecutionResponse, error) {
	return nil, errors.New("not polled")
}

type pngFetcher struct {
	data []byte
}

func (f pngFetcher) Fetch(context.Context, string) ([]byte, error) { return f.data, nil }

type opaqueMatter struct{}

func (opaqueMatter) RemoveBackground(_ context.Context, img image.Image) (image.Image, error) {
	b := img.Bounds()
	return imaging.Fill(b.Dx(), b.Dy(), color.RGBA{G: 255, A: 128}), nil
}

type matterLoader struct{}

func (matterLoader) Load(context.Context) (core.Matter, error) { return opaqueMatter{}, nil }

type stillRenderer struct{}

func (stillRenderer) Render(context.Context, string) (image.Image, error) {
	return imaging.Fill(40, 30, color.White), nil
}

type fakeVideo struct{}

func (fakeVideo) Size() (int, int)             { return 640, 360 }
func (fakeVideo) Duration() float64            { return 4.5 }
func (fakeVideo) FrameAt(float64) image.Image { return imaging.Fill(8, 8, color.Black) }

func hidden(name string) core.Parameter {
	ui := false
	return core.Parameter{Name: name, Type: "image", UI: &ui}
}

var services = []core.AIService{
	{ID: "upscale", Name: "Upscale", Category: core.CategoryImage, Parameters: []core.Parameter{hidden("input_image")}},
	{ID: "blend", Name: "Blend", Category: core.CategoryImage, Parameters: []core.Parameter{hidden("input_image1"), hidden("input_image2")}},
}

type fixture struct {
	s        *Session
	uploader *countingUploader
	events   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	result, err := imaging.EncodePNG(imaging.Fill(64, 48, color.RGBA{B: 255, A: 255}))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{uploader: &countingUploader{}, events: &recorder{}}
	settings := config.Settings{Token: "tok", MaxDimension: 1024, MaxDimensionEnabled: true}
	f.s = NewSession("s1", Deps{
		Catalog:  catalog.New(services),
		Settings: func() config.Settings { return settings },
		Endpoints: func(config.Settings) (core.Uploader, core.Executor) {
			return f.uploader, completedExecutor{url: "https://results.example/out.png"}
		},
		Materializer: &jobs.Materializer{Fetcher: pngFetcher{data: result}},
		Matting:      matterLoader{},
		GLBRenderer:  stillRenderer{},
		Notifier:     f.events,
		StatusDelay:  time.Millisecond,
	})
	t.Cleanup(f.s.Close)
	return f
}

// seed puts layers on the canvas as the first history entry.
func (f *fixture) seed(stack ...core.Layer) {
	f.s.repo.Append(stack...)
	f.s.hist.Seed(f.s.repo.All(), nil)
}

func imageLayer(id string, x, y, w, h float64) core.Layer {
	return core.Layer{
		ID: id, Kind: core.KindImage, Name: id, X: x, Y: y, Width: w, Height: h, Visible: true,
		Image: &core.ImagePayload{Raster: imaging.Fill(int(w), int(h), color.RGBA{R: 255, A: 255})},
	}
}

func mustLayer(t *testing.T, s *Session, id string) core.Layer {
	t.Helper()
	l, ok := s.Layer(id)
	if !ok {
		t.Fatalf("layer %s not found", id)
	}
	return l
}

func TestDragThenUndo(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 0, 0, 100, 100))
	before := f.s.hist.Len()

	handled := f.s.HandleGestures([]GestureEvent{
		{Type: "pointerdown", Pointer: &gesture.PointerEvent{X: 50, Y: 50}},
		{Type: "pointermove", Pointer: &gesture.PointerEvent{X: 100, Y: 80}},
		{Type: "pointerup"},
		{Type: "bogus"},
	})
	if handled != 3 {
		t.Errorf("handled %d events, want 3", handled)
	}
	if l := mustLayer(t, f.s, "a"); l.X != 50 || l.Y != 30 {
		t.Errorf("got (%v,%v), want (50,30)", l.X, l.Y)
	}
	if got := f.s.hist.Len(); got != before+1 {
		t.Errorf("history len: got %d, want %d", got, before+1)
	}

	if !f.s.Undo() {
		t.Fatal("undo failed")
	}
	if l := mustLayer(t, f.s, "a"); l.X != 0 || l.Y != 0 {
		t.Errorf("after undo got (%v,%v), want (0,0)", l.X, l.Y)
	}
	if !f.s.Redo() {
		t.Fatal("redo failed")
	}
	if l := mustLayer(t, f.s, "a"); l.X != 50 {
		t.Errorf("after redo got x=%v, want 50", l.X)
	}
}

func TestRemoveBackground(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 10, 40, 100, 60))
	f.s.Select("a")
	before := f.s.hist.Len()

	if n := f.s.RemoveBackground(context.Background()); n != 1 {
		t.Fatalf("queued %d, want 1", n)
	}
	f.s.Wait()

	all := f.s.Layers()
	if len(all) != 2 {
		t.Fatalf("got %d layers, want 2", len(all))
	}
	out := all[1]
	if out.Name != "a (BG Removed)" || out.X != 30 || out.Y != 60 || out.Width != 100 || out.Height != 60 {
		t.Errorf("got %+v", out)
	}
	if got := f.s.Selected(); len(got) != 1 || got[0] != "a" {
		t.Errorf("selection changed to %v", got)
	}
	if got := f.s.hist.Len(); got != before+1 {
		t.Errorf("history len: got %d, want %d", got, before+1)
	}
	if st := f.s.BackgroundRemoval(); st.Processing || len(st.Queue) != 0 {
		t.Errorf("got state %+v, want idle", st)
	}
	if f.events.count(EventBGRemoval) == 0 {
		t.Error("expected queue notifications")
	}
}

func TestSubmitJob_InputMismatch(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 0, 0, 100, 100), imageLayer("b", 200, 0, 100, 100))
	f.s.Select("a")

	_, err := f.s.SubmitJob(context.Background(), "blend", nil)
	if !errors.Is(err, ErrInputMismatch) {
		t.Fatalf("got %v, want ErrInputMismatch", err)
	}
	if n := len(f.s.Jobs()); n != 0 {
		t.Errorf("got %d jobs, want none", n)
	}
	if n := f.uploader.calls.Load(); n != 0 {
		t.Errorf("got %d uploads, want none", n)
	}

	if _, err := f.s.SubmitJob(context.Background(), "nope", nil); !errors.Is(err, ErrUnknownService) {
		t.Errorf("got %v, want ErrUnknownService", err)
	}
}

func TestSubmitJob_Completed(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 10, 20, 100, 80))
	f.s.Select("a")
	before := f.s.hist.Len()

	job, err := f.s.SubmitJob(context.Background(), "upscale", map[string]any{"prompt": "sharper"})
	if err != nil {
		t.Fatalf("SubmitJob() failed: %v", err)
	}
	f.s.Wait()

	all := f.s.Layers()
	if len(all) != 2 {
		t.Fatalf("got %d layers, want 2", len(all))
	}
	result := all[1]
	if got := f.s.Selected(); len(got) != 1 || got[0] != result.ID {
		t.Errorf("got selection %v, want the result %s", got, result.ID)
	}
	if result.X != 10 || result.Y != 20 || result.Width != 100 || result.Height != 80 {
		t.Errorf("got %+v, want the input's box", result)
	}
	if got := f.s.hist.Len(); got != before+1 {
		t.Errorf("history len: got %d, want %d", got, before+1)
	}

	done, ok := f.s.Job(job.ID)
	if !ok || done.APIStatus != core.APIStatusCompleted || done.Progress != 100 {
		t.Errorf("got %+v", done)
	}
	if n := f.uploader.calls.Load(); n != 1 {
		t.Errorf("got %d uploads, want 1", n)
	}
	if f.events.count(EventJob) == 0 {
		t.Error("expected job notifications")
	}
	if !f.s.DismissJob(job.ID) || len(f.s.Jobs()) != 0 {
		t.Error("a finished job should be dismissable")
	}
}

func TestAddUploadedImages_Grid(t *testing.T) {
	f := newFixture(t)
	var uploads []Upload
	for _, name := range []string{"one", "two", "three", "four"} {
		uploads = append(uploads, Upload{Name: name, Image: imaging.Fill(100, 48, color.Black)})
	}
	ids := f.s.AddUploadedImages(uploads)
	if len(ids) != 4 {
		t.Fatalf("got %d ids", len(ids))
	}

	first := mustLayer(t, f.s, ids[0])
	if first.Name != "one" || first.X != 430 || first.Y != 216 {
		t.Errorf("first: got %+v", first)
	}
	last := mustLayer(t, f.s, ids[3])
	if last.X != 750 || last.Y != 536 {
		t.Errorf("last: got (%v,%v), want (750,536)", last.X, last.Y)
	}
	if got := f.s.Selected(); len(got) != 1 || got[0] != ids[3] {
		t.Errorf("got selection %v, want the last upload", got)
	}
	if got := f.s.hist.Len(); got != 2 {
		t.Errorf("history len: got %d, want 2", got)
	}
}

func TestAddUploadedImages_CropsAndFits(t *testing.T) {
	f := newFixture(t)
	img := imaging.Transparent(3000, 1000)
	for y := 100; y < 700; y++ {
		for x := 0; x < 2000; x++ {
			img.Set(x, y, color.Black)
		}
	}
	l := mustLayer(t, f.s, f.s.AddImageLayer("wide", img))
	if l.Width != 1024 || l.Height != 308 {
		t.Errorf("got %vx%v, want 1024x308", l.Width, l.Height)
	}
	if b := l.Image.Raster.Bounds(); b.Dx() != 2000 || b.Dy() != 600 {
		t.Errorf("got raster %v, want the cropped 2000x600", b)
	}
}

func TestTextLayer(t *testing.T) {
	f := newFixture(t)
	id := f.s.AddTextLayer()
	l := mustLayer(t, f.s, id)
	if l.Name != "Text Layer" || l.Text.Content != "Text" || l.Text.FontFamily != "Arial" || l.Text.Color != "#000000" {
		t.Errorf("got %+v %+v", l, l.Text)
	}
	if l.Width != 50 || l.Height != 34 || l.X != 615 || l.Y != 383 {
		t.Errorf("got box (%v,%v,%v,%v)", l.X, l.Y, l.Width, l.Height)
	}

	before := f.s.hist.Len()
	size := 48.0
	content := "Hello"
	if err := f.s.UpdateText(id, TextPatch{Content: &content, FontSize: &size}); err != nil {
		t.Fatalf("UpdateText() failed: %v", err)
	}
	l = mustLayer(t, f.s, id)
	if l.Text.Content != "Hello" || l.Height != 58 {
		t.Errorf("got %+v height %v", l.Text, l.Height)
	}
	if f.s.hist.Len() != before {
		t.Error("text edits should not record history")
	}

	img := f.s.AddEmptyImageLayer(10, 10, "1:1", 4)
	if err := f.s.UpdateText(img, TextPatch{Content: &content}); !errors.Is(err, ErrNotText) {
		t.Errorf("got %v, want ErrNotText", err)
	}
}

func TestParseFontSize(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"36", 36},
		{"12.5", 12},
		{" 40px", 40},
		{"abc", 24},
		{"", 24},
		{"3", 8},
		{"900", 200},
	}
	for _, tt := range tests {
		if got := ParseFontSize(tt.in); got != tt.want {
			t.Errorf("ParseFontSize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAddEmptyImageLayer(t *testing.T) {
	f := newFixture(t)
	l := mustLayer(t, f.s, f.s.AddEmptyImageLayer(513, 300, "16:9", 8))
	if l.Name != "Empty Image 16:9 (520x304)" || l.Width != 520 || l.Height != 304 {
		t.Errorf("got %+v", l)
	}
	if l.X != 640-260 || l.Y != 400-152 {
		t.Errorf("got (%v,%v), want the layer centred", l.X, l.Y)
	}
}

func TestCaptureCanvasAsLayer(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 10, 10, 40, 30))
	l := mustLayer(t, f.s, f.s.CaptureCanvasAsLayer())
	if l.Name != "Canvas Layer" || l.X != 100 || l.Y != 100 {
		t.Errorf("got %+v", l)
	}
	if math.Abs(l.Width-40) > 2 || math.Abs(l.Height-30) > 2 {
		t.Errorf("got %vx%v, want about 40x30", l.Width, l.Height)
	}
	if got := f.s.Selected(); len(got) != 1 || got[0] != l.ID {
		t.Errorf("got selection %v", got)
	}
}

func TestMoveAndDelete(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 0, 0, 10, 10), imageLayer("b", 0, 0, 10, 10), imageLayer("c", 0, 0, 10, 10))

	moved, err := f.s.Move("a", "top")
	if err != nil || !moved {
		t.Fatalf("Move() = %v, %v", moved, err)
	}
	order := ""
	for _, l := range f.s.Layers() {
		order += l.ID
	}
	if order != "bca" {
		t.Errorf("got order %s, want bca", order)
	}
	if moved, _ := f.s.Move("a", "up"); moved {
		t.Error("the top layer cannot move up")
	}
	if _, err := f.s.Move("a", "sideways"); !errors.Is(err, ErrUnknownDirection) {
		t.Errorf("got %v, want ErrUnknownDirection", err)
	}

	f.s.Select("a", "b")
	before := f.s.hist.Len()
	if n := f.s.DeleteSelected(); n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	if len(f.s.Layers()) != 1 || len(f.s.Selected()) != 0 || f.s.hist.Len() != before+1 {
		t.Errorf("got %d layers, selection %v", len(f.s.Layers()), f.s.Selected())
	}
	if n := f.s.DeleteSelected(); n != 0 {
		t.Errorf("got %d with nothing selected", n)
	}

	if err := f.s.SetVisible("c", false); err != nil || mustLayer(t, f.s, "c").Visible {
		t.Errorf("SetVisible() = %v", err)
	}
	if err := f.s.Rename("gone", "x"); err == nil {
		t.Error("renaming a missing layer should fail")
	}
}

func TestExportAndCopy(t *testing.T) {
	f := newFixture(t)
	f.s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	f.seed(imageLayer("a", 5, 5, 30, 20))
	f.s.Rename("a", "My  layer")

	exp, err := f.s.ExportLayer("a")
	if err != nil {
		t.Fatalf("ExportLayer() failed: %v", err)
	}
	if exp.FileName != "My_layer-TostAI-1700000000000.png" || exp.ContentType != "image/png" {
		t.Errorf("got %+v", exp)
	}
	img, _, err := imaging.Decode(exp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Errorf("got %v, want 30x20", b)
	}

	model := f.s.AddModelLayer("chair", "https://x/chair.glb")
	exp, err = f.s.ExportLayer(model)
	if err != nil || exp.URL != "https://x/chair.glb" || exp.FileName != "chair-TostAI-1700000000000.glb" {
		t.Errorf("got %+v, %v", exp, err)
	}
	if _, err := f.s.CopyLayer(model); !errors.Is(err, ErrNotRaster) {
		t.Errorf("got %v, want ErrNotRaster", err)
	}
	if data, err := f.s.CopyLayer("a"); err != nil || len(data) == 0 {
		t.Errorf("CopyLayer() = %d bytes, %v", len(data), err)
	}
}

func TestModelThumbnail(t *testing.T) {
	f := newFixture(t)
	id := f.s.AddModelLayer("chair", "https://x/chair.glb")
	f.s.Wait()

	model := mustLayer(t, f.s, id)
	all := f.s.Layers()
	if len(all) != 2 {
		t.Fatalf("got %d layers, want the model and its thumbnail", len(all))
	}
	thumb := all[1]
	if thumb.Name != "chair Thumbnail" || thumb.X != model.X+model.Width+20 || thumb.Y != model.Y {
		t.Errorf("got %+v", thumb)
	}
	if !thumb.Image.IsGLBThumbnail || thumb.Image.GLBURL != "https://x/chair.glb" {
		t.Errorf("got %+v", thumb.Image)
	}
}

func TestVideoControls(t *testing.T) {
	f := newFixture(t)
	id := f.s.AddVideoLayer("clip", "https://x/clip.mp4", fakeVideo{})
	l := mustLayer(t, f.s, id)
	if l.Width != 640 || l.Height != 360 || l.Video.Duration != 4.5 {
		t.Errorf("got %+v", l)
	}

	if err := f.s.Play(id); err != nil {
		t.Fatal(err)
	}
	if !f.s.videos.IsPlaying(id) || !mustLayer(t, f.s, id).Video.Playing {
		t.Error("video should be playing")
	}
	if err := f.s.Pause(id); err != nil {
		t.Fatal(err)
	}
	if f.s.videos.IsPlaying(id) || mustLayer(t, f.s, id).Video.Playing {
		t.Error("video should be paused")
	}

	pos, err := f.s.Seek(id, 100)
	if err != nil || pos != 4.5 || mustLayer(t, f.s, id).Video.CurrentTime != 4.5 {
		t.Errorf("Seek() = %v, %v", pos, err)
	}

	text := f.s.AddTextLayer()
	if err := f.s.Play(text); !errors.Is(err, ErrNotVideo) {
		t.Errorf("got %v, want ErrNotVideo", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 1, 2, 30, 20))
	f.s.Select("a")
	f.s.SetViewport(core.Viewport{Zoom: 2})
	f.s.AddTextLayer()

	data, err := f.s.EncodeDocument()
	if err != nil {
		t.Fatalf("EncodeDocument() failed: %v", err)
	}

	g := newFixture(t)
	if err := g.s.DecodeDocument(data); err != nil {
		t.Fatalf("DecodeDocument() failed: %v", err)
	}
	if got := len(g.s.Layers()); got != 2 {
		t.Fatalf("got %d layers, want 2", got)
	}
	a := mustLayer(t, g.s, "a")
	if b := a.Image.Raster.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Errorf("got raster %v", b)
	}
	if g.s.Viewport().Zoom != 2 || g.s.hist.Len() != 1 || g.s.hist.CanUndo() {
		t.Error("loading should restore the viewport and start a fresh history")
	}

	if err := g.s.DecodeDocument([]byte("{")); err == nil {
		t.Error("expected a parse error")
	}
}

func TestFrame(t *testing.T) {
	f := newFixture(t)
	f.seed(imageLayer("a", 0, 0, 30, 20))
	data, err := f.s.Frame(64, 48)
	if err != nil {
		t.Fatal(err)
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("got %v", b)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Deps{})
	s := r.Create()
	if got, ok := r.Get(s.ID); !ok || got != s {
		t.Fatal("created session not found")
	}
	if r.Len() != 1 {
		t.Errorf("got %d sessions", r.Len())
	}
	if ids := r.IDs(); len(ids) != 1 || ids[0] != s.ID {
		t.Errorf("got ids %v", ids)
	}
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("got %v, want ErrSessionNotFound", err)
	}
	if !r.Delete(s.ID) || r.Delete(s.ID) {
		t.Error("delete should succeed exactly once")
	}
	r.Create()
	r.Close()
	if r.Len() != 0 {
		t.Error("close should forget every session")
	}
}
