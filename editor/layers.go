package editor

import (
	"canvas-studio/core"
	"canvas-studio/geometry"
	"canvas-studio/imaging"
	"canvas-studio/layers"
	"canvas-studio/render"
	"errors"
	"fmt"
	"image"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r2"
)

const (
	// GridSpacing separates the cells of a multi-image upload.
	GridSpacing = 320.0
	// CapturePosition is where a captured canvas layer is placed.
	CapturePosition = 100.0
	// ModelSize is the initial box of a 3D layer.
	ModelSize = 300.0
)

const (
	defaultText       = "Text"
	defaultFontFamily = "Arial"
	defaultColor      = "#000000"
)

var (
	ErrNotText          = errors.New("layer is not a text layer")
	ErrUnknownDirection = errors.New("unknown direction")
)

// Upload is one decoded image dropped onto the canvas.
type Upload struct {
	Name   string
	Image  image.Image
	Source string
}

// AddImageLayer places a single image at the viewport centre and selects it.
func (s *Session) AddImageLayer(name string, img image.Image) string {
	return s.AddUploadedImages([]Upload{{Name: name, Image: img}})[0]
}

// AddUploadedImages places uploads on a grid centred in the viewport. Each
// image is cropped to its visible pixels and fitted to the max dimension.
// The last one is selected and one history entry is recorded.
func (s *Session) AddUploadedImages(uploads []Upload) []string {
	if len(uploads) == 0 {
		return nil
	}
	settings := s.deps.Settings()
	cx, cy := s.viewCenter()
	n := len(uploads)
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := int(math.Ceil(float64(n) / float64(cols)))

	added := make([]core.Layer, 0, n)
	for i, u := range uploads {
		img := imaging.CropTransparent(u.Image)
		b := img.Bounds()
		w, h := imaging.FitMaxDimension(float64(b.Dx()), float64(b.Dy()), settings.MaxDimension, settings.MaxDimensionEnabled)
		ox := (float64(i%cols) - float64(cols-1)/2) * GridSpacing
		oy := (float64(i/cols) - float64(rows-1)/2) * GridSpacing
		added = append(added, core.Layer{
			Kind:    core.KindImage,
			Name:    u.Name,
			X:       cx - w/2 + ox,
			Y:       cy - h/2 + oy,
			Width:   w,
			Height:  h,
			Visible: true,
			Image:   &core.ImagePayload{Raster: img, Source: u.Source},
		})
	}

	s.mu.Lock()
	ids := s.repo.Append(added...)
	s.sel.Set(ids[len(ids)-1])
	s.record()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": s.ID, "layers": len(ids)}).Info("Images added")
	s.changed()
	return ids
}

// AddModelLayer adds a 3D layer at the viewport centre. Its thumbnail is
// made in the background.
func (s *Session) AddModelLayer(name, url string) string {
	cx, cy := s.viewCenter()
	id := s.addSelected(core.Layer{
		Kind:    core.KindModel3D,
		Name:    name,
		X:       cx - ModelSize/2,
		Y:       cy - ModelSize/2,
		Width:   ModelSize,
		Height:  ModelSize,
		Visible: true,
		Model:   &core.ModelPayload{URL: url},
	})
	s.scanModels()
	return id
}

// AddVideoLayer adds a decoded video at its fitted natural size.
func (s *Session) AddVideoLayer(name, url string, h core.VideoHandle) string {
	settings := s.deps.Settings()
	vw, vh := h.Size()
	w, hh := imaging.FitMaxDimension(float64(vw), float64(vh), settings.MaxDimension, settings.MaxDimensionEnabled)
	cx, cy := s.viewCenter()
	return s.addSelected(core.Layer{
		Kind:    core.KindVideo,
		Name:    name,
		X:       cx - w/2,
		Y:       cy - hh/2,
		Width:   w,
		Height:  hh,
		Visible: true,
		Video:   &core.VideoPayload{Handle: h, URL: url, Duration: h.Duration()},
	})
}

// AddTextLayer adds the default text centred in the viewport.
func (s *Session) AddTextLayer() string {
	w, h := geometry.TextBounds(s.measure(defaultText, geometry.DefaultFontSize, defaultFontFamily), geometry.DefaultFontSize)
	cx, cy := s.viewCenter()
	return s.addSelected(core.Layer{
		Kind:    core.KindText,
		Name:    "Text Layer",
		X:       cx - w/2,
		Y:       cy - h/2,
		Width:   w,
		Height:  h,
		Visible: true,
		Text: &core.TextPayload{
			Content:    defaultText,
			FontSize:   geometry.DefaultFontSize,
			FontFamily: defaultFontFamily,
			Color:      defaultColor,
		},
	})
}

// AddEmptyImageLayer adds a transparent raster whose sides are rounded up
// to divisor.
func (s *Session) AddEmptyImageLayer(width, height int, ratio string, divisor int) string {
	w := int(imaging.RoundUp(float64(width), divisor))
	h := int(imaging.RoundUp(float64(height), divisor))
	cx, cy := s.viewCenter()
	return s.addSelected(core.Layer{
		Kind:    core.KindImage,
		Name:    fmt.Sprintf("Empty Image %s (%dx%d)", ratio, w, h),
		X:       cx - float64(w)/2,
		Y:       cy - float64(h)/2,
		Width:   float64(w),
		Height:  float64(h),
		Visible: true,
		Image:   &core.ImagePayload{Raster: imaging.Transparent(w, h)},
	})
}

// CaptureCanvasAsLayer draws the visible canvas without selection or
// background, crops it to its content and adds it as a new layer.
func (s *Session) CaptureCanvasAsLayer() string {
	w, h := s.screen()
	scene := s.Scene()
	scene.DragDelta = r2.Vec{}
	img := imaging.CropTransparent(s.raster.Frame(scene, w, h, render.Options{HideSelection: true, SkipBackground: true}))
	b := img.Bounds()
	return s.addSelected(core.Layer{
		Kind:    core.KindImage,
		Name:    "Canvas Layer",
		X:       CapturePosition,
		Y:       CapturePosition,
		Width:   float64(b.Dx()),
		Height:  float64(b.Dy()),
		Visible: true,
		Image:   &core.ImagePayload{Raster: img},
	})
}

// addSelected appends l, selects it and records history.
func (s *Session) addSelected(l core.Layer) string {
	s.mu.Lock()
	id := s.repo.Append(l)[0]
	s.sel.Set(id)
	s.record()
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": s.ID, "layer_id": id, "kind": l.Kind}).Info("Layer added")
	s.changed()
	return id
}

func (s *Session) measure(text string, size float64, family string) float64 {
	if s.deps.Text == nil {
		return 0
	}
	return s.deps.Text.MeasureText(text, size, family)
}

// TextPatch holds the text properties to change. Nil fields are kept.
type TextPatch struct {
	Content    *string  `json:"text,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
	FontFamily *string  `json:"fontFamily,omitempty"`
	Color      *string  `json:"color,omitempty"`
}

var leadingInt = regexp.MustCompile(`^[-+]?\d+`)

// ParseFontSize reads the leading integer of a font size field, 24 when
// there is none, clamped to the supported range.
func ParseFontSize(v string) float64 {
	n, err := strconv.Atoi(leadingInt.FindString(strings.TrimSpace(v)))
	if err != nil {
		return geometry.DefaultFontSize
	}
	return geometry.Clamp(float64(n), geometry.MinFontSize, geometry.MaxFontSize)
}

// UpdateText edits a text layer and refits its box to the new text. Text
// edits do not record history.
func (s *Session) UpdateText(id string, patch TextPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.repo.Find(id)
	if !ok {
		return fmt.Errorf("update text %s: %w", id, layers.ErrNotFound)
	}
	if l.Kind != core.KindText || l.Text == nil {
		return ErrNotText
	}
	t := *l.Text
	if patch.Content != nil {
		t.Content = *patch.Content
	}
	if patch.FontSize != nil {
		t.FontSize = geometry.Clamp(*patch.FontSize, geometry.MinFontSize, geometry.MaxFontSize)
	}
	if patch.FontFamily != nil {
		t.FontFamily = *patch.FontFamily
	}
	if patch.Color != nil {
		t.Color = *patch.Color
	}
	w, h := geometry.TextBounds(s.measure(t.Content, t.FontSize, t.FontFamily), t.FontSize)

	err := s.repo.Update(id, func(l *core.Layer) {
		l.Text = &t
		l.Width, l.Height = w, h
	})
	if err == nil {
		s.changed()
	}
	return err
}

// SetVisible shows or hides a layer without recording history.
func (s *Session) SetVisible(id string, visible bool) error {
	err := s.repo.Update(id, func(l *core.Layer) { l.Visible = visible })
	if err == nil {
		s.changed()
	}
	return err
}

// Rename changes a layer's name without recording history.
func (s *Session) Rename(id, name string) error {
	err := s.repo.Update(id, func(l *core.Layer) { l.Name = name })
	if err == nil {
		s.changed()
	}
	return err
}

// DeleteSelected removes every selected layer, clears the selection and
// records history. It returns how many layers were removed.
func (s *Session) DeleteSelected() int {
	s.mu.Lock()
	ids := s.sel.Live(s.repo)
	if len(ids) == 0 {
		s.mu.Unlock()
		return 0
	}
	n := s.repo.Remove(ids...)
	s.sel.Clear()
	s.record()
	s.mu.Unlock()

	for _, id := range ids {
		s.videos.Forget(id)
	}
	s.loop.VideosChanged()
	logrus.WithFields(logrus.Fields{"session_id": s.ID, "layer_ids": ids}).Info("Layers deleted")
	return n
}

// Move changes a layer's z-order. direction is up, down, top or bottom. It
// reports whether the layer moved; a move records history.
func (s *Session) Move(id, direction string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved bool
	switch direction {
	case "up":
		moved = s.repo.MoveUp(id)
	case "down":
		moved = s.repo.MoveDown(id)
	case "top":
		moved = s.repo.MoveToTop(id)
	case "bottom":
		moved = s.repo.MoveToBottom(id)
	default:
		return false, fmt.Errorf("%w %q", ErrUnknownDirection, direction)
	}
	if moved {
		s.record()
		s.changed()
	}
	return moved, nil
}

// Undo restores the previous snapshot. It reports false at the oldest one.
func (s *Session) Undo() bool {
	s.mu.Lock()
	st, ok := s.hist.Undo()
	if ok {
		s.restore(st)
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// Redo reapplies the next snapshot. It reports false at the newest one.
func (s *Session) Redo() bool {
	s.mu.Lock()
	st, ok := s.hist.Redo()
	if ok {
		s.restore(st)
	}
	s.mu.Unlock()
	if ok {
		s.changed()
	}
	return ok
}

// restore replaces the stack and selection with st. Playback state is kept
// for videos that survive, the rest are stopped. Callers hold mu.
func (s *Session) restore(st core.HistoryState) {
	present := make(map[string]bool, len(st.Layers))
	for i := range st.Layers {
		l := &st.Layers[i]
		present[l.ID] = true
		if l.Video != nil {
			l.Video.Playing = s.videos.IsPlaying(l.ID)
		}
	}
	s.repo.Replace(st.Layers)
	s.sel.Set(st.Selection...)
	for _, id := range s.videos.Playing() {
		if !present[id] {
			s.videos.Forget(id)
		}
	}
	s.loop.VideosChanged()
}

// Export is a downloadable copy of a layer. Raster layers carry PNG data;
// video and 3D layers point at their source URL.
type Export struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"-"`
	URL         string `json:"url,omitempty"`
}

var whitespace = regexp.MustCompile(`\s+`)

func (s *Session) exportName(name, ext string) string {
	return fmt.Sprintf("%s-TostAI-%d.%s", whitespace.ReplaceAllString(name, "_"), s.now().UnixMilli(), ext)
}

func (s *Session) ExportLayer(id string) (Export, error) {
	l, ok := s.repo.Find(id)
	if !ok {
		return Export{}, fmt.Errorf("export %s: %w", id, layers.ErrNotFound)
	}
	switch l.Kind {
	case core.KindVideo:
		return Export{FileName: s.exportName(l.Name, "mp4"), ContentType: "video/mp4", URL: l.Video.URL}, nil
	case core.KindModel3D:
		return Export{FileName: s.exportName(l.Name, "glb"), ContentType: "model/gltf-binary", URL: l.Model.URL}, nil
	}
	data, err := s.Rasterize(l)
	if err != nil {
		return Export{}, err
	}
	return Export{FileName: s.exportName(l.Name, "png"), ContentType: "image/png", Data: data}, nil
}

// CopyLayer returns a PNG of the layer for the clipboard.
func (s *Session) CopyLayer(id string) ([]byte, error) {
	l, ok := s.repo.Find(id)
	if !ok {
		return nil, fmt.Errorf("copy %s: %w", id, layers.ErrNotFound)
	}
	if l.Kind == core.KindModel3D {
		return nil, ErrNotRaster
	}
	return s.Rasterize(l)
}
