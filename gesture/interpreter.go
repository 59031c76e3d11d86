// Package gesture turns pointer, touch and wheel streams into layer
// transforms, selection changes and viewport moves.
package gesture

import (
	"canvas-studio/core"
	"canvas-studio/geometry"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r2"
)

type Mode int

const (
	Idle Mode = iota
	Panning
	Dragging
	Resizing
	Rotating
)

func (m Mode) String() string {
	switch m {
	case Panning:
		return "panning"
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	case Rotating:
		return "rotating"
	}
	return "idle"
}

const (
	ButtonPrimary = 0
	ButtonMiddle  = 1
)

// Target is the editor state a gesture reads and mutates. Implementations
// are called from a single goroutine at a time.
type Target interface {
	// Layers returns the stack in z-order.
	Layers() []core.Layer
	Find(id string) (core.Layer, bool)
	// Selected returns live selected ids in selection order.
	Selected() []string
	Select(ids ...string)
	Toggle(id string)
	ClearSelection()
	Duplicate(id string) (core.Layer, error)
	// Apply writes back layers by id.
	Apply(layers ...core.Layer)
	Record()
	Viewport() core.Viewport
	SetViewport(v core.Viewport)
}

type (
	PointerEvent struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Button int     `json:"button"`
		Shift  bool    `json:"shiftKey"`
		Alt    bool    `json:"altKey"`
		Ctrl   bool    `json:"ctrlKey"`
		Meta   bool    `json:"metaKey"`
	}

	TouchPoint struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	TouchEvent struct {
		Touches []TouchPoint `json:"touches"`
	}

	WheelEvent struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		DeltaY float64 `json:"deltaY"`
	}
)

func (e PointerEvent) screen() r2.Vec {
	return r2.Vec{X: e.X, Y: e.Y}
}

func (p TouchPoint) vec() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// Interpreter holds the transient state of the gesture in progress.
type Interpreter struct {
	target Target
	text   core.TextMeasurer

	mode        Mode
	duplicating bool
	handle      geometry.Handle

	dragStart    r2.Vec
	panStart     r2.Vec
	initialDrag  map[string]r2.Vec
	initialLayer *core.Layer

	touchStart  *r2.Vec
	dragDelta   r2.Vec
	pinchDist   float64
	pinchZoom   float64
	pinchActive bool
}

func NewInterpreter(target Target, text core.TextMeasurer) *Interpreter {
	return &Interpreter{target: target, text: text}
}

func (in *Interpreter) Mode() Mode {
	return in.mode
}

func (in *Interpreter) Duplicating() bool {
	return in.duplicating
}

func (in *Interpreter) ActiveHandle() geometry.Handle {
	return in.handle
}

// DragDelta is the screen-space offset previewed during a touch drag. It is
// display only until the touch ends.
func (in *Interpreter) DragDelta() r2.Vec {
	return in.dragDelta
}

func (in *Interpreter) toCanvas(screen r2.Vec) r2.Vec {
	v := in.target.Viewport()
	return geometry.ScreenToCanvas(screen, v.Pan, v.Zoom)
}

func (in *Interpreter) selectedLayers() []core.Layer {
	ids := in.target.Selected()
	out := make([]core.Layer, 0, len(ids))
	for _, id := range ids {
		if l, ok := in.target.Find(id); ok {
			out = append(out, l)
		}
	}
	return out
}

func (in *Interpreter) primary() (core.Layer, bool) {
	sel := in.selectedLayers()
	if len(sel) != 1 {
		return core.Layer{}, false
	}
	return sel[0], true
}

func (in *Interpreter) startDrag(p r2.Vec, layers ...core.Layer) {
	in.initialDrag = make(map[string]r2.Vec, len(layers))
	for _, l := range layers {
		in.initialDrag[l.ID] = r2.Vec{X: l.X, Y: l.Y}
	}
	in.mode = Dragging
	in.dragStart = p
}

func (in *Interpreter) startTransform(p r2.Vec, layer core.Layer, handle geometry.Handle) {
	if handle == geometry.HandleRotate {
		in.mode = Rotating
	} else {
		in.mode = Resizing
	}
	in.handle = handle
	in.dragStart = p
	initial := core.CloneLayer(layer)
	in.initialLayer = &initial
}

func (in *Interpreter) duplicate(layers []core.Layer) []core.Layer {
	out := make([]core.Layer, 0, len(layers))
	for _, l := range layers {
		dup, err := in.target.Duplicate(l.ID)
		if err != nil {
			logrus.WithField("layer_id", l.ID).WithError(err).Warn("Could not duplicate layer")
			continue
		}
		out = append(out, dup)
	}
	return out
}

func layerIDs(layers []core.Layer) []string {
	ids := make([]string, len(layers))
	for i, l := range layers {
		ids[i] = l.ID
	}
	return ids
}

// PointerDown picks the gesture mode for a press at the event's screen point.
func (in *Interpreter) PointerDown(e PointerEvent) {
	screen := e.screen()

	if e.Button == ButtonMiddle || (e.Button == ButtonPrimary && e.Shift) {
		in.mode = Panning
		in.panStart = r2.Sub(screen, in.target.Viewport().Pan)
		return
	}

	p := in.toCanvas(screen)
	in.pressAt(p, e.Alt, e.Ctrl || e.Meta)
}

func (in *Interpreter) pressAt(p r2.Vec, duplicate, multi bool) {
	zoom := in.target.Viewport().Zoom

	if layer, ok := in.primary(); ok {
		if handle := geometry.HandleAtPosition(p, layer, zoom); handle != geometry.HandleNone {
			if duplicate {
				copies := in.duplicate([]core.Layer{layer})
				if len(copies) == 1 {
					in.target.Select(copies[0].ID)
					in.startDrag(p, copies...)
					in.duplicating = true
				}
				return
			}
			in.startTransform(p, layer, handle)
			return
		}
	}

	selected := in.selectedLayers()
	for _, layer := range selected {
		if !geometry.PointInLayer(p, layer) {
			continue
		}
		if duplicate {
			copies := in.duplicate(selected)
			in.target.Select(layerIDs(copies)...)
			in.startDrag(p, copies...)
			in.duplicating = true
			in.target.Record()
			return
		}
		in.startDrag(p, selected...)
		return
	}

	stack := in.target.Layers()
	for i := len(stack) - 1; i >= 0; i-- {
		layer := stack[i]
		if !layer.Visible || !geometry.PointInLayer(p, layer) {
			continue
		}
		switch {
		case duplicate:
			copies := in.duplicate([]core.Layer{layer})
			if len(copies) == 1 {
				in.target.Select(copies[0].ID)
				in.startDrag(p, copies...)
				in.duplicating = true
				in.target.Record()
			}
		case multi:
			in.target.Toggle(layer.ID)
		default:
			in.target.Select(layer.ID)
			in.startDrag(p, layer)
		}
		return
	}

	in.target.ClearSelection()
}

// PointerMove advances the active gesture.
func (in *Interpreter) PointerMove(e PointerEvent) {
	screen := e.screen()
	if in.mode == Panning {
		v := in.target.Viewport()
		v.Pan = r2.Sub(screen, in.panStart)
		in.target.SetViewport(v)
		return
	}
	p := in.toCanvas(screen)

	switch in.mode {
	case Dragging:
		in.drag(p)
	case Resizing:
		in.resize(p)
	case Rotating:
		in.rotate(p)
	}
}

func (in *Interpreter) drag(p r2.Vec) {
	if in.initialDrag == nil || len(in.target.Selected()) == 0 {
		return
	}
	delta := r2.Sub(p, in.dragStart)
	moved := make([]core.Layer, 0, len(in.initialDrag))
	for _, id := range in.target.Selected() {
		initial, ok := in.initialDrag[id]
		if !ok {
			continue
		}
		l, ok := in.target.Find(id)
		if !ok {
			continue
		}
		l.X, l.Y = initial.X+delta.X, initial.Y+delta.Y
		moved = append(moved, l)
	}
	in.target.Apply(moved...)
}

func (in *Interpreter) resize(p r2.Vec) {
	if in.initialLayer == nil || in.handle == geometry.HandleNone || len(in.target.Selected()) != 1 {
		return
	}
	initial := *in.initialLayer
	live, ok := in.target.Find(initial.ID)
	if !ok {
		return
	}

	if initial.Kind == core.KindText && initial.Text != nil && live.Text != nil {
		size := geometry.TextScale(initial, in.handle, p)
		live.Text.FontSize = size
		in.fitText(&live)
		in.target.Apply(live)
		return
	}

	resized := geometry.Resize(initial, in.handle, p)
	live.X, live.Y = resized.X, resized.Y
	live.Width, live.Height = resized.Width, resized.Height
	in.target.Apply(live)
}

// fitText re-derives a text layer's box from its content and font.
func (in *Interpreter) fitText(l *core.Layer) {
	if in.text == nil || l.Text == nil {
		return
	}
	measured := in.text.MeasureText(l.Text.Content, l.Text.FontSize, l.Text.FontFamily)
	l.Width, l.Height = geometry.TextBounds(measured, l.Text.FontSize)
}

func (in *Interpreter) rotate(p r2.Vec) {
	if in.initialLayer == nil || len(in.target.Selected()) != 1 {
		return
	}
	live, ok := in.target.Find(in.initialLayer.ID)
	if !ok {
		return
	}
	live.Rotation = geometry.RotationAt(*in.initialLayer, p)
	in.target.Apply(live)
}

// PointerUp commits one history snapshot for a finished transform and resets
// the transient state.
func (in *Interpreter) PointerUp() {
	if in.mode == Dragging || in.mode == Resizing || in.mode == Rotating {
		in.target.Record()
		logrus.WithField("mode", in.mode.String()).Debug("Gesture committed")
	}
	in.reset()
}

func (in *Interpreter) reset() {
	in.mode = Idle
	in.duplicating = false
	in.handle = geometry.HandleNone
	in.initialLayer = nil
	in.initialDrag = nil
}

// TouchStart handles one finger like a plain pointer press and two fingers
// as the start of a pinch.
func (in *Interpreter) TouchStart(e TouchEvent) {
	switch len(e.Touches) {
	case 1:
		screen := e.Touches[0].vec()
		in.touchStart = &screen
		in.pinchActive = false
		in.pressAt(in.toCanvas(screen), false, false)
	case 2:
		in.pinchDist = distance(e.Touches[0].vec(), e.Touches[1].vec())
		in.pinchZoom = in.target.Viewport().Zoom
		in.pinchActive = true
		if in.mode == Panning {
			in.mode = Idle
		}
	}
}

func (in *Interpreter) TouchMove(e TouchEvent) {
	switch len(e.Touches) {
	case 1:
		if in.touchStart == nil {
			return
		}
		screen := e.Touches[0].vec()
		p := in.toCanvas(screen)
		switch in.mode {
		case Dragging:
			if in.initialDrag == nil || len(in.target.Selected()) == 0 {
				return
			}
			zoom := in.target.Viewport().Zoom
			in.dragDelta = r2.Scale(zoom, r2.Sub(p, in.dragStart))
		case Resizing:
			in.resize(p)
		case Rotating:
			in.rotate(p)
		default:
			v := in.target.Viewport()
			v.Pan = r2.Add(v.Pan, r2.Sub(screen, *in.touchStart))
			in.target.SetViewport(v)
			in.touchStart = &screen
		}
	case 2:
		if !in.pinchActive || in.pinchDist == 0 {
			return
		}
		a, b := e.Touches[0].vec(), e.Touches[1].vec()
		newZoom := geometry.ClampZoom(in.pinchZoom * distance(a, b) / in.pinchDist)
		center := r2.Scale(0.5, r2.Add(a, b))
		v := in.target.Viewport()
		v.Pan = geometry.ZoomAt(center, v.Pan, v.Zoom, newZoom)
		v.Zoom = newZoom
		in.target.SetViewport(v)
	}
}

// TouchEnd applies a previewed drag to the selected layers and commits history.
func (in *Interpreter) TouchEnd() {
	if in.mode == Dragging && in.dragDelta != (r2.Vec{}) {
		zoom := in.target.Viewport().Zoom
		offset := r2.Scale(1/zoom, in.dragDelta)
		moved := make([]core.Layer, 0)
		for _, id := range in.target.Selected() {
			l, ok := in.target.Find(id)
			if !ok {
				continue
			}
			l.X += offset.X
			l.Y += offset.Y
			moved = append(moved, l)
		}
		in.target.Apply(moved...)
	}
	if in.mode == Dragging || in.mode == Resizing || in.mode == Rotating {
		in.target.Record()
	}
	in.dragDelta = r2.Vec{}
	in.touchStart = nil
	in.pinchActive = false
	in.pinchDist = 0
	in.reset()
}

// Wheel zooms by a fixed step around the pointer.
func (in *Interpreter) Wheel(e WheelEvent) {
	v := in.target.Viewport()
	factor := 1.1
	if e.DeltaY > 0 {
		factor = 0.9
	}
	newZoom := geometry.ClampZoom(v.Zoom * factor)
	v.Pan = geometry.ZoomAt(r2.Vec{X: e.X, Y: e.Y}, v.Pan, v.Zoom, newZoom)
	v.Zoom = newZoom
	in.target.SetViewport(v)
}

func distance(a, b r2.Vec) float64 {
	return r2.Norm(r2.Sub(a, b))
}
