// Package geometry holds the pure coordinate math shared by hit testing,
// gesture handling and rendering. Angles on layers are in degrees; the
// rotation applied when drawing is the inverse of the one used by ToLocal.
package geometry

import (
	"math"

	"canvas-studio/core"

	"gonum.org/v1/gonum/spatial/r2"
)

type Handle string

const (
	HandleNone   Handle = ""
	HandleNW     Handle = "nw"
	HandleNE     Handle = "ne"
	HandleSW     Handle = "sw"
	HandleSE     Handle = "se"
	HandleN      Handle = "n"
	HandleE      Handle = "e"
	HandleS      Handle = "s"
	HandleW      Handle = "w"
	HandleRotate Handle = "rotate"
)

const (
	// HandleScreenSize is the handle hit box in screen pixels.
	HandleScreenSize = 8.0
	// RotateHandleDistance is the canvas distance of the rotate handle above the top edge.
	RotateHandleDistance = 30.0

	MinZoom = 0.1
	MaxZoom = 5.0

	MinFontSize     = 8.0
	MaxFontSize     = 200.0
	DefaultFontSize = 24.0
	MinTextWidth    = 50.0
	TextPadding     = 10.0
)

// IsCorner reports whether the handle sits on a corner of the bounding box.
func (h Handle) IsCorner() bool {
	return len(h) == 2
}

func (h Handle) has(c byte) bool {
	if h == HandleRotate {
		return false
	}
	for i := 0; i < len(h); i++ {
		if h[i] == c {
			return true
		}
	}
	return false
}

func ScreenToCanvas(p, pan r2.Vec, zoom float64) r2.Vec {
	return r2.Scale(1/zoom, r2.Sub(p, pan))
}

func CanvasToScreen(p, pan r2.Vec, zoom float64) r2.Vec {
	return r2.Add(r2.Scale(zoom, p), pan)
}

func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// ToLocal maps a canvas point into the layer's un-rotated, center-origin frame.
func ToLocal(p r2.Vec, layer core.Layer) r2.Vec {
	c := layer.Center()
	return r2.Sub(r2.Rotate(p, -Radians(layer.Rotation), c), c)
}

// FromLocal is the inverse of ToLocal.
func FromLocal(local r2.Vec, layer core.Layer) r2.Vec {
	c := layer.Center()
	return r2.Rotate(r2.Add(local, c), Radians(layer.Rotation), c)
}

func PointInLayer(p r2.Vec, layer core.Layer) bool {
	local := ToLocal(p, layer)
	return math.Abs(local.X) <= layer.Width/2 && math.Abs(local.Y) <= layer.Height/2
}

type HandlePos struct {
	Handle Handle
	Pos    r2.Vec
}

// HandlePositions returns the eight resize handles in local coordinates,
// corners first.
func HandlePositions(layer core.Layer) []HandlePos {
	hw, hh := layer.Width/2, layer.Height/2
	return []HandlePos{
		{HandleNW, r2.Vec{X: -hw, Y: -hh}},
		{HandleNE, r2.Vec{X: hw, Y: -hh}},
		{HandleSW, r2.Vec{X: -hw, Y: hh}},
		{HandleSE, r2.Vec{X: hw, Y: hh}},
		{HandleN, r2.Vec{X: 0, Y: -hh}},
		{HandleE, r2.Vec{X: hw, Y: 0}},
		{HandleS, r2.Vec{X: 0, Y: hh}},
		{HandleW, r2.Vec{X: -hw, Y: 0}},
	}
}

// RotateHandlePosition returns the rotate handle in local coordinates.
func RotateHandlePosition(layer core.Layer) r2.Vec {
	return r2.Vec{X: 0, Y: -layer.Height/2 - RotateHandleDistance}
}

// HandleAtPosition returns the handle of layer under the canvas point p, or
// HandleNone. The hit box shrinks as zoom grows so handles keep a constant
// screen size.
func HandleAtPosition(p r2.Vec, layer core.Layer, zoom float64) Handle {
	size := HandleScreenSize / zoom
	local := ToLocal(p, layer)

	near := func(pos r2.Vec) bool {
		return math.Abs(local.X-pos.X) < size && math.Abs(local.Y-pos.Y) < size
	}

	if near(RotateHandlePosition(layer)) {
		return HandleRotate
	}
	for _, h := range HandlePositions(layer) {
		if near(h.Pos) {
			return h.Handle
		}
	}
	return HandleNone
}

// Resize returns initial resized so that handle follows the canvas point p.
// The center stays fixed; corner handles keep the initial aspect ratio by
// deriving the height from the width.
func Resize(initial core.Layer, handle Handle, p r2.Vec) core.Layer {
	if handle == HandleNone || handle == HandleRotate {
		return initial
	}
	local := ToLocal(p, initial)
	c := initial.Center()

	w, h := initial.Width, initial.Height
	switch {
	case handle.has('e'):
		w = math.Max(core.MinLayerSize, local.X+initial.Width/2)
	case handle.has('w'):
		w = math.Max(core.MinLayerSize, initial.Width/2-local.X)
	}
	switch {
	case handle.has('s'):
		h = math.Max(core.MinLayerSize, local.Y+initial.Height/2)
	case handle.has('n'):
		h = math.Max(core.MinLayerSize, initial.Height/2-local.Y)
	}
	if handle.IsCorner() {
		ratio := initial.Width / initial.Height
		// The width floor is raised so the derived height also stays >= MinLayerSize.
		w = math.Max(w, core.MinLayerSize*ratio)
		h = w / ratio
	}

	out := initial
	out.Width, out.Height = w, h
	out.X, out.Y = c.X-w/2, c.Y-h/2
	return out
}

// TextScale returns the font size a text layer gets when handle follows p.
func TextScale(initial core.Layer, handle Handle, p r2.Vec) float64 {
	size := DefaultFontSize
	if initial.Text != nil && initial.Text.FontSize > 0 {
		size = initial.Text.FontSize
	}
	local := ToLocal(p, initial)

	scale := 1.0
	switch {
	case handle.has('e'):
		scale = math.Max(0.1, (local.X+initial.Width/2)/initial.Width)
	case handle.has('w'):
		scale = math.Max(0.1, (initial.Width/2-local.X)/initial.Width)
	case handle.has('s'):
		scale = math.Max(0.1, (local.Y+initial.Height/2)/initial.Height)
	case handle.has('n'):
		scale = math.Max(0.1, (initial.Height/2-local.Y)/initial.Height)
	}
	return Clamp(size*scale, MinFontSize, MaxFontSize)
}

// TextBounds derives a text layer's box from its measured advance.
func TextBounds(measured, fontSize float64) (width, height float64) {
	return math.Max(measured, MinTextWidth), fontSize + TextPadding
}

// RotationAt returns the rotation that points the rotate handle of initial at p.
func RotationAt(initial core.Layer, p r2.Vec) float64 {
	d := r2.Sub(p, initial.Center())
	return NormalizeRotation(math.Atan2(d.Y, d.X)*180/math.Pi + 90)
}

// NormalizeRotation wraps deg into [0, 360).
func NormalizeRotation(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	if r >= 360 {
		r = 0
	}
	return r
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func ClampZoom(z float64) float64 {
	return Clamp(z, MinZoom, MaxZoom)
}

// ZoomAt returns the pan that keeps the canvas point under the screen point
// anchor fixed when zoom changes to newZoom.
func ZoomAt(anchor, pan r2.Vec, zoom, newZoom float64) r2.Vec {
	point := ScreenToCanvas(anchor, pan, zoom)
	return r2.Sub(anchor, r2.Scale(newZoom, point))
}

// Bounds returns the axis-aligned bounding box of a rotated layer.
func Bounds(layer core.Layer) (lo, hi r2.Vec) {
	hw, hh := layer.Width/2, layer.Height/2
	corners := []r2.Vec{{X: -hw, Y: -hh}, {X: hw, Y: -hh}, {X: -hw, Y: hh}, {X: hw, Y: hh}}
	lo = r2.Vec{X: math.Inf(1), Y: math.Inf(1)}
	hi = r2.Vec{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, c := range corners {
		p := FromLocal(c, layer)
		lo.X, lo.Y = math.Min(lo.X, p.X), math.Min(lo.Y, p.Y)
		hi.X, hi.Y = math.Max(hi.X, p.X), math.Max(hi.Y, p.Y)
	}
	return lo, hi
}
