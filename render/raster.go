// Package render draws the canvas: checkerboard, layers under the viewport
// transform, and the selection chrome. It also drives redraws while videos play.
package render

import (
	"canvas-studio/core"
	"canvas-studio/geometry"
	"canvas-studio/imaging"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"
	"gonum.org/v1/gonum/spatial/r2"
)

const (
	CheckerSize        = 20
	SelectionStroke    = 2.0
	RotateHandleRadius = 6.0
)

var (
	checkerLight = color.RGBA{0xff, 0xff, 0xff, 0xff}
	checkerDark  = color.RGBA{0xf5, 0xf5, 0xf5, 0xff}
	accent       = color.RGBA{0x63, 0x66, 0xf1, 0xff}
	white        = color.RGBA{0xff, 0xff, 0xff, 0xff}
)

// Scene is everything one frame needs. Layers are in z-order.
type Scene struct {
	Layers    []core.Layer
	Selection []string
	Viewport  core.Viewport
	// DragDelta offsets selected layers in screen space.
	DragDelta r2.Vec
}

type Options struct {
	HideSelection  bool
	SkipBackground bool
}

// Rasterizer draws scenes into RGBA frames.
type Rasterizer struct {
	text        *FontMeasurer
	placeholder image.Image

	mu sync.Mutex
	z  *vector.Rasterizer
}

// NewRasterizer returns a rasterizer. placeholder is drawn for 3D layers
// that have no thumbnail yet and may be nil.
func NewRasterizer(text *FontMeasurer, placeholder image.Image) *Rasterizer {
	return &Rasterizer{text: text, placeholder: placeholder}
}

// Frame allocates a w x h frame and draws the scene into it.
func (r *Rasterizer) Frame(scene Scene, w, h int, opts Options) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	r.DrawScene(dst, scene, opts)
	return dst
}

func (r *Rasterizer) DrawScene(dst *image.RGBA, scene Scene, opts Options) {
	if !opts.SkipBackground {
		drawChecker(dst)
	}

	selected := make(map[string]bool, len(scene.Selection))
	for _, id := range scene.Selection {
		selected[id] = true
	}

	for _, l := range scene.Layers {
		if !l.Visible {
			continue
		}
		src := r.payload(l)
		if src == nil || src.Bounds().Empty() || l.Width <= 0 || l.Height <= 0 {
			continue
		}
		offset := r2.Vec{}
		if selected[l.ID] {
			offset = scene.DragDelta
		}
		draw.BiLinear.Transform(dst, layerTransform(l, src.Bounds(), scene.Viewport, offset), src, src.Bounds(), draw.Over, nil)
	}

	if opts.HideSelection {
		return
	}
	var chosen []core.Layer
	for _, l := range scene.Layers {
		if selected[l.ID] {
			chosen = append(chosen, l)
		}
	}
	r.drawSelection(dst, chosen, scene)
}

// payload returns the raster to draw for a layer, or nil when it has none.
func (r *Rasterizer) payload(l core.Layer) image.Image {
	switch l.Kind {
	case core.KindImage:
		if l.Image != nil {
			return l.Image.Raster
		}
	case core.KindVideo:
		if l.Video != nil && l.Video.Handle != nil {
			return l.Video.Handle.FrameAt(l.Video.CurrentTime)
		}
	case core.KindModel3D:
		if l.Model != nil && l.Model.Thumbnail != nil {
			return l.Model.Thumbnail
		}
		return r.placeholder
	case core.KindText:
		if l.Text == nil || l.Text.Content == "" || r.text == nil {
			return nil
		}
		w, h := int(math.Ceil(l.Width)), int(math.Ceil(l.Height))
		if w <= 0 || h <= 0 {
			return nil
		}
		size := l.Text.FontSize
		if size <= 0 {
			size = geometry.DefaultFontSize
		}
		img, err := r.text.RenderText(l.Text.Content, size, l.Text.FontFamily, imaging.ParseHexColor(l.Text.Color), w, h)
		if err != nil {
			logrus.WithField("layer_id", l.ID).WithError(err).Warn("Failed to draw text layer")
			return nil
		}
		return img
	}
	return nil
}

// layerTransform maps source pixels onto the screen: scale into the layer
// box, rotate about the layer center, then apply zoom and pan.
func layerTransform(l core.Layer, sr image.Rectangle, v core.Viewport, offset r2.Vec) f64.Aff3 {
	sw, sh := float64(sr.Dx()), float64(sr.Dy())
	if sw == 0 || sh == 0 {
		return f64.Aff3{}
	}
	kx, ky := l.Width/sw, l.Height/sh
	rad := geometry.Radians(l.Rotation)
	cos, sin := math.Cos(rad), math.Sin(rad)
	z := v.Zoom
	c := l.Center()

	a := z * cos * kx
	b := -z * sin * ky
	d := z * sin * kx
	e := z * cos * ky
	tx := v.Pan.X + offset.X + z*(c.X-cos*l.Width/2+sin*l.Height/2)
	ty := v.Pan.Y + offset.Y + z*(c.Y-sin*l.Width/2-cos*l.Height/2)

	minX, minY := float64(sr.Min.X), float64(sr.Min.Y)
	tx -= a*minX + b*minY
	ty -= d*minX + e*minY
	return f64.Aff3{a, b, tx, d, e, ty}
}

func drawChecker(dst *image.RGBA) {
	b := dst.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y += CheckerSize {
		for x := b.Min.X; x < b.Max.X; x += CheckerSize {
			c := checkerLight
			if (x/CheckerSize+y/CheckerSize)%2 == 0 {
				c = checkerDark
			}
			cell := image.Rect(x, y, x+CheckerSize, y+CheckerSize).Intersect(b)
			draw.Draw(dst, cell, &image.Uniform{C: c}, image.Point{}, draw.Src)
		}
	}
}

// toScreen maps a point in a layer's local frame to the screen.
func toScreen(local r2.Vec, l core.Layer, v core.Viewport, offset r2.Vec) r2.Vec {
	return r2.Add(geometry.CanvasToScreen(geometry.FromLocal(local, l), v.Pan, v.Zoom), offset)
}

func (r *Rasterizer) drawSelection(dst *image.RGBA, chosen []core.Layer, scene Scene) {
	var outlines, fills, borders [][]r2.Vec
	v := scene.Viewport

	for _, l := range chosen {
		// 3D layers carry their own overlay.
		if l.Kind == core.KindModel3D {
			continue
		}
		off := scene.DragDelta
		hw, hh := l.Width/2, l.Height/2
		box := []r2.Vec{{X: -hw, Y: -hh}, {X: hw, Y: -hh}, {X: hw, Y: hh}, {X: -hw, Y: hh}}
		outlines = append(outlines, strokeClosed(mapAll(box, l, v, off), SelectionStroke)...)

		if len(chosen) != 1 {
			continue
		}
		half := geometry.HandleScreenSize / v.Zoom / 2
		for _, h := range geometry.HandlePositions(l) {
			sq := []r2.Vec{
				{X: h.Pos.X - half, Y: h.Pos.Y - half}, {X: h.Pos.X + half, Y: h.Pos.Y - half},
				{X: h.Pos.X + half, Y: h.Pos.Y + half}, {X: h.Pos.X - half, Y: h.Pos.Y + half},
			}
			pts := mapAll(sq, l, v, off)
			fills = append(fills, pts)
			borders = append(borders, strokeClosed(pts, SelectionStroke)...)
		}

		top := r2.Vec{Y: -hh}
		knob := geometry.RotateHandlePosition(l)
		outlines = append(outlines, strokeSegment(toScreen(top, l, v, off), toScreen(knob, l, v, off), SelectionStroke))

		circle := make([]r2.Vec, 24)
		radius := RotateHandleRadius / v.Zoom
		for i := range circle {
			a := 2 * math.Pi * float64(i) / float64(len(circle))
			circle[i] = r2.Add(knob, r2.Vec{X: radius * math.Cos(a), Y: radius * math.Sin(a)})
		}
		pts := mapAll(circle, l, v, off)
		fills = append(fills, pts)
		borders = append(borders, strokeClosed(pts, SelectionStroke)...)
	}

	r.fill(dst, outlines, accent)
	r.fill(dst, fills, white)
	r.fill(dst, borders, accent)
}

func mapAll(local []r2.Vec, l core.Layer, v core.Viewport, off r2.Vec) []r2.Vec {
	out := make([]r2.Vec, len(local))
	for i, p := range local {
		out[i] = toScreen(p, l, v, off)
	}
	return out
}

// strokeSegment returns the quad covering a line of the given width.
func strokeSegment(p, q r2.Vec, width float64) []r2.Vec {
	d := r2.Sub(q, p)
	n := r2.Norm(d)
	if n == 0 {
		return nil
	}
	perp := r2.Scale(width/2/n, r2.Vec{X: -d.Y, Y: d.X})
	return []r2.Vec{r2.Add(p, perp), r2.Add(q, perp), r2.Sub(q, perp), r2.Sub(p, perp)}
}

func strokeClosed(pts []r2.Vec, width float64) [][]r2.Vec {
	out := make([][]r2.Vec, 0, len(pts))
	for i := range pts {
		if quad := strokeSegment(pts[i], pts[(i+1)%len(pts)], width); quad != nil {
			out = append(out, quad)
		}
	}
	return out
}

// fill paints polygons in one rasterizer pass.
func (r *Rasterizer) fill(dst *image.RGBA, polys [][]r2.Vec, c color.Color) {
	if len(polys) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := dst.Bounds()
	if r.z == nil {
		r.z = vector.NewRasterizer(b.Dx(), b.Dy())
	} else {
		r.z.Reset(b.Dx(), b.Dy())
	}
	r.z.DrawOp = draw.Over
	for _, poly := range polys {
		if len(poly) < 3 {
			continue
		}
		r.z.MoveTo(float32(poly[0].X), float32(poly[0].Y))
		for _, p := range poly[1:] {
			r.z.LineTo(float32(p.X), float32(p.Y))
		}
		r.z.ClosePath()
	}
	r.z.Draw(dst, b, image.NewUniform(c), image.Point{})
}
