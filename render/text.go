package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// FontMeasurer measures and draws text with the Go fonts. Every family maps
// to Go Regular unless its name mentions bold. Faces are cached per size.
type FontMeasurer struct {
	mu      sync.Mutex
	regular *opentype.Font
	bold    *opentype.Font
	faces   map[faceKey]font.Face
}

type faceKey struct {
	size float64
	bold bool
}

func NewFontMeasurer() (*FontMeasurer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	return &FontMeasurer{
		regular: regular,
		bold:    bold,
		faces:   make(map[faceKey]font.Face),
	}, nil
}

// Face returns a cached face for size and family.
func (m *FontMeasurer) Face(size float64, family string) (font.Face, error) {
	key := faceKey{size: math.Round(size*4) / 4, bold: strings.Contains(strings.ToLower(family), "bold")}

	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.faces[key]; ok {
		return f, nil
	}
	src := m.regular
	if key.bold {
		src = m.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{Size: key.size, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, fmt.Errorf("new face %v: %w", key.size, err)
	}
	m.faces[key] = f
	return f, nil
}

// MeasureText returns the advance width of text in pixels.
func (m *FontMeasurer) MeasureText(text string, fontSize float64, fontFamily string) float64 {
	face, err := m.Face(fontSize, fontFamily)
	if err != nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(font.MeasureString(face, text)) / 64
}

// RenderText draws text centered in a w x h transparent raster.
func (m *FontMeasurer) RenderText(text string, fontSize float64, fontFamily string, c color.Color, w, h int) (*image.RGBA, error) {
	face, err := m.Face(fontSize, fontFamily)
	if err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	m.mu.Lock()
	defer m.mu.Unlock()
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face}
	metrics := face.Metrics()
	advance := d.MeasureString(text)
	x := (fixed.I(w) - advance) / 2
	y := (fixed.I(h) + metrics.Ascent - metrics.Descent) / 2
	d.Dot = fixed.Point26_6{X: x, Y: y}
	d.DrawString(text)
	return dst, nil
}
