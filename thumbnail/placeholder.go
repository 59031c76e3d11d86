package thumbnail

import (
	"canvas-studio/imaging"
	"canvas-studio/render"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

const (
	PlaceholderSize = 512
	placeholderText = "3D File"
	labelSize       = 96
	labelDepth      = 20
	// The label is centred this far below the middle of the box.
	labelDrop = 24
)

var (
	background = imaging.ParseHexColor("#e3f2fd")
	extrusion  = color.RGBA{25, 118, 210, 0xff}
	front      = imaging.ParseHexColor("#2196f3")
	highlight  = color.NRGBA{0xff, 0xff, 0xff, 89}
)

// Placeholder draws the stand-in thumbnail: a light blue square with an
// extruded "3D File" label.
func Placeholder(text *render.FontMeasurer) (image.Image, error) {
	dst := imaging.Fill(PlaceholderSize, PlaceholderSize, background)

	label := func(c color.Color) (*image.RGBA, error) {
		return text.RenderText(placeholderText, labelSize, "Arial Bold", c, PlaceholderSize, PlaceholderSize)
	}
	depth, err := label(extrusion)
	if err != nil {
		return nil, err
	}
	face, err := label(front)
	if err != nil {
		return nil, err
	}
	shine, err := label(highlight)
	if err != nil {
		return nil, err
	}

	for i := labelDepth; i > 0; i-- {
		stamp(dst, depth, i, labelDrop+i)
	}
	stamp(dst, face, 0, labelDrop)
	stamp(dst, shine, -3, labelDrop-3)
	return dst, nil
}

func stamp(dst *image.RGBA, src image.Image, dx, dy int) {
	draw.Draw(dst, src.Bounds().Add(image.Pt(dx, dy)), src, image.Point{}, draw.Over)
}
