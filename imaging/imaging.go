// Package imaging decodes, encodes and sizes rasters for layers.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultDivisor is the size quantum used when a service declares none.
const DefaultDivisor = 4

// Decode reads a png, jpeg, gif or webp image.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// CropTransparent trims fully transparent borders. An image with no opaque
// pixel is returned unchanged.
func CropTransparent(img image.Image) image.Image {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if minX > maxX || minY > maxY {
		return img
	}

	crop := image.Rect(minX, minY, maxX+1, maxY+1)
	if crop == b {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(dst, dst.Bounds(), img, crop.Min, draw.Src)
	return dst
}

// RoundUp rounds v up to the next multiple of divisor.
func RoundUp(v float64, divisor int) float64 {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	d := float64(divisor)
	return math.Ceil(v/d) * d
}

// DimensionsFromAspectRatio sizes a "W:H" ratio so its long side is base,
// rounding both sides up to divisor. An unparsable ratio yields base x base.
func DimensionsFromAspectRatio(ratio string, base, divisor int) (width, height int) {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	w, h, ok := parseRatio(ratio)
	if !ok {
		return base, base
	}

	r := w / h
	var fw, fh float64
	if r >= 1 {
		fw = float64(base)
		fh = math.Round(float64(base) / r)
	} else {
		fh = float64(base)
		fw = math.Round(float64(base) * r)
	}
	return int(RoundUp(fw, divisor)), int(RoundUp(fh, divisor))
}

func parseRatio(ratio string) (w, h float64, ok bool) {
	parts := strings.Split(ratio, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	h, errH := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// FitMaxDimension limits the long side of a w x h box to max while keeping
// its aspect ratio. Landscape boxes are limited by width, all others by
// height. The result is rounded up to DefaultDivisor.
func FitMaxDimension(w, h float64, max int, enabled bool) (float64, float64) {
	if enabled && w > 0 && h > 0 {
		ar := w / h
		if w > h {
			w = math.Min(w, float64(max))
			h = w / ar
		} else {
			h = math.Min(h, float64(max))
			w = h * ar
		}
	}
	return RoundUp(w, DefaultDivisor), RoundUp(h, DefaultDivisor)
}

// Transparent returns a fully transparent w x h raster.
func Transparent(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// Fill returns a w x h raster of a single colour.
func Fill(w, h int, c color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return dst
}

// Scale resizes img to w x h with bilinear filtering.
func Scale(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// ParseHexColor reads #rgb or #rrggbb. Anything else is black.
func ParseHexColor(s string) color.RGBA {
	c := color.RGBA{A: 0xff}
	s = strings.TrimPrefix(s, "#")
	switch len(s) {
	case 3:
		v, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return c
		}
		c.R = uint8(v>>8&0xf) * 0x11
		c.G = uint8(v>>4&0xf) * 0x11
		c.B = uint8(v&0xf) * 0x11
	case 6:
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return c
		}
		c.R, c.G, c.B = uint8(v>>16), uint8(v>>8), uint8(v)
	}
	return c
}
