// Package gate rejects images too small to be photographs and converts the
// rest to a canonical opaque RGB representation for captioning.
package gate

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/gaurav-prasanna/pagecaption/core"
)

// DefaultMinArea is the pixel area below which an image is treated as an
// icon or spacer.
const DefaultMinArea = 400

// ErrTooSmall is returned for images under the minimum area.
var ErrTooSmall = errors.New("image below minimum area")

// Admit returns img converted to opaque RGB if width*height >= minArea,
// and an error wrapping ErrTooSmall otherwise. A minArea <= 0 means
// DefaultMinArea. The input image is not modified.
func Admit(img *core.DecodedImage, minArea int) (*core.DecodedImage, error) {
	if minArea <= 0 {
		minArea = DefaultMinArea
	}
	if img.Area() < minArea {
		return nil, fmt.Errorf("%w: %dx%d < %d", ErrTooSmall, img.Width, img.Height, minArea)
	}
	return &core.DecodedImage{
		Image:  ToRGB(img.Image),
		Width:  img.Width,
		Height: img.Height,
		Format: img.Format,
	}, nil
}

// ToRGB draws src over an opaque white canvas. Grayscale, paletted, CMYK
// and translucent sources all come out as fully opaque RGBA pixels with the
// origin moved to (0, 0).
func ToRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
