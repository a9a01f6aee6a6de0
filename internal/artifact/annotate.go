package artifact

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	KnownColor   = color.RGBA{0, 255, 0, 255}
	UnknownColor = color.RGBA{255, 0, 0, 255}
)

const boxThickness = 2

// Label formats the identity caption drawn above a detection.
func Label(name string, confidence float32) string {
	return fmt.Sprintf("%s (%.2f)", name, confidence)
}

// Annotate returns a copy of img with box and label drawn on it. The source
// image is never modified.
func Annotate(img image.Image, box image.Rectangle, label string, known bool) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	c := UnknownColor
	if known {
		c = KnownColor
	}
	drawBox(rgba, box, c, boxThickness)
	drawLabel(rgba, box.Min.X, box.Min.Y-10, label, c)
	return rgba
}

// drawBox draws a rectangle outline clipped to the image.
func drawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	b := img.Bounds()
	set := func(x, y int) {
		if (image.Point{x, y}).In(b) {
			img.SetRGBA(x, y, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x <= r.Max.X; x++ {
			set(x, r.Min.Y+t)
			set(x, r.Max.Y-t)
		}
		for y := r.Min.Y; y <= r.Max.Y; y++ {
			set(r.Min.X+t, y)
			set(r.Max.X-t, y)
		}
	}
}

// drawLabel renders text with its baseline at (x, y), kept inside the image.
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	b := img.Bounds()
	if y < b.Min.Y+13 {
		y = b.Min.Y + 13
	}
	if x < b.Min.X {
		x = b.Min.X
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(label)
}
