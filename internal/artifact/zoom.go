package artifact

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ZoomRect computes the crop centred on box with both sides scaled by factor,
// clamped to bounds. An empty result means the crop fell outside the frame.
func ZoomRect(bounds, box image.Rectangle, factor float64) image.Rectangle {
	cx := (box.Min.X + box.Max.X) / 2
	cy := (box.Min.Y + box.Max.Y) / 2
	zw := int(float64(box.Dx()) * factor)
	zh := int(float64(box.Dy()) * factor)

	x1 := max(bounds.Min.X, cx-zw/2)
	y1 := max(bounds.Min.Y, cy-zh/2)
	x2 := min(bounds.Max.X, x1+zw)
	y2 := min(bounds.Max.Y, y1+zh)

	return image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}.Intersect(bounds)
}

// Zoom crops img around box and resizes the crop to width x height. If the
// crop is empty the whole frame is resized instead, so the output size is
// always width x height.
func Zoom(img image.Image, box image.Rectangle, factor float64, width, height int) *image.RGBA {
	src := ZoomRect(img.Bounds(), box, factor)
	if src.Empty() {
		src = img.Bounds()
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, xdraw.Src, nil)
	return dst
}
