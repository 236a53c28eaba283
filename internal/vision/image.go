package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 95

// Decode decodes JPEG, PNG, GIF, BMP or WebP bytes into an RGBA raster
// whose bounds start at the origin.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty image data")}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	return ToRGBA(img), nil
}

// ToRGBA converts img to an RGBA raster anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// Crop returns the part of frame covered by box. The box is clamped to the
// frame first; an empty result means there is nothing to crop.
func Crop(frame image.Image, box Box) (image.Image, bool) {
	if frame == nil {
		return nil, false
	}

	b := frame.Bounds()
	clamped := box.Clamp(b.Dx(), b.Dy())
	if clamped.Empty() {
		return nil, false
	}

	r := image.Rect(clamped.X, clamped.Y, clamped.X+clamped.W, clamped.Y+clamped.H).Add(b.Min)

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := frame.(subImager); ok {
		return s.SubImage(r), true
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), frame, r.Min, draw.Src)
	return out, true
}

// EncodeJPEG encodes img for transport to a model backend.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
