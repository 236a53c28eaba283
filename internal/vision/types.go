package vision

import "image"

// Point is a landmark position in frame pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned face box in pixel coordinates relative to the
// frame origin. Boxes produced by a detector may extend past the frame.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the box has zero area.
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Clamp limits the box to [0, width) x [0, height). A box lying entirely
// outside the frame becomes empty; its origin is still clamped.
func (b Box) Clamp(width, height int) Box {
	x0 := min(max(b.X, 0), max(width, 0))
	y0 := min(max(b.Y, 0), max(height, 0))
	x1 := min(max(b.X+b.W, 0), max(width, 0))
	y1 := min(max(b.Y+b.H, 0), max(height, 0))

	return Box{X: x0, Y: y0, W: max(x1-x0, 0), H: max(y1-y0, 0)}
}

// BoxFromCorners converts [x1, y1, x2, y2] corner coordinates to a Box.
func BoxFromCorners(x1, y1, x2, y2 float64) Box {
	return Box{
		X: int(x1),
		Y: int(y1),
		W: int(x2 - x1),
		H: int(y2 - y1),
	}
}

// BoxFromRect converts an image.Rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Detection is a single located face.
type Detection struct {
	Box        Box
	Confidence float64          // in [0, 1]
	Keypoints  map[string]Point // optional landmarks
}
