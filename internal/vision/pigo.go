package vision

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"
	"github.com/kozaktomas/deepsecurity/internal/config"
)

// PigoDetector is a pure Go cascade face detector.
type PigoDetector struct {
	classifier *pigo.Pigo
	params     config.PigoConfig
}

// LoadPigoDetector reads the cascade file named in params and unpacks it.
func LoadPigoDetector(params config.PigoConfig) (*PigoDetector, error) {
	cascade, err := os.ReadFile(params.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pigo cascade file: %w", err)
	}
	return NewPigoDetector(cascade, params)
}

// NewPigoDetector unpacks a cascade.
func NewPigoDetector(cascade []byte, params config.PigoConfig) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack pigo cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, params: params}, nil
}

// grayscale converts img to the luminance plane pigo works on.
func grayscale(img image.Image) (pixels []uint8, cols, rows int) {
	b := img.Bounds()
	cols, rows = b.Dx(), b.Dy()
	pixels = make([]uint8, cols*rows)
	for y := range rows {
		for x := range cols {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			pixels[y*cols+x] = uint8((r*299 + g*587 + bl*114) / 1000 / 256)
		}
	}
	return pixels, cols, rows
}

// confidence maps a pigo quality score onto [0, 1].
func (d *PigoDetector) confidence(q float32) float64 {
	if d.params.QualityCeiling <= 0 {
		return 1
	}
	return min(max(float64(q/d.params.QualityCeiling), 0), 1)
}

func (d *PigoDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pixels, cols, rows := grayscale(frame)
	params := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     d.params.MaxSize,
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.params.IoUThreshold)

	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Q <= d.params.QualityThreshold {
			continue
		}
		out = append(out, Detection{
			Box: Box{
				X: det.Col - det.Scale/2,
				Y: det.Row - det.Scale/2,
				W: det.Scale,
				H: det.Scale,
			},
			Confidence: d.confidence(det.Q),
		})
	}
	return out, nil
}
