//go:build dlib

package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	face "github.com/Kagami/go-face"
)

// DlibModelName identifies representations produced by the dlib ResNet model.
const DlibModelName = "dlib_resnet_v1"

// DlibBackend detects faces and computes 128-dim descriptors with dlib.
// The underlying recognizer is not safe for concurrent use.
type DlibBackend struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// NewDlibBackend loads the dlib models from modelsDir.
func NewDlibBackend(modelsDir string) (*DlibBackend, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	return &DlibBackend{rec: rec}, nil
}

func (d *DlibBackend) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	data, err := EncodeJPEG(frame)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	faces, err := d.rec.Recognize(data)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	dets := make([]Detection, 0, len(faces))
	for _, f := range faces {
		det := Detection{
			Box: BoxFromRect(f.Rectangle),
			// dlib's detector does not expose a score
			Confidence: 1,
		}
		if len(f.Shapes) > 0 {
			det.Keypoints = make(map[string]Point, len(f.Shapes))
			for i, p := range f.Shapes {
				det.Keypoints[fmt.Sprintf("point_%d", i)] = Point{X: float64(p.X), Y: float64(p.Y)}
			}
		}
		dets = append(dets, det)
	}
	return dets, nil
}

func (d *DlibBackend) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	data, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	f, err := d.rec.RecognizeSingle(data)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}
	if f == nil {
		return nil, ErrNoFace
	}

	out := make([]float32, len(f.Descriptor))
	copy(out, f.Descriptor[:])
	return out, nil
}

func (d *DlibBackend) Model() string {
	return DlibModelName
}

// Close releases the dlib models.
func (d *DlibBackend) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rec.Close()
}
