//go:build !dlib

package vision

import (
	"context"
	"errors"
	"image"
)

// DlibModelName identifies representations produced by the dlib ResNet model.
const DlibModelName = "dlib_resnet_v1"

// ErrDlibUnavailable is returned when the binary was built without the dlib tag.
var ErrDlibUnavailable = errors.New("dlib backend not compiled in, rebuild with -tags dlib")

// DlibBackend is a placeholder used when dlib support is not compiled in.
type DlibBackend struct{}

// NewDlibBackend always fails without the dlib build tag.
func NewDlibBackend(modelsDir string) (*DlibBackend, error) {
	return nil, ErrDlibUnavailable
}

func (d *DlibBackend) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	return nil, ErrDlibUnavailable
}

func (d *DlibBackend) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	return nil, ErrDlibUnavailable
}

func (d *DlibBackend) Model() string {
	return DlibModelName
}

// Close is a no-op.
func (d *DlibBackend) Close() {}
