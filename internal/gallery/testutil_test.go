package gallery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/sirupsen/logrus/hooks/test"
)

// stubEmbedder maps an image width to a fixed embedding, so tests can pick
// exact distances by choosing image sizes.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[int][]float32
	err     error
	panicOn int
	calls   atomic.Int64
}

func newStubEmbedder(vectors map[int][]float32) *stubEmbedder {
	return &stubEmbedder{vectors: vectors}
}

func (s *stubEmbedder) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.panicOn != 0 && face.Bounds().Dx() == s.panicOn {
		panic("embedding model crashed")
	}
	v, ok := s.vectors[face.Bounds().Dx()]
	if !ok {
		return nil, vision.ErrNoFace
	}
	return v, nil
}

func (s *stubEmbedder) Model() string {
	return "stub"
}

func (s *stubEmbedder) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// setPanic makes Embed panic for images w pixels wide; zero disables it.
func (s *stubEmbedder) setPanic(w int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicOn = w
}

// pngOfWidth returns a decodable PNG w pixels wide.
func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, 4))
	for x := range w {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func cropOfWidth(w int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, 4))
}

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := NewFSStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func put(t *testing.T, s Store, name string, widths ...int) RegisterResult {
	t.Helper()
	images := make([]Image, 0, len(widths))
	for _, w := range widths {
		images = append(images, Image{Filename: "ref.png", Data: pngOfWidth(t, w)})
	}
	res, err := s.Put(context.Background(), name, images)
	if err != nil {
		t.Fatalf("Put(%q) failed: %v", name, err)
	}
	return res
}

var errBackendDown = errors.New("backend down")
