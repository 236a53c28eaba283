// Package vision holds the face detection and representation backends and
// the image helpers the recognition pipeline needs around them.
package vision

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
)

// Detector locates faces in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Embedder turns a face crop into a fixed-length representation. Two
// representations are only comparable when Model returns the same name.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float32, error)
	Model() string
}

// Lazy constructs an expensive resource on first use and hands out the same
// instance afterwards. A failed construction is retried on the next Get.
type Lazy[T any] struct {
	mu    sync.Mutex
	build func() (T, error)
	value T
	ready bool
}

// NewLazy creates a handle that runs build at most once successfully.
func NewLazy[T any](build func() (T, error)) *Lazy[T] {
	return &Lazy[T]{build: build}
}

// Get returns the resource, constructing it if needed.
func (l *Lazy[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return l.value, nil
	}

	v, err := l.build()
	if err != nil {
		var zero T
		return zero, err
	}
	l.value = v
	l.ready = true
	return v, nil
}

// Ready reports whether the resource has been constructed.
func (l *Lazy[T]) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// LazyDetector is a Detector whose backend is built on the first call.
type LazyDetector struct {
	handle *Lazy[Detector]
}

// NewLazyDetector wraps a detector constructor.
func NewLazyDetector(build func() (Detector, error)) *LazyDetector {
	return &LazyDetector{handle: NewLazy(build)}
}

func (d *LazyDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	backend, err := d.handle.Get()
	if err != nil {
		return nil, fmt.Errorf("initializing detector: %w", err)
	}
	return backend.Detect(ctx, frame)
}

// Ready reports whether the detector backend has been constructed.
func (d *LazyDetector) Ready() bool {
	return d.handle.Ready()
}

// LazyEmbedder is an Embedder whose backend is built on the first call. The
// model name is known up front so gallery parity checks need no backend.
type LazyEmbedder struct {
	model  string
	handle *Lazy[Embedder]
}

// NewLazyEmbedder wraps an embedder constructor.
func NewLazyEmbedder(model string, build func() (Embedder, error)) *LazyEmbedder {
	return &LazyEmbedder{model: model, handle: NewLazy(build)}
}

func (e *LazyEmbedder) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	backend, err := e.handle.Get()
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	return backend.Embed(ctx, face)
}

func (e *LazyEmbedder) Model() string {
	return e.model
}

// Ready reports whether the embedder backend has been constructed.
func (e *LazyEmbedder) Ready() bool {
	return e.handle.Ready()
}

// SafeDetector shields the pipeline from detector failures. Detect reports
// them as *DetectionFailure; DetectFaces logs them and returns no faces.
type SafeDetector struct {
	backend Detector
	log     logrus.FieldLogger
}

// NewSafeDetector wraps backend.
func NewSafeDetector(backend Detector, log logrus.FieldLogger) *SafeDetector {
	return &SafeDetector{backend: backend, log: log}
}

// Detect runs the backend and converts errors and panics into a *DetectionFailure.
func (d *SafeDetector) Detect(ctx context.Context, frame image.Image) (dets []Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			dets = nil
			err = &DetectionFailure{Err: fmt.Errorf("backend panic: %v", r)}
		}
	}()

	if frame == nil || frame.Bounds().Empty() {
		return nil, &DetectionFailure{Err: ErrEmptyFrame}
	}

	dets, err = d.backend.Detect(ctx, frame)
	if err != nil {
		return nil, &DetectionFailure{Err: err}
	}
	return dets, nil
}

// DetectFaces never fails: a detector malfunction degrades to "no faces seen".
func (d *SafeDetector) DetectFaces(ctx context.Context, frame image.Image) []Detection {
	dets, err := d.Detect(ctx, frame)
	if err != nil {
		d.log.WithError(err).Warn("face detection failed, reporting no faces")
		return []Detection{}
	}
	if dets == nil {
		return []Detection{}
	}
	return dets
}
