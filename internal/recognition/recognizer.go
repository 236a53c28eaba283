// Package recognition turns a frame into named faces: detect once, then
// match every detected face against the gallery.
package recognition

import (
	"context"
	"image"

	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// FaceDetector never fails; a broken detector reports no faces.
type FaceDetector interface {
	DetectFaces(ctx context.Context, frame image.Image) []vision.Detection
}

// IdentityMatcher never fails; a broken lookup reports Unknown.
type IdentityMatcher interface {
	FindIdentity(ctx context.Context, crop image.Image, threshold float64) gallery.Match
}

// Result is the verdict for one detected face.
type Result struct {
	Name                string
	DetectionConfidence float64
	Similarity          float64
	Distance            float64
	Box                 vision.Box // clamped to the frame
	Keypoints           map[string]vision.Point
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithThreshold sets the distance threshold passed to the matcher.
func WithThreshold(threshold float64) Option {
	return func(r *Recognizer) { r.threshold = threshold }
}

// WithConcurrency bounds how many faces of one frame are matched in parallel.
func WithConcurrency(n int) Option {
	return func(r *Recognizer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Recognizer) { r.log = log }
}

type Recognizer struct {
	detector    FaceDetector
	matcher     IdentityMatcher
	threshold   float64
	concurrency int
	log         logrus.FieldLogger
}

// New creates a recognizer.
func New(detector FaceDetector, matcher IdentityMatcher, opts ...Option) *Recognizer {
	r := &Recognizer{
		detector:    detector,
		matcher:     matcher,
		threshold:   constants.DefaultDistanceThreshold,
		concurrency: constants.DefaultMatchConcurrency,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Threshold returns the distance threshold in use.
func (r *Recognizer) Threshold() float64 {
	return r.threshold
}

// Recognize returns one result per detected face, in detection order.
func (r *Recognizer) Recognize(ctx context.Context, frame image.Image) []Result {
	if frame == nil {
		return []Result{}
	}

	dets := r.detector.DetectFaces(ctx, frame)
	results := make([]Result, len(dets))
	if len(dets) == 0 {
		return results
	}

	b := frame.Bounds()
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, det := range dets {
		g.Go(func() error {
			results[i] = r.recognizeFace(ctx, frame, b.Dx(), b.Dy(), det)
			return nil
		})
	}
	_ = g.Wait()

	r.log.WithField("faces", len(results)).Debug("frame recognized")
	return results
}

func (r *Recognizer) recognizeFace(ctx context.Context, frame image.Image, width, height int, det vision.Detection) Result {
	unknown := gallery.UnknownMatch()
	res := Result{
		Name:                unknown.Name,
		DetectionConfidence: det.Confidence,
		Similarity:          unknown.Similarity(),
		Distance:            unknown.Distance,
		Box:                 det.Box.Clamp(width, height),
		Keypoints:           det.Keypoints,
	}

	crop, ok := vision.Crop(frame, res.Box)
	if !ok {
		return res
	}

	match := r.matcher.FindIdentity(ctx, crop, r.threshold)
	res.Name = match.Name
	res.Distance = match.Distance
	res.Similarity = match.Similarity()
	return res
}

// RecognizeImage decodes data and recognizes the faces in it. Undecodable
// data yields a *vision.DecodeError.
func (r *Recognizer) RecognizeImage(ctx context.Context, data []byte) ([]Result, error) {
	frame, err := vision.Decode(data)
	if err != nil {
		return nil, err
	}
	return r.Recognize(ctx, frame), nil
}
