package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"math"
	"sync"
	"testing"

	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/sirupsen/logrus/hooks/test"
)

type stubDetector struct {
	dets  []vision.Detection
	calls int
}

func (s *stubDetector) DetectFaces(ctx context.Context, frame image.Image) []vision.Detection {
	s.calls++
	return s.dets
}

// stubMatcher names faces by crop width and records what it was asked.
type stubMatcher struct {
	mu      sync.Mutex
	byWidth map[int]gallery.Match
	widths  []int
}

func (s *stubMatcher) FindIdentity(ctx context.Context, crop image.Image, threshold float64) gallery.Match {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := crop.Bounds().Dx()
	s.widths = append(s.widths, w)
	if m, ok := s.byWidth[w]; ok && m.Distance <= threshold {
		return m
	}
	return gallery.UnknownMatch()
}

func frame(w, h int) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func newRecognizer(det FaceDetector, m IdentityMatcher) *Recognizer {
	logger, _ := test.NewNullLogger()
	return New(det, m, WithLogger(logger))
}

func TestRecognize_PreservesCountAndOrder(t *testing.T) {
	det := &stubDetector{dets: []vision.Detection{
		{Box: vision.Box{X: 0, Y: 0, W: 10, H: 10}, Confidence: 0.91},
		{Box: vision.Box{X: 20, Y: 20, W: 20, H: 20}, Confidence: 0.82},
		{Box: vision.Box{X: 50, Y: 50, W: 30, H: 30}, Confidence: 0.73},
		{Box: vision.Box{X: 10, Y: 60, W: 10, H: 10}, Confidence: 0.64},
	}}
	m := &stubMatcher{byWidth: map[int]gallery.Match{
		10: {Name: "alice", Distance: 0.2},
		30: {Name: "bob", Distance: 0.3},
	}}

	results := newRecognizer(det, m).Recognize(context.Background(), frame(100, 100))

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	expected := []string{"alice", "Unknown", "bob", "alice"}
	for i, res := range results {
		if res.Name != expected[i] {
			t.Errorf("result %d: expected %s, got %s", i, expected[i], res.Name)
		}
		if res.DetectionConfidence != det.dets[i].Confidence {
			t.Errorf("result %d: confidence %v does not follow detection %v", i, res.DetectionConfidence, det.dets[i].Confidence)
		}
	}
	if det.calls != 1 {
		t.Errorf("expected detector called once, got %d", det.calls)
	}
	if math.Abs(results[0].Similarity-0.8) > 1e-9 {
		t.Errorf("expected similarity 0.8, got %v", results[0].Similarity)
	}
	if results[1].Similarity != 0 || results[1].Distance != 1.0 {
		t.Errorf("expected Unknown with similarity 0, got %+v", results[1])
	}
}

func TestRecognize_NoFaces(t *testing.T) {
	r := newRecognizer(&stubDetector{}, &stubMatcher{})

	results := r.Recognize(context.Background(), frame(64, 64))
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", results)
	}

	body, err := json.Marshal(Present(results))
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if string(body) != `{"faces":[]}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestRecognize_ClampsPartiallyOutsideBox(t *testing.T) {
	det := &stubDetector{dets: []vision.Detection{
		{Box: vision.Box{X: -10, Y: 90, W: 30, H: 30}, Confidence: 0.9},
	}}
	m := &stubMatcher{byWidth: map[int]gallery.Match{20: {Name: "carol", Distance: 0.1}}}

	results := newRecognizer(det, m).Recognize(context.Background(), frame(100, 100))

	if results[0].Box != (vision.Box{X: 0, Y: 90, W: 20, H: 10}) {
		t.Errorf("expected clamped box, got %v", results[0].Box)
	}
	if results[0].Name != "carol" {
		t.Errorf("expected carol, got %s", results[0].Name)
	}
	if len(m.widths) != 1 || m.widths[0] != 20 {
		t.Errorf("expected matcher to see a 20px wide crop, got %v", m.widths)
	}
}

func TestRecognize_OutsideBoxSkipsMatcher(t *testing.T) {
	det := &stubDetector{dets: []vision.Detection{
		{Box: vision.Box{X: 150, Y: 150, W: 20, H: 20}, Confidence: 0.5},
		{Box: vision.Box{X: 10, Y: 10, W: 0, H: 10}, Confidence: 0.4},
	}}
	m := &stubMatcher{}

	results := newRecognizer(det, m).Recognize(context.Background(), frame(100, 100))

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Name != "Unknown" || res.Similarity != 0 {
			t.Errorf("result %d: expected Unknown with similarity 0, got %+v", i, res)
		}
	}
	if len(m.widths) != 0 {
		t.Errorf("expected matcher not to be invoked, got %d calls", len(m.widths))
	}
}

func TestRecognize_UsesThreshold(t *testing.T) {
	det := &stubDetector{dets: []vision.Detection{{Box: vision.Box{W: 10, H: 10}}}}
	m := &stubMatcher{byWidth: map[int]gallery.Match{10: {Name: "alice", Distance: 0.35}}}
	logger, _ := test.NewNullLogger()

	strict := New(det, m, WithThreshold(0.3), WithLogger(logger))
	if got := strict.Recognize(context.Background(), frame(50, 50))[0].Name; got != "Unknown" {
		t.Errorf("expected Unknown under a strict threshold, got %s", got)
	}

	loose := New(det, m, WithThreshold(0.4), WithConcurrency(1), WithLogger(logger))
	if got := loose.Recognize(context.Background(), frame(50, 50))[0].Name; got != "alice" {
		t.Errorf("expected alice under the default threshold, got %s", got)
	}
	if loose.Threshold() != 0.4 {
		t.Errorf("expected threshold 0.4, got %v", loose.Threshold())
	}
}

func TestRecognizeImage(t *testing.T) {
	r := newRecognizer(&stubDetector{dets: []vision.Detection{{Box: vision.Box{W: 4, H: 4}}}}, &stubMatcher{})

	_, err := r.RecognizeImage(context.Background(), []byte("garbage"))
	var decodeErr *vision.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *vision.DecodeError, got %v", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, frame(8, 8)); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	results, err := r.RecognizeImage(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestPresent(t *testing.T) {
	resp := Present([]Result{
		{Name: "alice", DetectionConfidence: 0.98765, Similarity: 0.91234, Box: vision.Box{X: 1, Y: 2, W: 3, H: 4}},
		{Name: "Unknown", DetectionConfidence: 0.5, Similarity: -0.0001},
	})

	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}

	expected := `{"faces":[` +
		`{"name":"alice","confidence_detection":0.988,"similarity":0.912,"box":{"x":1,"y":2,"w":3,"h":4}},` +
		`{"name":"Unknown","confidence_detection":0.5,"similarity":0,"box":{"x":0,"y":0,"w":0,"h":0}}]}`
	if string(body) != expected {
		t.Errorf("unexpected body\n got: %s\nwant: %s", body, expected)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{0.12345, 0.123},
		{0.9996, 1},
		{-0.2004, -0.2},
		{-0.0004, 0},
		{1, 1},
	}
	for _, tt := range tests {
		if got := Round(tt.input); got != tt.expected {
			t.Errorf("Round(%v) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
