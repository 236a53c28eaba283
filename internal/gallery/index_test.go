package gallery

import (
	"errors"
	"math"
	"testing"
)

func testEntries() []Entry {
	return []Entry{
		{Identity: "alice", Reference: "a1.jpg", Embedding: []float32{1, 0, 0}},
		{Identity: "alice", Reference: "a2.jpg", Embedding: []float32{0.95, 0.05, 0}},
		{Identity: "bob", Reference: "b1.jpg", Embedding: []float32{0, 1, 0}},
		{Identity: "carol", Reference: "c1.jpg", Embedding: []float32{0, 0, 1}},
		{Identity: "dave", Reference: "d1.jpg", Embedding: []float32{0.5, 0.5, 0.5}},
	}
}

func TestIndex_Nearest(t *testing.T) {
	queries := []struct {
		query    []float32
		identity string
	}{
		{[]float32{0.9, 0.1, 0}, "alice"},
		{[]float32{0.1, 0.9, 0}, "bob"},
		{[]float32{0, 0.1, 0.9}, "carol"},
		{[]float32{0.6, 0.6, 0.6}, "dave"},
	}

	for _, metric := range []Metric{Cosine, EuclideanL2} {
		for _, hnswMin := range []int{0, 1} {
			ix, err := newIndex("stub", metric, "marker", testEntries(), hnswMin)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (ix.graph != nil) != (hnswMin > 0) {
				t.Errorf("graph presence mismatch for hnswMin=%d", hnswMin)
			}
			if ix.identities != 4 {
				t.Errorf("expected 4 identities, got %d", ix.identities)
			}

			for _, q := range queries {
				entry, dist, err := ix.Nearest(q.query)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if entry.Identity != q.identity {
					t.Errorf("%s/hnsw=%d: query %v matched %s, want %s", metric, hnswMin, q.query, entry.Identity, q.identity)
				}
				if want := metric.Distance(q.query, entry.Embedding); math.Abs(dist-want) > 1e-9 {
					t.Errorf("expected exact distance %v, got %v", want, dist)
				}
			}
		}
	}
}

func TestIndex_NearestTiesPreferFirst(t *testing.T) {
	ix, err := newIndex("stub", Cosine, "", []Entry{
		{Identity: "first", Embedding: []float32{1, 0}},
		{Identity: "second", Embedding: []float32{2, 0}},
	}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, _, err := ix.Nearest([]float32{3, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Identity != "first" {
		t.Errorf("expected first, got %s", entry.Identity)
	}
}

func TestIndex_NearestErrors(t *testing.T) {
	empty, err := newIndex("stub", Cosine, "", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := empty.Nearest([]float32{1}); !errors.Is(err, ErrEmptyGallery) {
		t.Errorf("expected ErrEmptyGallery, got %v", err)
	}

	ix, _ := newIndex("stub", Cosine, "", testEntries(), 1)
	if _, _, err := ix.Nearest([]float32{1, 0}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestNewIndex_RejectsInconsistentEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
	}{
		{"mixed dimensions", []Entry{
			{Identity: "a", Embedding: []float32{1, 0}},
			{Identity: "b", Embedding: []float32{1, 0, 0}},
		}},
		{"empty embedding", []Entry{{Identity: "a"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newIndex("stub", Cosine, "", tt.entries, 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}
