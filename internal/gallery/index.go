package gallery

import (
	"fmt"
	"time"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/deepsecurity/internal/constants"
)

// Entry is one embedded reference image.
type Entry struct {
	Identity  string
	Reference string
	Embedding []float32
}

// Index is an immutable gallery built from one store snapshot. It is never
// patched; a store mutation replaces it wholesale.
type Index struct {
	generation uint64
	model      string
	metric     Metric
	marker     string
	entries    []Entry
	dims       int
	identities int
	skipped    int
	builtAt    time.Time
	fromCache  bool
	graph      *hnsw.Graph[int]
}

// newIndex validates entries and builds the search graph when the gallery is
// large enough (hnswMin > 0 and len(entries) >= hnswMin).
func newIndex(model string, metric Metric, marker string, entries []Entry, hnswMin int) (*Index, error) {
	ix := &Index{
		model:   model,
		metric:  metric,
		marker:  marker,
		entries: entries,
		builtAt: time.Now(),
	}

	seen := make(map[string]struct{})
	for i, e := range entries {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("reference %s/%s has an empty embedding", e.Identity, e.Reference)
		}
		if i == 0 {
			ix.dims = len(e.Embedding)
		} else if len(e.Embedding) != ix.dims {
			return nil, fmt.Errorf("reference %s/%s has %d dimensions, expected %d",
				e.Identity, e.Reference, len(e.Embedding), ix.dims)
		}
		seen[e.Identity] = struct{}{}
	}
	ix.identities = len(seen)

	if hnswMin > 0 && len(entries) >= hnswMin {
		g := hnsw.NewGraph[int]()
		g.M = constants.HNSWMaxNeighbors
		g.Ml = 1.0 / float64(constants.HNSWMaxNeighbors)
		g.Distance = metric.graphDistance()
		for i := range entries {
			g.Add(hnsw.MakeNode(i, metric.prepare(entries[i].Embedding)))
		}
		ix.graph = g
	}

	return ix, nil
}

// Len returns the number of embedded references.
func (ix *Index) Len() int {
	return len(ix.entries)
}

// Nearest returns the reference closest to query. With a search graph the
// graph proposes candidates and the exact metric ranks them.
func (ix *Index) Nearest(query []float32) (Entry, float64, error) {
	if len(ix.entries) == 0 {
		return Entry{}, maxDistance, ErrEmptyGallery
	}
	if len(query) != ix.dims {
		return Entry{}, maxDistance, fmt.Errorf("%w: got %d, index has %d", ErrDimensionMismatch, len(query), ix.dims)
	}

	best, bestDist := -1, 0.0
	consider := func(i int) {
		d := ix.metric.Distance(query, ix.entries[i].Embedding)
		if best < 0 || d < bestDist || (d == bestDist && i < best) {
			best, bestDist = i, d
		}
	}

	if ix.graph != nil {
		for _, n := range ix.graph.Search(ix.metric.prepare(query), constants.HNSWSearchCandidates) {
			consider(n.Key)
		}
	} else {
		for i := range ix.entries {
			consider(i)
		}
	}

	if best < 0 {
		return Entry{}, maxDistance, ErrEmptyGallery
	}
	return ix.entries[best], bestDist, nil
}
