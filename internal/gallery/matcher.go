package gallery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Match is the verdict for one face crop.
type Match struct {
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// UnknownMatch is the verdict when no identity is close enough. Its
// distance is a fixed sentinel, not a measurement.
func UnknownMatch() Match {
	return Match{Name: constants.UnknownName, Distance: constants.UnknownDistance}
}

// Known reports whether the match names an identity.
func (m Match) Known() bool {
	return m.Name != constants.UnknownName
}

// Similarity is 1 - distance for a known identity and 0 for Unknown.
func (m Match) Similarity() float64 {
	if !m.Known() {
		return 0
	}
	return 1 - m.Distance
}

// IndexStats describes the installed index.
type IndexStats struct {
	Valid      bool      `json:"valid"`
	Generation uint64    `json:"generation"`
	Identities int       `json:"identities"`
	References int       `json:"references"`
	Skipped    int       `json:"skipped"`
	BuiltAt    time.Time `json:"built_at,omitzero"`
	FromCache  bool      `json:"from_cache"`
	Model      string    `json:"model"`
	Metric     Metric    `json:"metric"`
}

// Progress is called after each reference is embedded during a rebuild.
// Calls are serialized.
type Progress func(done, total int)

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithMetric selects the distance metric.
func WithMetric(m Metric) MatcherOption {
	return func(mt *Matcher) { mt.metric = m }
}

// WithGeneration replaces the in-process generation counter.
func WithGeneration(g GenerationSource) MatcherOption {
	return func(mt *Matcher) { mt.gen = g }
}

// WithRebuildWorkers bounds how many references are embedded in parallel.
func WithRebuildWorkers(n int) MatcherOption {
	return func(mt *Matcher) {
		if n > 0 {
			mt.workers = n
		}
	}
}

// WithHNSWMinEntries enables the search graph for galleries of at least n
// references. Zero keeps the exact scan.
func WithHNSWMinEntries(n int) MatcherOption {
	return func(mt *Matcher) { mt.hnswMin = max(n, 0) }
}

// WithRepresentationsDir keeps the representation table in dir.
func WithRepresentationsDir(dir string) MatcherOption {
	return func(mt *Matcher) { mt.cacheDir = dir }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) MatcherOption {
	return func(mt *Matcher) { mt.log = log }
}

// Matcher owns the gallery index. Reads rebuild it lazily from the store
// whenever a mutation has invalidated it.
type Matcher struct {
	store    Store
	embedder vision.Embedder
	gen      GenerationSource
	metric   Metric
	workers  int
	hnswMin  int
	cacheDir string
	log      logrus.FieldLogger

	mu     sync.RWMutex
	index  *Index
	flight singleflight.Group
}

// NewMatcher creates a matcher over store using embedder for every
// representation.
func NewMatcher(store Store, embedder vision.Embedder, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		store:    store,
		embedder: embedder,
		gen:      &LocalGeneration{},
		metric:   Cosine,
		workers:  constants.DefaultRebuildWorkers,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Model returns the representation model name.
func (m *Matcher) Model() string {
	return m.embedder.Model()
}

// Metric returns the distance metric.
func (m *Matcher) Metric() Metric {
	return m.metric
}

// Lookup returns the closest identity within threshold, UnknownMatch when
// none is, or a *MatchFailure when no verdict could be reached.
func (m *Matcher) Lookup(ctx context.Context, crop image.Image, threshold float64) (Match, error) {
	ix, err := m.current(ctx, nil)
	if err != nil {
		return UnknownMatch(), &MatchFailure{Err: err}
	}
	if ix.Len() == 0 {
		return UnknownMatch(), &MatchFailure{Err: ErrEmptyGallery}
	}

	query, err := m.embed(ctx, crop)
	if err != nil {
		return UnknownMatch(), &MatchFailure{Err: fmt.Errorf("embedding face: %w", err)}
	}

	entry, dist, err := ix.Nearest(query)
	if err != nil {
		return UnknownMatch(), &MatchFailure{Err: err}
	}

	if dist <= threshold {
		return Match{Name: entry.Identity, Distance: dist}, nil
	}
	return UnknownMatch(), nil
}

// FindIdentity never fails: any lookup failure is logged and reported as
// UnknownMatch.
func (m *Matcher) FindIdentity(ctx context.Context, crop image.Image, threshold float64) Match {
	match, err := m.Lookup(ctx, crop, threshold)
	if err != nil {
		entry := m.log.WithError(err)
		if errors.Is(err, ErrEmptyGallery) {
			entry.Debug("no identities to match against")
		} else {
			entry.Warn("identity lookup failed, reporting Unknown")
		}
		return UnknownMatch()
	}
	return match
}

// Warm makes sure a valid index is installed and returns its stats.
func (m *Matcher) Warm(ctx context.Context, progress Progress) (IndexStats, error) {
	if _, err := m.current(ctx, progress); err != nil {
		return m.Status(ctx), err
	}
	return m.Status(ctx), nil
}

// Status reports on the installed index without building one.
func (m *Matcher) Status(ctx context.Context) IndexStats {
	stats := IndexStats{Model: m.embedder.Model(), Metric: m.metric}

	gen, err := m.gen.Current(ctx)
	if err != nil {
		m.log.WithError(err).Warn("failed to read store generation")
	}

	m.mu.RLock()
	ix := m.index
	m.mu.RUnlock()

	stats.Generation = gen
	if ix == nil {
		return stats
	}

	stats.Valid = err == nil && ix.generation == gen && ix.model == stats.Model
	stats.Identities = ix.identities
	stats.References = ix.Len()
	stats.Skipped = ix.skipped
	stats.BuiltAt = ix.builtAt
	stats.FromCache = ix.fromCache
	return stats
}

// Invalidate discards the index after a store mutation: the representation
// table is removed, the generation bumped and the local index dropped.
func (m *Matcher) Invalidate(ctx context.Context) error {
	var errs []error

	if m.cacheDir != "" {
		if err := removeRepresentations(m.cacheDir); err != nil {
			errs = append(errs, err)
		}
	}

	gen, err := m.gen.Bump(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	m.mu.Lock()
	m.index = nil
	m.mu.Unlock()

	m.log.WithField("generation", gen).Debug("gallery index invalidated")
	return errors.Join(errs...)
}

// current returns a valid index, rebuilding it when needed.
func (m *Matcher) current(ctx context.Context, progress Progress) (*Index, error) {
	for attempt := range constants.MaxRebuildAttempts {
		gen, err := m.gen.Current(ctx)
		if err != nil {
			return nil, err
		}

		m.mu.RLock()
		ix := m.index
		m.mu.RUnlock()
		if ix != nil && ix.generation == gen && ix.model == m.embedder.Model() {
			return ix, nil
		}

		v, err, _ := m.flight.Do(strconv.FormatUint(gen, 10), func() (any, error) {
			return m.rebuild(context.WithoutCancel(ctx), gen, progress)
		})
		if errors.Is(err, errGenerationMoved) {
			m.log.WithField("attempt", attempt+1).Debug("store changed during rebuild, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return v.(*Index), nil
	}
	return nil, ErrIndexUnstable
}

// rebuild builds an index for generation gen and installs it if no mutation
// happened in the meantime.
func (m *Matcher) rebuild(ctx context.Context, gen uint64, progress Progress) (*Index, error) {
	start := time.Now()
	model := m.embedder.Model()

	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("walking identity store: %w", err)
	}

	ix := m.loadCached(model, snap)
	if ix == nil {
		entries, skipped, err := m.embedReferences(ctx, snap.References, progress)
		if err != nil {
			return nil, err
		}
		ix, err = newIndex(model, m.metric, snap.Marker, entries, m.hnswMin)
		if err != nil {
			return nil, err
		}
		ix.skipped = skipped
	}
	ix.generation = gen

	m.mu.Lock()
	cur, err := m.gen.Current(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if cur != gen {
		m.mu.Unlock()
		return nil, errGenerationMoved
	}
	m.index = ix
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"generation": gen,
		"identities": ix.identities,
		"references": ix.Len(),
		"skipped":    ix.skipped,
		"from_cache": ix.fromCache,
		"duration":   time.Since(start).Round(time.Millisecond).String(),
	}).Info("gallery index built")

	if !ix.fromCache && m.cacheDir != "" {
		if err := saveRepresentations(RepresentationsPath(m.cacheDir, model), ix); err != nil {
			m.log.WithError(err).Warn("failed to save representations")
		}
	}
	return ix, nil
}

// loadCached returns the index stored on disk when it was built by the same
// model and metric from exactly the current store contents.
func (m *Matcher) loadCached(model string, snap Snapshot) *Index {
	if m.cacheDir == "" {
		return nil
	}

	r, err := loadRepresentations(RepresentationsPath(m.cacheDir, model))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.log.WithError(err).Warn("ignoring unreadable representations")
		}
		return nil
	}
	if r.Model != model || r.Metric != m.metric || r.Marker != snap.Marker {
		m.log.Debug("representations do not match the store, rebuilding")
		return nil
	}

	ix, err := newIndex(model, m.metric, r.Marker, r.Entries, m.hnswMin)
	if err != nil {
		m.log.WithError(err).Warn("ignoring invalid representations")
		return nil
	}
	ix.skipped = r.Skipped
	ix.builtAt = r.BuiltAt
	ix.fromCache = true
	return ix
}

// embed runs the embedder, turning a panic into an error.
func (m *Matcher) embed(ctx context.Context, img image.Image) (emb []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			emb = nil
			err = fmt.Errorf("embedder panic: %v", r)
		}
	}()
	return m.embedder.Embed(ctx, img)
}

// embedReferences embeds every reference in parallel. References that are
// gone, undecodable or faceless are skipped; any other embedder error aborts
// the rebuild so an incomplete gallery is never installed.
func (m *Matcher) embedReferences(ctx context.Context, refs []Reference, progress Progress) ([]Entry, int, error) {
	results := make([]*Entry, len(refs))
	var skipped atomic.Int64

	var progressMu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)

	for i, ref := range refs {
		g.Go(func() error {
			defer func() {
				progressMu.Lock()
				defer progressMu.Unlock()
				done++
				if progress != nil {
					progress(done, len(refs))
				}
			}()

			log := m.log.WithFields(logrus.Fields{"identity": ref.Identity, "reference": ref.Name})

			data, err := m.store.Read(gctx, ref)
			if errors.Is(err, fs.ErrNotExist) {
				skipped.Add(1)
				return nil
			}
			if err != nil {
				return err
			}

			img, err := vision.Decode(data)
			if err != nil {
				log.WithError(err).Warn("skipping undecodable reference")
				skipped.Add(1)
				return nil
			}

			emb, err := m.embed(gctx, img)
			if errors.Is(err, vision.ErrNoFace) || (err == nil && len(emb) == 0) {
				log.Warn("skipping reference without a usable face")
				skipped.Add(1)
				return nil
			}
			if err != nil {
				return fmt.Errorf("embedding %s/%s: %w", ref.Identity, ref.Name, err)
			}

			results[i] = &Entry{Identity: ref.Identity, Reference: ref.Name, Embedding: emb}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	entries := make([]Entry, 0, len(refs))
	for _, e := range results {
		if e != nil {
			entries = append(entries, *e)
		}
	}
	return entries, int(skipped.Load()), nil
}
