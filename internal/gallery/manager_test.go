package gallery

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/sirupsen/logrus/hooks/test"
)

// recordingInvalidator captures the store listing at the moment of invalidation.
type recordingInvalidator struct {
	store Store
	calls int
	seen  [][]string
	err   error
}

func (r *recordingInvalidator) Invalidate(ctx context.Context) error {
	r.calls++
	names, _ := r.store.List(ctx)
	r.seen = append(r.seen, names)
	return r.err
}

func newTestManager(t *testing.T) (*Manager, *FSStore, *recordingInvalidator) {
	t.Helper()
	s := newTestStore(t)
	inv := &recordingInvalidator{store: s}
	logger, _ := test.NewNullLogger()
	return NewManager(s, inv, logger), s, inv
}

func TestManager_RegisterInvalidatesAfterWrite(t *testing.T) {
	mgr, _, inv := newTestManager(t)

	res, err := mgr.Register(context.Background(), "alice", []Image{
		{Filename: "one.png", Data: pngOfWidth(t, 8)},
		{Filename: "two", Data: pngOfWidth(t, 9)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Created || res.Saved != 2 || res.Name != "alice" {
		t.Errorf("unexpected result %+v", res)
	}

	if inv.calls != 1 {
		t.Fatalf("expected one invalidation, got %d", inv.calls)
	}
	if !slices.Contains(inv.seen[0], "alice") {
		t.Error("index was invalidated before the identity was written")
	}
}

func TestManager_RegisterRejects(t *testing.T) {
	tests := []struct {
		name   string
		ident  string
		images []Image
		check  func(error) bool
	}{
		{
			name:   "no images",
			ident:  "alice",
			images: nil,
			check:  func(err error) bool { return errors.Is(err, ErrNoImages) },
		},
		{
			name:   "invalid name",
			ident:  "../alice",
			images: []Image{{Filename: "a.png"}},
			check: func(err error) bool {
				var invalid *InvalidNameError
				return errors.As(err, &invalid)
			},
		},
		{
			name:   "undecodable image",
			ident:  "alice",
			images: []Image{{Filename: "a.png", Data: []byte("nope")}},
			check: func(err error) bool {
				var decodeErr *vision.DecodeError
				return errors.As(err, &decodeErr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, s, inv := newTestManager(t)

			_, err := mgr.Register(context.Background(), tt.ident, tt.images)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}

			names, _ := s.List(context.Background())
			if len(names) != 0 {
				t.Errorf("expected nothing stored, got %v", names)
			}
			if inv.calls != 0 {
				t.Errorf("expected no invalidation, got %d", inv.calls)
			}
		})
	}
}

func TestManager_Delete(t *testing.T) {
	mgr, s, inv := newTestManager(t)
	put(t, s, "alice", 8)

	if err := mgr.Delete(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.calls != 1 || len(inv.seen[0]) != 0 {
		t.Errorf("expected invalidation after removal, got %d calls seeing %v", inv.calls, inv.seen)
	}

	err := mgr.Delete(context.Background(), "alice")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if inv.calls != 1 {
		t.Errorf("expected no invalidation for a missing identity, got %d", inv.calls)
	}
}

func TestManager_InvalidationFailureDoesNotFailMutation(t *testing.T) {
	mgr, _, inv := newTestManager(t)
	inv.err = errBackendDown

	res, err := mgr.Register(context.Background(), "alice", []Image{{Filename: "a.png", Data: pngOfWidth(t, 8)}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Saved != 1 {
		t.Errorf("expected 1 saved, got %d", res.Saved)
	}
}

func TestManager_List(t *testing.T) {
	mgr, s, _ := newTestManager(t)
	put(t, s, "zoe", 8)
	put(t, s, "adam", 8)

	names, err := mgr.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(names, []string{"adam", "zoe"}) {
		t.Errorf("expected sorted names, got %v", names)
	}
}
