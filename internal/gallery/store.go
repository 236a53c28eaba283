// Package gallery owns the identity store, the derived gallery index and the
// matcher that answers "who is this face" against it.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/sirupsen/logrus"
)

const (
	stagingPrefix = ".staging-"
	trashPrefix   = ".trash-"
	maxLinkTries  = 8
)

// Image is one uploaded reference image.
type Image struct {
	Filename string
	Data     []byte
}

// Reference points at one stored reference image.
type Reference struct {
	Identity string
	Name     string // file name inside the identity directory
	Size     int64
	ModTime  time.Time
}

// Snapshot is a consistent-looking listing of every reference in the store.
// Marker changes whenever any reference is added, removed or rewritten.
type Snapshot struct {
	Marker     string
	References []Reference
}

// RegisterResult describes a successful registration.
type RegisterResult struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
	Saved   int    `json:"saved"`
}

// Store is the durable home of identities and their reference images.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Put(ctx context.Context, name string, images []Image) (RegisterResult, error)
	Delete(ctx context.Context, name string) error
	Snapshot(ctx context.Context) (Snapshot, error)
	Read(ctx context.Context, ref Reference) ([]byte, error)
}

// FSStore keeps one directory per identity under a root directory.
// New images are staged in a hidden directory and committed with renames and
// hard links, so a listing never observes a half-written identity.
type FSStore struct {
	root string
	log  logrus.FieldLogger
	now  func() time.Time
	seq  atomic.Uint64
	mu   sync.Mutex // serializes commits and deletes
}

// NewFSStore opens (and creates) the store rooted at root and removes
// staging or trash directories left behind by an interrupted process. Only
// leftovers older than LeftoverGracePeriod are removed; younger ones may
// belong to another process sharing the store.
func NewFSStore(root string, log logrus.FieldLogger) (*FSStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}

	s := &FSStore{root: abs, log: log, now: time.Now}
	s.sweep()
	return s, nil
}

// Root returns the absolute store root.
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) sweep() {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.log.WithError(err).Warn("failed to scan store root for leftovers")
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, stagingPrefix) && !strings.HasPrefix(name, trashPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || s.now().Sub(info.ModTime()) < constants.LeftoverGracePeriod {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
			s.log.WithError(err).WithField("path", name).Warn("failed to remove leftover directory")
			continue
		}
		s.log.WithField("path", name).Info("removed leftover directory")
	}
}

// identityDir resolves name to its directory, refusing anything that would
// land outside the root.
func (s *FSStore) identityDir(name string) (string, string, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return "", "", err
	}

	dir := filepath.Join(s.root, n)
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || rel != n || strings.Contains(rel, string(filepath.Separator)) {
		return "", "", &InvalidNameError{Name: name, Reason: "name escapes the store root"}
	}
	return dir, n, nil
}

func (s *FSStore) List(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading store root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// referenceName builds a collision-resistant file name that keeps the
// upload's extension.
func (s *FSStore) referenceName(original string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if !validExt(ext) {
		ext = constants.DefaultImageExt
	}
	return fmt.Sprintf("%s%d_%d%s", constants.ReferenceFilePrefix, s.now().UnixMilli(), s.seq.Add(1), ext)
}

func validExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (s *FSStore) Put(ctx context.Context, name string, images []Image) (RegisterResult, error) {
	if len(images) == 0 {
		return RegisterResult{}, ErrNoImages
	}

	dir, n, err := s.identityDir(name)
	if err != nil {
		return RegisterResult{}, err
	}

	staging := filepath.Join(s.root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return RegisterResult{}, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	files := make([]string, 0, len(images))
	for _, img := range images {
		fname := s.referenceName(img.Filename)
		if err := writeFileSync(filepath.Join(staging, fname), img.Data); err != nil {
			return RegisterResult{}, err
		}
		files = append(files, fname)
	}
	if err := syncDir(staging); err != nil {
		return RegisterResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return RegisterResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	info, err := os.Lstat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Rename(staging, dir); err != nil {
			return RegisterResult{}, fmt.Errorf("committing identity directory: %w", err)
		}
		created = true
	case err != nil:
		return RegisterResult{}, fmt.Errorf("checking identity directory: %w", err)
	case !info.IsDir():
		return RegisterResult{}, fmt.Errorf("identity path %s is not a directory", n)
	default:
		for _, fname := range files {
			if err := s.commitFile(filepath.Join(staging, fname), dir, fname); err != nil {
				return RegisterResult{}, err
			}
		}
		if err := syncDir(dir); err != nil {
			return RegisterResult{}, err
		}
	}

	if err := syncDir(s.root); err != nil {
		return RegisterResult{}, err
	}

	return RegisterResult{Name: n, Created: created, Saved: len(files)}, nil
}

// commitFile moves a staged file into dir without ever replacing an existing
// reference. Callers hold s.mu.
func (s *FSStore) commitFile(src, dir, fname string) error {
	for range maxLinkTries {
		dst := filepath.Join(dir, fname)
		err := os.Link(src, dst)
		if err == nil {
			return nil
		}
		if errors.Is(err, fs.ErrExist) {
			fname = s.referenceName(fname)
			continue
		}

		// Filesystems without hard links: rename is safe once dst is known absent.
		if _, statErr := os.Lstat(dst); errors.Is(statErr, fs.ErrNotExist) {
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("committing %s: %w", fname, err)
			}
			return nil
		}
		fname = s.referenceName(fname)
	}
	return fmt.Errorf("could not find a free file name in %s", filepath.Base(dir))
}

func (s *FSStore) Delete(ctx context.Context, name string) error {
	dir, n, err := s.identityDir(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	info, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		s.mu.Unlock()
		return &NotFoundError{Name: n}
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("checking identity directory: %w", err)
	}

	trash := filepath.Join(s.root, trashPrefix+uuid.NewString())
	if err := os.Rename(dir, trash); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("removing identity %s: %w", n, err)
	}
	syncErr := syncDir(s.root)
	s.mu.Unlock()

	if syncErr != nil {
		s.log.WithError(syncErr).Warn("failed to sync store root after delete")
	}
	if err := os.RemoveAll(trash); err != nil {
		s.log.WithError(err).WithField("path", filepath.Base(trash)).Warn("failed to purge deleted identity, will retry on next start")
	}
	return nil
}

func (s *FSStore) Snapshot(ctx context.Context) (Snapshot, error) {
	identities, err := s.List(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	h := xxhash.New()
	var refs []Reference
	for _, identity := range identities {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		if n, err := NormalizeName(identity); err != nil || n != identity {
			s.log.WithField("identity", identity).Warn("skipping identity directory with an unusable name")
			continue
		}

		entries, err := os.ReadDir(filepath.Join(s.root, identity))
		if errors.Is(err, fs.ErrNotExist) {
			continue // deleted while walking
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("reading identity %s: %w", identity, err)
		}

		for _, e := range entries {
			if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			ref := Reference{Identity: identity, Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()}
			refs = append(refs, ref)
			fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\n", ref.Identity, ref.Name, ref.Size, ref.ModTime.UnixNano())
		}
	}

	return Snapshot{Marker: fmt.Sprintf("%016x", h.Sum64()), References: refs}, nil
}

func (s *FSStore) Read(ctx context.Context, ref Reference) ([]byte, error) {
	dir, _, err := s.identityDir(ref.Identity)
	if err != nil {
		return nil, err
	}
	if ref.Name == "" || filepath.Base(ref.Name) != ref.Name || strings.HasPrefix(ref.Name, ".") {
		return nil, fmt.Errorf("invalid reference file name %q", ref.Name)
	}

	data, err := os.ReadFile(filepath.Join(dir, ref.Name))
	if err != nil {
		return nil, fmt.Errorf("reading reference %s/%s: %w", ref.Identity, ref.Name, err)
	}
	return data, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s for sync: %w", filepath.Base(path), err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	return nil
}
