package gallery

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/deepsecurity/internal/constants"
)

const representationsVersion = 1

// representations is the on-disk form of an Index.
type representations struct {
	Version int
	Model   string
	Metric  Metric
	Marker  string
	BuiltAt time.Time
	Skipped int
	Entries []Entry
}

// RepresentationsPath returns where the representation table for model lives.
func RepresentationsPath(root, model string) string {
	return filepath.Join(root, constants.RepresentationsPrefix+safeModelName(model)+constants.RepresentationsExt)
}

func safeModelName(model string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, model)
}

// saveRepresentations writes the table atomically next to the store.
func saveRepresentations(path string, ix *Index) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(representations{
		Version: representationsVersion,
		Model:   ix.model,
		Metric:  ix.metric,
		Marker:  ix.marker,
		BuiltAt: ix.builtAt,
		Skipped: ix.skipped,
		Entries: ix.entries,
	}); err != nil {
		return fmt.Errorf("failed to encode representations: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".representations-*")
	if err != nil {
		return fmt.Errorf("failed to create representations file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write representations: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync representations: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close representations: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to install representations: %w", err)
	}
	return nil
}

// loadRepresentations reads a table written by saveRepresentations.
func loadRepresentations(path string) (representations, error) {
	var r representations

	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the store root
	if err != nil {
		return r, err
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return r, fmt.Errorf("failed to decode representations: %w", err)
	}
	if r.Version != representationsVersion {
		return r, fmt.Errorf("unsupported representations version %d", r.Version)
	}
	return r, nil
}

// removeRepresentations deletes every representation table under root.
func removeRepresentations(root string) error {
	matches, err := filepath.Glob(filepath.Join(root, constants.RepresentationsPrefix+"*"+constants.RepresentationsExt))
	if err != nil {
		return fmt.Errorf("listing representations: %w", err)
	}

	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
