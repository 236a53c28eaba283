package gallery

import (
	"context"
	"fmt"

	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/sirupsen/logrus"
)

// Invalidator drops a derived index after the store changed.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Manager is the identity management surface: every mutation goes through
// the store first and invalidates the index only once it is durable.
type Manager struct {
	store Store
	index Invalidator
	log   logrus.FieldLogger
}

// NewManager creates a manager over store that invalidates index.
func NewManager(store Store, index Invalidator, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{store: store, index: index, log: log}
}

// List returns identity names in ascending order.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Register stores images under name, creating the identity if needed. Every
// image must decode; nothing is written otherwise.
func (m *Manager) Register(ctx context.Context, name string, images []Image) (RegisterResult, error) {
	if _, err := NormalizeName(name); err != nil {
		return RegisterResult{}, err
	}
	if len(images) == 0 {
		return RegisterResult{}, ErrNoImages
	}

	for i, img := range images {
		if _, err := vision.Decode(img.Data); err != nil {
			return RegisterResult{}, fmt.Errorf("image %d (%s): %w", i+1, img.Filename, err)
		}
	}

	res, err := m.store.Put(ctx, name, images)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("storing images for %s: %w", name, err)
	}

	m.invalidate(ctx, "register", res.Name)

	m.log.WithFields(logrus.Fields{
		"identity": res.Name,
		"created":  res.Created,
		"saved":    res.Saved,
	}).Info("identity registered")
	return res, nil
}

// Delete removes the identity and all of its reference images.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := m.store.Delete(ctx, name); err != nil {
		return err
	}

	m.invalidate(ctx, "delete", name)

	m.log.WithField("identity", name).Info("identity deleted")
	return nil
}

// invalidate runs after the mutation is committed, so a failure here is
// logged rather than reported as a failed mutation.
func (m *Manager) invalidate(ctx context.Context, op, name string) {
	if err := m.index.Invalidate(context.WithoutCancel(ctx)); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"op":       op,
			"identity": name,
		}).Error("failed to invalidate gallery index")
	}
}
