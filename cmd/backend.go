package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/deepsecurity/internal/config"
	"github.com/kozaktomas/deepsecurity/internal/gallery"
	"github.com/kozaktomas/deepsecurity/internal/logging"
	"github.com/kozaktomas/deepsecurity/internal/recognition"
	"github.com/kozaktomas/deepsecurity/internal/vision"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// services bundles the components every command works with.
type services struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      *gallery.FSStore
	matcher    *gallery.Matcher
	manager    *gallery.Manager
	recognizer *recognition.Recognizer
	detector   string
	embedder   string
	closers    []func()
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServices wires the store, the index and the recognizer from cfg.
// Model backends are built on first use.
func newServices(ctx context.Context, cfg *config.Config) (*services, error) {
	log := logging.New(cfg.Log)

	s := &services{cfg: cfg, log: log, detector: cfg.Detector.Backend, embedder: cfg.Embedder.Backend}

	metric, err := gallery.ParseMetric(cfg.Recognition.Metric)
	if err != nil {
		return nil, err
	}

	store, err := gallery.NewFSStore(cfg.Gallery.Path, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}
	s.store = store

	// dlib detector and embedder share one loaded model set
	dlib := vision.NewLazy(func() (*vision.DlibBackend, error) {
		return vision.NewDlibBackend(cfg.Embedder.DlibModelsDir)
	})
	s.closers = append(s.closers, func() {
		if dlib.Ready() {
			if backend, err := dlib.Get(); err == nil {
				backend.Close()
			}
		}
	})

	detector, err := newDetector(cfg, dlib)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder(cfg, dlib)
	if err != nil {
		return nil, err
	}

	opts := []gallery.MatcherOption{
		gallery.WithMetric(metric),
		gallery.WithRebuildWorkers(cfg.Gallery.RebuildWorkers),
		gallery.WithHNSWMinEntries(cfg.Gallery.HNSWMinEntries),
		gallery.WithRepresentationsDir(store.Root()),
		gallery.WithLogger(log),
	}
	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		s.closers = append(s.closers, func() { client.Close() })
		opts = append(opts, gallery.WithGeneration(gallery.NewRedisGeneration(client, cfg.Redis.Key)))
		log.WithField("addr", cfg.Redis.Address).Info("sharing gallery generation through redis")
	} else {
		// other processes on the same store (the CLI, a second server) see mutations through the file
		opts = append(opts, gallery.WithGeneration(gallery.NewFileGeneration(store.Root())))
	}

	s.matcher = gallery.NewMatcher(store, embedder, opts...)
	s.manager = gallery.NewManager(store, s.matcher, log)
	s.recognizer = recognition.New(
		vision.NewSafeDetector(detector, log),
		s.matcher,
		recognition.WithThreshold(cfg.Recognition.Threshold),
		recognition.WithConcurrency(cfg.Recognition.MatchConcurrency),
		recognition.WithLogger(log),
	)
	return s, nil
}

func newDetector(cfg *config.Config, dlib *vision.Lazy[*vision.DlibBackend]) (vision.Detector, error) {
	switch cfg.Detector.Backend {
	case "pigo":
		return vision.NewLazyDetector(func() (vision.Detector, error) {
			detector, err := vision.LoadPigoDetector(cfg.Detector.Pigo)
			if err != nil {
				return nil, err
			}
			return detector, nil
		}), nil
	case "remote":
		return vision.NewLazyDetector(func() (vision.Detector, error) {
			return vision.NewRemoteBackend(cfg.Embedder.URL, cfg.Embedder.Model), nil
		}), nil
	case "dlib":
		return vision.NewLazyDetector(func() (vision.Detector, error) {
			backend, err := dlib.Get()
			if err != nil {
				return nil, err
			}
			return backend, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q (expected pigo, remote or dlib)", cfg.Detector.Backend)
	}
}

func newEmbedder(cfg *config.Config, dlib *vision.Lazy[*vision.DlibBackend]) (vision.Embedder, error) {
	switch cfg.Embedder.Backend {
	case "remote":
		return vision.NewLazyEmbedder(cfg.Embedder.Model, func() (vision.Embedder, error) {
			return vision.NewRemoteBackend(cfg.Embedder.URL, cfg.Embedder.Model), nil
		}), nil
	case "dlib":
		return vision.NewLazyEmbedder(vision.DlibModelName, func() (vision.Embedder, error) {
			backend, err := dlib.Get()
			if err != nil {
				return nil, err
			}
			return backend, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedder backend %q (expected remote or dlib)", cfg.Embedder.Backend)
	}
}
