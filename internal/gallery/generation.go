package gallery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/deepsecurity/internal/constants"
	"github.com/redis/go-redis/v9"
)

// GenerationSource hands out the store generation. Every committed mutation
// bumps it; an index is valid only while its stamp equals Current.
type GenerationSource interface {
	Current(ctx context.Context) (uint64, error)
	Bump(ctx context.Context) (uint64, error)
}

// LocalGeneration is an in-process counter.
type LocalGeneration struct {
	n atomic.Uint64
}

func (g *LocalGeneration) Current(ctx context.Context) (uint64, error) {
	return g.n.Load(), nil
}

func (g *LocalGeneration) Bump(ctx context.Context) (uint64, error) {
	return g.n.Add(1), nil
}

// FileGeneration keeps the counter in a file under the store root, so every
// process opening the same store sees the others' mutations. Bumps are
// serialized across processes by an exclusive lock file.
type FileGeneration struct {
	path string
	mu   sync.Mutex
}

// NewFileGeneration stores the counter in root.
func NewFileGeneration(root string) *FileGeneration {
	return &FileGeneration{path: filepath.Join(root, constants.GenerationFile)}
}

func (g *FileGeneration) Current(ctx context.Context) (uint64, error) {
	data, err := os.ReadFile(g.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading generation file: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing generation file: %w", err)
	}
	return v, nil
}

func (g *FileGeneration) Bump(ctx context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	unlock, err := g.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	cur, err := g.Current(ctx)
	if err != nil {
		return 0, err
	}
	next := cur + 1

	tmp, err := os.CreateTemp(filepath.Dir(g.path), constants.GenerationFile+"-*")
	if err != nil {
		return 0, fmt.Errorf("creating generation file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(strconv.FormatUint(next, 10) + "\n"); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("writing generation file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("syncing generation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing generation file: %w", err)
	}
	if err := os.Rename(tmp.Name(), g.path); err != nil {
		return 0, fmt.Errorf("installing generation file: %w", err)
	}
	return next, nil
}

// lock creates the lock file exclusively, breaking it when its holder has
// been gone for longer than GenerationLockStale.
func (g *FileGeneration) lock(ctx context.Context) (func(), error) {
	lockPath := g.path + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("locking generation file: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > constants.GenerationLockStale {
			_ = os.Remove(lockPath)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for generation lock: %w", ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// RedisGeneration shares the counter between processes serving the same store.
type RedisGeneration struct {
	client *redis.Client
	key    string
}

// NewRedisGeneration uses key on client as the counter.
func NewRedisGeneration(client *redis.Client, key string) *RedisGeneration {
	return &RedisGeneration{client: client, key: key}
}

func (g *RedisGeneration) Current(ctx context.Context) (uint64, error) {
	v, err := g.client.Get(ctx, g.key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading generation from redis: %w", err)
	}
	return v, nil
}

func (g *RedisGeneration) Bump(ctx context.Context) (uint64, error) {
	v, err := g.client.Incr(ctx, g.key).Result()
	if err != nil {
		return 0, fmt.Errorf("bumping generation in redis: %w", err)
	}
	return uint64(v), nil
}
