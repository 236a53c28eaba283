//go:build integration

package gallery

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil || container == nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisGeneration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	gen := NewRedisGeneration(client, "test:generation")

	cur, err := gen.Current(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cur != 0 {
		t.Errorf("expected 0 for a missing key, got %d", cur)
	}

	for want := uint64(1); want <= 3; want++ {
		got, err := gen.Bump(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	cur, _ = gen.Current(ctx)
	if cur != 3 {
		t.Errorf("expected 3, got %d", cur)
	}
}

func TestRedisGeneration_SharedBetweenMatchers(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	s := newTestStore(t)
	put(t, s, "alice", aliceWidth)

	first := newTestMatcher(t, s, scenarioEmbedder(), WithGeneration(NewRedisGeneration(client, "test:shared")))
	second := newTestMatcher(t, s, scenarioEmbedder(), WithGeneration(NewRedisGeneration(client, "test:shared")))

	if got := first.FindIdentity(ctx, cropOfWidth(queryWidth), 0.4); got.Name != "alice" {
		t.Fatalf("expected alice, got %+v", got)
	}
	if !first.Status(ctx).Valid {
		t.Fatal("expected first matcher to hold a valid index")
	}

	// a mutation committed by another process
	if err := second.Invalidate(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Status(ctx).Valid {
		t.Error("expected first matcher's index to be stale after a remote bump")
	}
}
