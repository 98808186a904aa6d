package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"assent/internal/platform/redis"
)

// MemoryMarkers is the single-process marker store.
type MemoryMarkers struct {
	mu      sync.Mutex
	markers map[string]struct{}
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{markers: make(map[string]struct{})}
}

func (m *MemoryMarkers) Acquire(_ context.Context, proposalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.markers[proposalID]; held {
		return false, nil
	}
	m.markers[proposalID] = struct{}{}
	return true, nil
}

func (m *MemoryMarkers) Release(_ context.Context, proposalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, proposalID)
	return nil
}

// RedisMarkers shares markers across replicas via SETNX, so only one
// dispatcher in a fleet runs a given proposal's delivery.
type RedisMarkers struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMarkers creates the store. A zero TTL keeps successful markers
// forever, which is the safe default for the duplicate guard.
func NewRedisMarkers(client *redis.Client, ttl time.Duration) *RedisMarkers {
	return &RedisMarkers{client: client, ttl: ttl}
}

func markerKey(proposalID string) string {
	return "assent:delivery:" + proposalID
}

func (m *RedisMarkers) Acquire(ctx context.Context, proposalID string) (bool, error) {
	ok, err := m.client.SetNX(ctx, markerKey(proposalID), "attempted", m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set delivery marker: %w", err)
	}
	return ok, nil
}

func (m *RedisMarkers) Release(ctx context.Context, proposalID string) error {
	if err := m.client.Del(ctx, markerKey(proposalID)).Err(); err != nil {
		return fmt.Errorf("delete delivery marker: %w", err)
	}
	return nil
}
