// store.go defines the window-counter storage contract and its two
// implementations: a process-local map of timestamp slices, and a Redis
// sorted-set variant for fleet-shared detection state.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store tracks per-key occurrence timestamps over a sliding window.
type Store interface {
	// Bump evicts occurrences older than ts-window for key, records one
	// occurrence at ts, and returns the resulting in-window count.
	// Bump calls for the same key are serialized; calls for different keys
	// must not block each other.
	Bump(ctx context.Context, key string, ts time.Time, window time.Duration) (int, error)

	// Prune drops keys with no occurrence newer than horizon. A no-op for
	// stores with server-side expiry.
	Prune(horizon time.Time)
}

// MemoryStore is the default single-instance Store. Each key owns its own
// mutex so concurrent bumps for different keys proceed in parallel, while
// bumps for the same key are serialized to keep eviction order correct.
type MemoryStore struct {
	mu   sync.RWMutex // guards the map, not the counters
	keys map[string]*windowCounter
}

type windowCounter struct {
	mu    sync.Mutex
	times []time.Time // in-window occurrence timestamps, oldest first
}

// NewMemoryStore creates an empty in-memory window counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]*windowCounter)}
}

// Bump implements Store.
func (s *MemoryStore) Bump(_ context.Context, key string, ts time.Time, window time.Duration) (int, error) {
	s.mu.RLock()
	wc, ok := s.keys[key]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		wc, ok = s.keys[key]
		if !ok {
			wc = &windowCounter{}
			s.keys[key] = wc
		}
		s.mu.Unlock()
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()

	cutoff := ts.Add(-window)
	evicted := 0
	for evicted < len(wc.times) && !wc.times[evicted].After(cutoff) {
		evicted++
	}
	if evicted > 0 {
		wc.times = append(wc.times[:0], wc.times[evicted:]...)
	}

	wc.times = append(wc.times, ts)
	return len(wc.times), nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(horizon time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, wc := range s.keys {
		wc.mu.Lock()
		idle := len(wc.times) == 0 || wc.times[len(wc.times)-1].Before(horizon)
		wc.mu.Unlock()
		if idle {
			delete(s.keys, key)
		}
	}
}

// Len reports the number of live keys. Test hook.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// RedisStore keeps each key's occurrences in a sorted set scored by unix
// nanoseconds, so eviction is a range delete and the count a ZCARD. Keys expire
// server-side one window after their last occurrence, which makes Prune a no-op.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Store backed by the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "audit:window:"}
}

// Bump implements Store. The eviction, insert, count, and expiry run in a
// single pipeline so two instances bumping the same key interleave safely.
func (s *RedisStore) Bump(ctx context.Context, key string, ts time.Time, window time.Duration) (int, error) {
	rkey := s.prefix + key
	cutoff := ts.Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "-inf", fmt.Sprintf("%d", cutoff))
	// Member is unique per occurrence; two entries in the same nanosecond must
	// still count as two.
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(ts.UnixNano()), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis window bump: %w", err)
	}
	return int(card.Val()), nil
}

// Prune implements Store. Redis keys carry their own TTL.
func (s *RedisStore) Prune(time.Time) {}
