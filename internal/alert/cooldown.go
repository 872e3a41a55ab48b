// cooldown.go defines per-rule cooldown state. The store's TryAcquire is the
// single synchronization point between concurrent evaluations of the same
// rule: check and commit happen under one lock (or one Redis SET NX), so only
// one caller can win a firing slot per cooldown window.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore records the last successful firing time per rule name.
type CooldownStore interface {
	// TryAcquire reports whether the rule may fire at now, and on success
	// atomically commits now as the rule's last firing time. A false return
	// means the cooldown window from the previous firing has not elapsed.
	TryAcquire(ctx context.Context, rule string, now time.Time, cooldown time.Duration) (bool, error)
}

// MemoryCooldowns is the default process-local store. A restart resets all
// cooldowns; that is the documented single-instance trade-off.
type MemoryCooldowns struct {
	mu       sync.Mutex
	lastFire map[string]time.Time
}

// NewMemoryCooldowns creates an empty in-memory cooldown store.
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{lastFire: make(map[string]time.Time)}
}

// TryAcquire implements CooldownStore.
func (m *MemoryCooldowns) TryAcquire(_ context.Context, rule string, now time.Time, cooldown time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.lastFire[rule]; ok && now.Sub(last) < cooldown {
		return false, nil
	}
	m.lastFire[rule] = now
	return true, nil
}

// RedisCooldowns shares cooldown state across instances. The firing slot is a
// SET NX with the cooldown as TTL: whichever instance sets the key first wins
// the window, every other evaluation sees the key and skips.
type RedisCooldowns struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldowns creates a CooldownStore backed by the given Redis client.
func NewRedisCooldowns(client *redis.Client) *RedisCooldowns {
	return &RedisCooldowns{client: client, prefix: "audit:cooldown:"}
}

// TryAcquire implements CooldownStore.
func (r *RedisCooldowns) TryAcquire(ctx context.Context, rule string, now time.Time, cooldown time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+rule, now.UnixMilli(), cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("redis cooldown acquire for %s: %w", rule, err)
	}
	return ok, nil
}
