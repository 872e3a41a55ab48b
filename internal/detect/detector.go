// Package detect implements sliding-window suspicious-activity detection over
// the audit trail. Each monitored (actor, action) pair owns a counter of
// occurrences within a trailing window; crossing the action's configured
// threshold marks the triggering entry as suspicious. Actions outside the
// monitored set never touch a counter, so the key space stays bounded by
// actors actually performing security-relevant actions.
//
// Detection state is process-local by default. With Redis configured the
// counters live in a shared sorted set per key, giving fleet-wide thresholds
// at the cost of a network hop per evaluation.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/audit-sentinel/audit-sentinel/internal/db/models"
)

// Config holds the detector's tunable settings.
type Config struct {
	// Window is the trailing interval over which occurrences are counted.
	Window time.Duration
	// Thresholds maps actions to the in-window count at which they become
	// suspicious. Absent actions are not monitored.
	Thresholds map[models.Action]int
}

// Result describes the outcome of evaluating one entry.
type Result struct {
	Suspicious bool
	// Count is the in-window occurrence count including the evaluated entry.
	// Zero for unmonitored actions.
	Count int
	// Threshold is the configured limit for the entry's action.
	Threshold int
}

// Detector evaluates incoming audit entries against per-(actor, action)
// sliding-window counters. Safe for concurrent use; evaluations for different
// keys never block each other.
type Detector struct {
	store Store

	mu  sync.RWMutex // guards cfg swaps (hot reload)
	cfg Config

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Detector backed by the given store. Pass NewMemoryStore() for
// single-instance deployments. A janitor goroutine prunes idle in-memory keys;
// call Stop to terminate it.
func New(cfg Config, store Store) *Detector {
	d := &Detector{
		store:  store,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	go d.janitor()
	return d
}

// Evaluate records entry against its (actor, action) counter and reports
// whether the entry constitutes a suspicious pattern. Unmonitored actions
// short-circuit without touching any counter.
func (d *Detector) Evaluate(ctx context.Context, entry *models.AuditEntry) (Result, error) {
	d.mu.RLock()
	threshold, monitored := d.cfg.Thresholds[entry.Action]
	window := d.cfg.Window
	d.mu.RUnlock()

	if !monitored {
		return Result{}, nil
	}

	key := counterKey(entry.ActorID, entry.Action)
	count, err := d.store.Bump(ctx, key, entry.CreatedAt, window)
	if err != nil {
		return Result{}, fmt.Errorf("window counter bump for %s: %w", key, err)
	}

	return Result{
		Suspicious: count >= threshold,
		Count:      count,
		Threshold:  threshold,
	}, nil
}

// SetConfig swaps the detector's window and thresholds at runtime (config hot
// reload). Existing counters keep their recorded timestamps; only the eviction
// horizon and limits change.
func (d *Detector) SetConfig(cfg Config) {
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
}

// Stop terminates the janitor goroutine.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// janitor periodically prunes counters whose entire window has elapsed so
// one-off actors do not accumulate in memory forever.
func (d *Detector) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.mu.RLock()
			window := d.cfg.Window
			d.mu.RUnlock()
			d.store.Prune(time.Now().Add(-window))
		case <-d.stopCh:
			return
		}
	}
}

func counterKey(actorID string, action models.Action) string {
	return actorID + "|" + string(action)
}
