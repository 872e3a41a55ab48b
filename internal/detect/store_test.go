package detect

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_BumpCounts(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	for i := 1; i <= 4; i++ {
		count, err := s.Bump(context.Background(), "k", now.Add(time.Duration(i)*time.Second), time.Hour)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != i {
			t.Errorf("bump %d count = %d, want %d", i, count, i)
		}
	}
}

func TestMemoryStore_BumpEvictsExpired(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	window := 10 * time.Minute

	if _, err := s.Bump(context.Background(), "k", base, window); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(context.Background(), "k", base.Add(time.Minute), window); err != nil {
		t.Fatal(err)
	}

	// 15 minutes later both earlier occurrences are outside the window.
	count, err := s.Bump(context.Background(), "k", base.Add(15*time.Minute), window)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count after eviction = %d, want 1", count)
	}

	// Borderline: an occurrence exactly window-old is evicted, one just inside stays.
	count, err = s.Bump(context.Background(), "k2", base, window)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("fresh key count = %d, want 1", count)
	}
	count, err = s.Bump(context.Background(), "k2", base.Add(window), window)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("occurrence exactly one window old kept: count = %d, want 1", count)
	}
}

func TestMemoryStore_KeysIndependent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	if _, err := s.Bump(context.Background(), "a", now, time.Hour); err != nil {
		t.Fatal(err)
	}
	count, err := s.Bump(context.Background(), "b", now, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("key b count = %d, want 1", count)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestMemoryStore_PruneDropsIdleKeys(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()

	if _, err := s.Bump(context.Background(), "stale", base.Add(-2*time.Hour), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(context.Background(), "live", base, time.Hour); err != nil {
		t.Fatal(err)
	}

	s.Prune(base.Add(-time.Hour))

	if s.Len() != 1 {
		t.Errorf("Len() after prune = %d, want 1", s.Len())
	}

	// The pruned key starts over on its next bump.
	count, err := s.Bump(context.Background(), "stale", base, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("pruned key count = %d, want 1", count)
	}
}

func TestMemoryStore_ConcurrentBumps(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	const goroutines = 8
	const bumpsEach = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < bumpsEach; i++ {
				if _, err := s.Bump(context.Background(), "shared", now.Add(time.Duration(i)*time.Millisecond), time.Hour); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	count, err := s.Bump(context.Background(), "shared", now.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if count != goroutines*bumpsEach+1 {
		t.Errorf("count = %d, want %d", count, goroutines*bumpsEach+1)
	}
}
