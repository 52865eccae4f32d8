package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// quote is a minimal Modifiable and Emptyable value.
type quote struct {
	Price    float64
	Modified time.Time
	Empty    bool
}

func (q quote) ModifyDate() time.Time { return q.Modified }
func (q quote) IsEmpty() bool         { return q.Empty }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestOrchestrated(maxSize int, expiry time.Duration, clock *fakeClock) (*Orchestrated[string, quote], *Memory[string, quote], *Memory[string, quote]) {
	memory := NewMemory[string, quote]()
	disk := NewMemory[string, quote]()
	c := NewOrchestrated[string, quote](memory, disk, maxSize, expiry, WithClock(clock.Now))
	return c, memory, disk
}

func TestOrchestrated_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"before expiry", 899 * time.Second, nil},
		{"exactly at expiry", 900 * time.Second, ErrExpired},
		{"after expiry", 901 * time.Second, ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			c, _, disk := newTestOrchestrated(10, 900*time.Second, clock)

			if err := c.Set(ctx, "BTC", quote{Price: 45000, Modified: clock.Now()}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			clock.Advance(tt.elapsed)

			v, err := c.Get(ctx, "BTC")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get: got error %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && v.Price != 45000 {
				t.Errorf("Get: got price %v, want 45000", v.Price)
			}
			if tt.wantErr != nil {
				if _, err := disk.Get(ctx, "BTC"); !errors.Is(err, ErrNotFound) {
					t.Errorf("expired entry still on disk: %v", err)
				}
			}
		})
	}
}

func TestOrchestrated_ExpiredDiskOnlyValue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	expiry := 5 * time.Minute
	c, memory, disk := newTestOrchestrated(10, expiry, clock)

	// written directly to disk with modifyDate = now - expiry - ε
	stale := quote{Price: 1, Modified: clock.Now().Add(-expiry - time.Millisecond)}
	_ = disk.Set(ctx, "ETH", stale)

	if _, err := c.Get(ctx, "ETH"); !errors.Is(err, ErrExpired) {
		t.Fatalf("Get: expected ErrExpired, got %v", err)
	}
	if _, err := disk.Get(ctx, "ETH"); !errors.Is(err, ErrNotFound) {
		t.Errorf("disk lookup after expiry: expected ErrNotFound, got %v", err)
	}
	if memory.Len() != 0 {
		t.Errorf("memory should not keep an expired value, has %d entries", memory.Len())
	}
}

func TestOrchestrated_ZeroExpiryNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _, _ := newTestOrchestrated(10, 0, clock)

	_ = c.Set(ctx, "BTC", quote{Price: 1, Modified: clock.Now()})
	clock.Advance(365 * 24 * time.Hour)

	if _, err := c.Get(ctx, "BTC"); err != nil {
		t.Errorf("Get with expiry disabled: %v", err)
	}
}

func TestOrchestrated_GetBackfillsMemory(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, memory, disk := newTestOrchestrated(10, time.Hour, clock)

	_ = disk.Set(ctx, "SOL", quote{Price: 150, Modified: clock.Now()})

	v, err := c.Get(ctx, "SOL")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v.Price != 150 {
		t.Errorf("Get: got %v, want 150", v.Price)
	}
	if _, err := memory.Get(ctx, "SOL"); err != nil {
		t.Errorf("memory not backfilled: %v", err)
	}
}

func TestOrchestrated_MissingKey(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestOrchestrated(10, time.Hour, newFakeClock())

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOrchestrated_CapacityKeepsNewest(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	maxSize := 3
	extra := 4
	c, memory, disk := newTestOrchestrated(maxSize, time.Hour, clock)

	for i := 0; i < maxSize+extra; i++ {
		clock.Advance(time.Second)
		key := fmt.Sprintf("coin-%d", i)
		if err := c.Set(ctx, key, quote{Price: float64(i), Modified: clock.Now()}); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	want := []string{"coin-4", "coin-5", "coin-6"}
	for name, tier := range map[string]*Memory[string, quote]{"memory": memory, "disk": disk} {
		pairs, _ := tier.KeyValues(ctx)
		got := make([]string, 0, len(pairs))
		for _, p := range pairs {
			got = append(got, p.Key)
		}
		sort.Strings(got)

		if len(got) != maxSize {
			t.Errorf("%s: got %d entries, want %d", name, len(got), maxSize)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s survivors: got %v, want %v", name, got, want)
				break
			}
		}
	}
}

func TestOrchestrated_CapacityIsPerTier(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, memory, disk := newTestOrchestrated(3, time.Hour, clock)

	// disk already holds five older entries that memory never saw
	for i := 0; i < 5; i++ {
		_ = disk.Set(ctx, fmt.Sprintf("old-%d", i), quote{Price: 1, Modified: clock.Now().Add(time.Duration(i) * time.Second)})
	}
	clock.Advance(time.Minute)

	if err := c.Set(ctx, "new", quote{Price: 2, Modified: clock.Now()}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if memory.Len() != 1 {
		t.Errorf("memory: got %d entries, want 1", memory.Len())
	}
	if disk.Len() != 3 {
		t.Errorf("disk: got %d entries, want 3", disk.Len())
	}
	for _, key := range []string{"new", "old-4", "old-3"} {
		if _, err := disk.Get(ctx, key); err != nil {
			t.Errorf("disk lost %s: %v", key, err)
		}
	}
}

func TestOrchestrated_EvictionHook(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	memory := NewMemory[string, quote]()
	disk := NewMemory[string, quote]()

	evicted := map[Level]int{}
	c := NewOrchestrated[string, quote](memory, disk, 2, time.Hour,
		WithClock(clock.Now),
		WithEvictionHook(func(level Level, n int) { evicted[level] += n }),
	)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), quote{Modified: clock.Now()})
	}

	if evicted[LevelMemory] != 3 || evicted[LevelDisk] != 3 {
		t.Errorf("evictions: got %v, want 3 per tier", evicted)
	}
}

func TestOrchestrated_EmptyValueIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, memory, disk := newTestOrchestrated(10, time.Hour, clock)

	if err := c.Set(ctx, "BTC", quote{Empty: true, Modified: clock.Now()}); err != nil {
		t.Fatalf("Set of empty value should succeed silently: %v", err)
	}
	if memory.Len() != 0 || disk.Len() != 0 {
		t.Errorf("empty value persisted: memory=%d disk=%d", memory.Len(), disk.Len())
	}
}

func TestOrchestrated_DiskFailureRollsBackMemory(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	memory := NewMemory[string, quote]()
	backing := NewMemory[string, quote]()
	disk := &Basic[string, quote]{
		KeyValuesFunc: backing.KeyValues,
		GetFunc:       backing.Get,
		SetFunc: func(context.Context, string, quote) error {
			return errBackend
		},
		DeleteFunc: backing.Delete,
		ClearFunc:  backing.Clear,
	}

	c := NewOrchestrated[string, quote](memory, disk, 10, time.Hour, WithClock(clock.Now))

	err := c.Set(ctx, "BTC", quote{Price: 1, Modified: clock.Now()})
	if !errors.Is(err, errBackend) {
		t.Fatalf("expected disk error, got %v", err)
	}
	if memory.Len() != 0 {
		t.Error("memory write was not rolled back")
	}
}

func TestOrchestrated_Delete(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, memory, disk := newTestOrchestrated(10, time.Hour, clock)

	_ = disk.Set(ctx, "disk-only", quote{Modified: clock.Now()})
	if err := c.Delete(ctx, "disk-only"); err != nil {
		t.Errorf("Delete of disk-only key: %v", err)
	}

	if err := c.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete of absent key should tolerate absence: %v", err)
	}

	_ = c.Set(ctx, "both", quote{Modified: clock.Now()})
	if err := c.Delete(ctx, "both"); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if memory.Len() != 0 || disk.Len() != 0 {
		t.Errorf("entries left: memory=%d disk=%d", memory.Len(), disk.Len())
	}

	failing := &Basic[string, quote]{
		DeleteFunc: func(context.Context, string) error { return errBackend },
	}
	broken := NewOrchestrated[string, quote](memory, failing, 10, time.Hour)
	if err := broken.Delete(ctx, "any"); !errors.Is(err, errBackend) {
		t.Errorf("expected disk error to surface, got %v", err)
	}
}

func TestOrchestrated_ClearIsMemoryOnly(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, memory, disk := newTestOrchestrated(10, time.Hour, clock)

	_ = c.Set(ctx, "BTC", quote{Modified: clock.Now()})

	c.Clear()
	if memory.Len() != 0 {
		t.Error("Clear did not empty memory")
	}
	if disk.Len() != 1 {
		t.Error("Clear must not touch disk")
	}

	_, _ = c.Get(ctx, "BTC") // repopulate memory
	c.OnMemoryWarning()
	if memory.Len() != 0 || disk.Len() != 1 {
		t.Errorf("OnMemoryWarning: memory=%d disk=%d, want 0 and 1", memory.Len(), disk.Len())
	}

	c.ClearDurable()
	if disk.Len() != 0 {
		t.Error("ClearDurable did not empty disk")
	}
}

func TestOrchestrated_KeyValuesComeFromDisk(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, memory, disk := newTestOrchestrated(10, time.Hour, clock)

	_ = disk.Set(ctx, "a", quote{Modified: clock.Now()})
	_ = disk.Set(ctx, "b", quote{Modified: clock.Now()})
	_ = memory.Set(ctx, "a", quote{Modified: clock.Now()})

	pairs, err := c.KeyValues(ctx)
	if err != nil {
		t.Fatalf("KeyValues failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Errorf("KeyValues: got %d pairs, want 2", len(pairs))
	}
}

func TestOrchestrated_Purge(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c, _, disk := newTestOrchestrated(10, time.Minute, clock)

	_ = c.Set(ctx, "old", quote{Modified: clock.Now()})
	clock.Advance(2 * time.Minute)
	_ = c.Set(ctx, "fresh", quote{Modified: clock.Now()})

	removed, err := c.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Purge removed %d, want 1", removed)
	}
	if _, err := disk.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh entry purged: %v", err)
	}
}
