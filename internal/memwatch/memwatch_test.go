package memwatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tiercache/internal/cache"
)

type countingTarget struct {
	n atomic.Int32
}

func (c *countingTarget) OnMemoryWarning() { c.n.Add(1) }

type fakeHeap struct {
	mu   sync.Mutex
	used uint64
}

func (h *fakeHeap) set(v uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used = v
}

func (h *fakeHeap) read() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

func TestWatcher_WarnsOncePerCrossing(t *testing.T) {
	heap := &fakeHeap{}
	target := &countingTarget{}

	w := New(100, 0, WithReader(heap.read))
	w.Register(target)

	heap.set(50)
	if w.Check() {
		t.Error("should not warn below the threshold")
	}

	heap.set(150)
	if !w.Check() {
		t.Error("should warn when the threshold is crossed")
	}
	if w.Check() {
		t.Error("should not warn again while still above the threshold")
	}

	heap.set(80)
	w.Check()
	heap.set(120)
	if !w.Check() {
		t.Error("should warn on the next crossing")
	}

	if got := target.n.Load(); got != 2 {
		t.Errorf("warnings: got %d, want 2", got)
	}
}

func TestWatcher_Trigger(t *testing.T) {
	a, b := &countingTarget{}, &countingTarget{}
	w := New(0, 0)
	w.Register(a, b)

	w.Trigger()

	if a.n.Load() != 1 || b.n.Load() != 1 {
		t.Errorf("Trigger should warn every target, got %d and %d", a.n.Load(), b.n.Load())
	}
}

func TestWatcher_ClearsMemoryTier(t *testing.T) {
	ctx := context.Background()
	memory := cache.NewMemory[string, int]()
	for i := 0; i < 10; i++ {
		if err := memory.Set(ctx, string(rune('a'+i)), i); err != nil {
			t.Fatal(err)
		}
	}

	w := New(0, 0)
	w.Register(memory)
	w.Trigger()

	if memory.Len() != 0 {
		t.Errorf("memory tier should be cleared, Len = %d", memory.Len())
	}
}

func TestWatcher_Polls(t *testing.T) {
	heap := &fakeHeap{used: 200}
	target := &countingTarget{}

	w := New(100, 5*time.Millisecond, WithReader(heap.read))
	w.Register(target)
	w.Start()
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for target.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("poller never warned")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := New(1, time.Millisecond, WithReader(func() uint64 { return 0 }))
	w.Start()
	w.Stop()
	w.Stop()
}
