// Package memwatch turns heap growth into OnMemoryWarning calls on the
// caches a host registers with it.
package memwatch

import (
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Target is anything that can shed memory on request.
type Target interface {
	OnMemoryWarning()
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithReader replaces the heap reading, mainly for tests.
func WithReader(read func() uint64) Option {
	return func(w *Watcher) { w.read = read }
}

// Watcher polls heap usage and warns its targets when it crosses a
// threshold. Each crossing warns once; usage must drop back under the
// threshold before the next warning.
type Watcher struct {
	threshold uint64
	interval  time.Duration
	read      func() uint64
	logger    *log.Logger

	mu      sync.Mutex
	targets []Target
	above   bool

	// Polling goroutine control
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	run  sync.Once
}

// New creates a Watcher. Call Start to begin polling.
func New(threshold uint64, interval time.Duration, opts ...Option) *Watcher {
	w := &Watcher{
		threshold: threshold,
		interval:  interval,
		read:      heapAlloc,
		logger:    log.Default(),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register adds targets to warn.
func (w *Watcher) Register(targets ...Target) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.targets = append(w.targets, targets...)
}

// Trigger warns every target now, regardless of heap usage. Hosts use it
// to forward a signal of their own.
func (w *Watcher) Trigger() {
	w.mu.Lock()
	targets := append([]Target(nil), w.targets...)
	w.mu.Unlock()

	for _, t := range targets {
		t.OnMemoryWarning()
	}
}

// Check reads heap usage once and warns the targets if this read crossed
// the threshold. It reports whether a warning was sent.
func (w *Watcher) Check() bool {
	used := w.read()

	w.mu.Lock()
	crossed := used >= w.threshold && !w.above
	w.above = used >= w.threshold
	w.mu.Unlock()

	if !crossed {
		return false
	}
	w.logger.Warn("memory threshold crossed, shedding caches",
		"heap", humanize.IBytes(used), "threshold", humanize.IBytes(w.threshold))
	w.Trigger()
	return true
}

// Start begins polling every interval. A zero interval or threshold
// leaves the watcher idle.
func (w *Watcher) Start() {
	if w.interval <= 0 || w.threshold == 0 {
		return
	}
	w.run.Do(func() {
		ticker := time.NewTicker(w.interval)
		w.wg.Add(1)

		go func() {
			defer w.wg.Done()
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					w.Check()
				case <-w.stop:
					return
				}
			}
		}()
	})
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
