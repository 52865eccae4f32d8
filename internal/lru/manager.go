package lru

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Data domains owned by the default Manager.
const (
	DomainPrices     = "prices"
	DomainHistorical = "historical"
	DomainCurrency   = "currency"
)

// DomainConfig names one cache owned by a Manager.
type DomainConfig struct {
	Name   string
	Config Config
}

// DefaultDomains returns the market data domains with their TTLs and caps.
func DefaultDomains() []DomainConfig {
	return []DomainConfig{
		{Name: DomainPrices, Config: Config{MaxSize: 500, DefaultTTL: 30 * time.Second, CleanupInterval: time.Minute}},
		{Name: DomainHistorical, Config: Config{MaxSize: 100, DefaultTTL: 5 * time.Minute, CleanupInterval: time.Minute}},
		{Name: DomainCurrency, Config: Config{MaxSize: 1000, DefaultTTL: time.Hour, CleanupInterval: time.Minute}},
	}
}

// StatsSink receives a Snapshot every time the Manager recomputes one.
type StatsSink interface {
	ObserveDomain(domain string, hitRate float64, entries int)
}

// Snapshot is the aggregated view recomputed by the stats ticker.
type Snapshot struct {
	Taken          time.Time
	Domains        map[string]Stats
	OverallHitRate float64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStatsInterval sets how often the statistics snapshot is recomputed.
// Zero disables the ticker; Refresh can still be called by hand.
func WithStatsInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.interval = d }
}

// WithMetrics publishes every snapshot to sink.
func WithMetrics(sink StatsSink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithManagerClock sets the clock used by every owned cache.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager owns one Cache per data domain.
type Manager struct {
	caches map[string]*Cache[string, any]
	names  []string

	interval time.Duration
	sink     StatsSink
	logger   *log.Logger
	now      func() time.Time

	mu       sync.RWMutex
	snapshot Snapshot

	// Stats goroutine control
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewManager creates a Manager with one cache per domain. Nil domains
// means DefaultDomains. When names repeat, the first domain wins.
func NewManager(domains []DomainConfig, opts ...ManagerOption) *Manager {
	if domains == nil {
		domains = DefaultDomains()
	}

	m := &Manager{
		caches:   make(map[string]*Cache[string, any], len(domains)),
		interval: 30 * time.Second,
		logger:   log.Default(),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, d := range domains {
		if _, dup := m.caches[d.Name]; dup {
			m.logger.Warn("duplicate lru domain ignored", "domain", d.Name)
			continue
		}
		m.caches[d.Name] = New[string, any](d.Config, WithClock(m.now))
		m.names = append(m.names, d.Name)
	}
	sort.Strings(m.names)

	m.Refresh()
	if m.interval > 0 {
		m.startStatsRoutine()
	}
	return m
}

// Domains returns the domain names in sorted order.
func (m *Manager) Domains() []string {
	return append([]string(nil), m.names...)
}

// Domain returns the cache for a domain, or nil if it is unknown.
func (m *Manager) Domain(name string) *Cache[string, any] {
	return m.caches[name]
}

// Get reads key from a domain. A value of another type is a miss.
func Get[V any](m *Manager, domain, key string) (V, bool) {
	var zero V
	c := m.caches[domain]
	if c == nil {
		return zero, false
	}
	v, ok := c.lookup(key, func(v any) bool {
		_, ok := v.(V)
		return ok
	})
	if !ok {
		return zero, false
	}
	return v.(V), true
}

// Set writes key into a domain with the domain's default TTL. Unknown
// domains are ignored and reported with false.
func Set[V any](m *Manager, domain, key string, value V) bool {
	c := m.caches[domain]
	if c == nil {
		return false
	}
	c.Set(key, value)
	return true
}

// SetWithTTL writes key into a domain with ttl, capped at the domain's
// default TTL. A ttl of zero or less takes the default.
func SetWithTTL[V any](m *Manager, domain, key string, value V, ttl time.Duration) bool {
	c := m.caches[domain]
	if c == nil {
		return false
	}
	if def := c.cfg.DefaultTTL; ttl <= 0 || (def > 0 && ttl > def) {
		ttl = def
	}
	c.SetWithTTL(key, value, ttl)
	return true
}

// Remove deletes key from a domain.
func (m *Manager) Remove(domain, key string) bool {
	c := m.caches[domain]
	if c == nil {
		return false
	}
	return c.Remove(key)
}

// OverallHitRate averages the hit rates of the domains that have at least
// one hit. It is 0 when no domain has been hit.
func (m *Manager) OverallHitRate() float64 {
	var sum float64
	n := 0
	for _, name := range m.names {
		s := m.caches[name].Stats()
		if s.Hits == 0 {
			continue
		}
		sum += s.HitRate
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ClearAll clears every domain.
func (m *Manager) ClearAll() {
	for _, name := range m.names {
		m.caches[name].Clear()
	}
	m.logger.Debug("cleared all cache domains", "domains", len(m.names))
}

// OnMemoryWarning clears every domain.
func (m *Manager) OnMemoryWarning() {
	m.ClearAll()
}

// Snapshot returns the most recently computed statistics.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshot
}

// Refresh recomputes the statistics snapshot and publishes it.
func (m *Manager) Refresh() Snapshot {
	snap := Snapshot{
		Taken:          m.now(),
		Domains:        make(map[string]Stats, len(m.names)),
		OverallHitRate: m.OverallHitRate(),
	}
	for _, name := range m.names {
		snap.Domains[name] = m.caches[name].Stats()
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	if m.sink != nil {
		for name, s := range snap.Domains {
			m.sink.ObserveDomain(name, s.HitRate, s.Size)
		}
	}
	return snap
}

// Close stops the stats ticker and every domain sweeper.
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.stop)
		m.wg.Wait()
		for _, name := range m.names {
			m.caches[name].Close()
		}
	})
}

// startStatsRoutine starts the background statistics goroutine.
func (m *Manager) startStatsRoutine() {
	ticker := time.NewTicker(m.interval)
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := m.Refresh()
				m.logger.Debug("cache stats", "hit_rate", snap.OverallHitRate, "domains", len(snap.Domains))
			case <-m.stop:
				return
			}
		}
	}()
}
