package lru

import (
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	rates   map[string]float64
	entries map[string]int
}

func (s *recordingSink) ObserveDomain(domain string, hitRate float64, entries int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rates == nil {
		s.rates = make(map[string]float64)
		s.entries = make(map[string]int)
	}
	s.rates[domain] = hitRate
	s.entries[domain] = entries
}

func TestManager_DefaultDomains(t *testing.T) {
	m := NewManager(nil, WithStatsInterval(0))
	defer m.Close()

	want := map[string]Config{
		DomainPrices:     {MaxSize: 500, DefaultTTL: 30 * time.Second},
		DomainHistorical: {MaxSize: 100, DefaultTTL: 5 * time.Minute},
		DomainCurrency:   {MaxSize: 1000, DefaultTTL: time.Hour},
	}
	if got := m.Domains(); len(got) != len(want) {
		t.Fatalf("Domains: got %v", got)
	}
	for name, cfg := range want {
		c := m.Domain(name)
		if c == nil {
			t.Fatalf("missing domain %q", name)
		}
		if c.cfg.MaxSize != cfg.MaxSize || c.cfg.DefaultTTL != cfg.DefaultTTL {
			t.Errorf("%s: got %d/%v, want %d/%v", name, c.cfg.MaxSize, c.cfg.DefaultTTL, cfg.MaxSize, cfg.DefaultTTL)
		}
	}
}

func TestManager_TypedPassThrough(t *testing.T) {
	m := NewManager(nil, WithStatsInterval(0))
	defer m.Close()

	if !Set(m, DomainPrices, "BTC", 45000.0) {
		t.Fatal("Set into a known domain should succeed")
	}
	if Set(m, "unknown", "BTC", 1.0) {
		t.Error("Set into an unknown domain should report false")
	}

	v, ok := Get[float64](m, DomainPrices, "BTC")
	if !ok || v != 45000 {
		t.Errorf("Get: got (%v, %v), want (45000, true)", v, ok)
	}

	if _, ok := Get[string](m, DomainPrices, "BTC"); ok {
		t.Error("Get with the wrong type should miss")
	}
	if _, ok := Get[float64](m, DomainCurrency, "BTC"); ok {
		t.Error("domains should not share entries")
	}
	if _, ok := Get[float64](m, "unknown", "BTC"); ok {
		t.Error("Get from an unknown domain should miss")
	}

	if !m.Remove(DomainPrices, "BTC") {
		t.Error("Remove should report a present key")
	}
}

func TestManager_DomainTTLs(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithStatsInterval(0), WithManagerClock(clock.Now))
	defer m.Close()

	Set(m, DomainPrices, "BTC", 1.0)
	Set(m, DomainCurrency, "USD", "dollar")

	clock.Advance(31 * time.Second)

	if _, ok := Get[float64](m, DomainPrices, "BTC"); ok {
		t.Error("prices entry should expire after 30s")
	}
	if _, ok := Get[string](m, DomainCurrency, "USD"); !ok {
		t.Error("currency entry should live for an hour")
	}
}

func TestManager_WrongTypeIsNotAHit(t *testing.T) {
	m := NewManager(nil, WithStatsInterval(0))
	defer m.Close()

	Set(m, DomainPrices, "BTC", 45000.0)
	if _, ok := Get[string](m, DomainPrices, "BTC"); ok {
		t.Fatal("Get with the wrong type should miss")
	}

	s := m.Domain(DomainPrices).Stats()
	if s.Requests != 1 || s.Hits != 0 {
		t.Errorf("stats after a type mismatch: requests=%d hits=%d, want 1/0", s.Requests, s.Hits)
	}
	if rate := m.OverallHitRate(); rate != 0 {
		t.Errorf("OverallHitRate: got %v, want 0", rate)
	}
}

func TestManager_DuplicateDomainKeepsFirst(t *testing.T) {
	m := NewManager([]DomainConfig{
		{Name: "ticks", Config: Config{MaxSize: 2}},
		{Name: "ticks", Config: Config{MaxSize: 9}},
	}, WithStatsInterval(0))
	defer m.Close()

	if got := m.Domains(); len(got) != 1 || got[0] != "ticks" {
		t.Fatalf("Domains: got %v, want [ticks]", got)
	}
	if got := m.Domain("ticks").cfg.MaxSize; got != 2 {
		t.Errorf("MaxSize: got %d, want the first domain's 2", got)
	}
}

func TestManager_SetWithTTLIsCappedByDomain(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(nil, WithStatsInterval(0), WithManagerClock(clock.Now))
	defer m.Close()

	SetWithTTL(m, DomainPrices, "SHORT", 1.0, 5*time.Second)
	SetWithTTL(m, DomainPrices, "LONG", 2.0, time.Hour)
	if SetWithTTL(m, "unknown", "X", 1.0, time.Second) {
		t.Error("SetWithTTL into an unknown domain should report false")
	}

	clock.Advance(6 * time.Second)
	if _, ok := Get[float64](m, DomainPrices, "SHORT"); ok {
		t.Error("SHORT should expire after its own 5s TTL")
	}
	if _, ok := Get[float64](m, DomainPrices, "LONG"); !ok {
		t.Error("LONG should still be live at 6s")
	}

	clock.Advance(25 * time.Second)
	if _, ok := Get[float64](m, DomainPrices, "LONG"); ok {
		t.Error("LONG should be capped at the 30s domain TTL")
	}
}

func TestManager_OverallHitRate(t *testing.T) {
	m := NewManager(nil, WithStatsInterval(0))
	defer m.Close()

	if got := m.OverallHitRate(); got != 0 {
		t.Errorf("OverallHitRate with no hits: got %v, want 0", got)
	}

	// prices: 1 hit of 1 request
	Set(m, DomainPrices, "BTC", 1.0)
	Get[float64](m, DomainPrices, "BTC")

	// historical: 1 hit of 2 requests
	Set(m, DomainHistorical, "BTC", 2.0)
	Get[float64](m, DomainHistorical, "BTC")
	Get[float64](m, DomainHistorical, "ETH")

	// currency: misses only, excluded from the mean
	Get[string](m, DomainCurrency, "USD")

	if got, want := m.OverallHitRate(), 0.75; got != want {
		t.Errorf("OverallHitRate: got %v, want %v", got, want)
	}
}

func TestManager_ClearAll(t *testing.T) {
	m := NewManager(nil, WithStatsInterval(0))
	defer m.Close()

	Set(m, DomainPrices, "BTC", 1.0)
	Set(m, DomainHistorical, "BTC", 2.0)
	Set(m, DomainCurrency, "USD", "dollar")

	m.ClearAll()
	for _, name := range m.Domains() {
		if n := m.Domain(name).Len(); n != 0 {
			t.Errorf("%s: Len after ClearAll = %d", name, n)
		}
	}

	Set(m, DomainPrices, "BTC", 1.0)
	m.OnMemoryWarning()
	if m.Domain(DomainPrices).Len() != 0 {
		t.Error("OnMemoryWarning should clear every domain")
	}
}

func TestManager_RefreshPublishesSnapshot(t *testing.T) {
	sink := &recordingSink{}
	m := NewManager([]DomainConfig{{Name: "quotes", Config: Config{MaxSize: 5}}},
		WithStatsInterval(0), WithMetrics(sink))
	defer m.Close()

	Set(m, "quotes", "a", 1)
	Set(m, "quotes", "b", 2)
	Get[int](m, "quotes", "a")
	Get[int](m, "quotes", "z")

	snap := m.Refresh()
	if snap.Domains["quotes"].Size != 2 {
		t.Errorf("snapshot size: got %d, want 2", snap.Domains["quotes"].Size)
	}
	if snap.OverallHitRate != 0.5 {
		t.Errorf("snapshot hit rate: got %v, want 0.5", snap.OverallHitRate)
	}
	if got := m.Snapshot(); got.OverallHitRate != snap.OverallHitRate {
		t.Error("Snapshot should return the last refresh")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.rates["quotes"] != 0.5 || sink.entries["quotes"] != 2 {
		t.Errorf("sink: got rate %v entries %d", sink.rates["quotes"], sink.entries["quotes"])
	}
}

func TestManager_StatsTicker(t *testing.T) {
	m := NewManager([]DomainConfig{{Name: "quotes", Config: Config{}}},
		WithStatsInterval(5*time.Millisecond))
	defer m.Close()

	first := m.Snapshot().Taken
	Set(m, "quotes", "a", 1)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := m.Snapshot()
		if snap.Taken.After(first) && snap.Domains["quotes"].Size == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("stats ticker did not refresh the snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
