package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/tiercache/internal/cache"
	"github.com/dgnsrekt/tiercache/internal/lru"
	"github.com/dgnsrekt/tiercache/internal/metrics"
	"github.com/dgnsrekt/tiercache/internal/source"
	"github.com/dgnsrekt/tiercache/internal/store/disk"
)

// ErrUnknownDomain is returned for a domain name the repository does not own.
var ErrUnknownDomain = errors.New("market: unknown domain")

// Config sizes the durable tiers of a Repository.
type Config struct {
	// Dir holds one subdirectory per domain.
	Dir string

	// MaxEntries caps each memory and disk tier. Zero means unbounded.
	MaxEntries int

	QuoteExpiry    time.Duration
	SeriesExpiry   time.Duration
	CurrencyExpiry time.Duration

	// CompressionLevel is the zstd level for disk values. Zero disables it.
	CompressionLevel int

	// RequestsPerMinute caps remote fetches per domain. Zero disables it.
	RequestsPerMinute int
}

// DefaultConfig returns the default sizing rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		MaxEntries:        500,
		QuoteExpiry:       15 * time.Minute,
		SeriesExpiry:      time.Hour,
		CurrencyExpiry:    24 * time.Hour,
		CompressionLevel:  3,
		RequestsPerMinute: 60,
	}
}

// Option configures a Repository.
type Option func(*Repository)

// WithMetrics instruments every domain.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// WithClock replaces time.Now for expiry checks, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// DomainStats describes the durable side of one domain.
type DomainStats struct {
	Name    string
	Entries int
	Bytes   int64
	LRU     lru.Stats
}

// Repository serves market data through an LRU domain, then an
// orchestrated memory and disk cache, then the remote fetcher.
type Repository struct {
	cfg     Config
	manager *lru.Manager
	fetcher Fetcher

	quotes     *domain[Quote]
	series     *domain[Series]
	currencies *domain[Currency]
	domains    map[string]admin

	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

// NewRepository opens the disk tiers under cfg.Dir. The manager must own
// the lru.DomainPrices, lru.DomainHistorical and lru.DomainCurrency
// domains; the caller keeps ownership of it.
func NewRepository(cfg Config, fetcher Fetcher, manager *lru.Manager, opts ...Option) (*Repository, error) {
	if fetcher == nil {
		fetcher = NopFetcher{}
	}
	r := &Repository{
		cfg:     cfg,
		manager: manager,
		fetcher: fetcher,
		logger:  log.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	var err error
	r.quotes, err = newDomain[Quote](r, lru.DomainPrices, cfg.QuoteExpiry, func(ctx context.Context, key string) (Quote, error) {
		return r.fetcher.FetchQuote(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	r.series, err = newDomain[Series](r, lru.DomainHistorical, cfg.SeriesExpiry, func(ctx context.Context, key string) (Series, error) {
		symbol, interval := splitSeriesKey(key)
		return r.fetcher.FetchSeries(ctx, symbol, interval)
	})
	if err != nil {
		r.quotes.close() //nolint:errcheck
		return nil, err
	}
	r.currencies, err = newDomain[Currency](r, lru.DomainCurrency, cfg.CurrencyExpiry, func(ctx context.Context, key string) (Currency, error) {
		return r.fetcher.FetchCurrency(ctx, key)
	})
	if err != nil {
		r.quotes.close() //nolint:errcheck
		r.series.close() //nolint:errcheck
		return nil, err
	}

	r.domains = map[string]admin{
		lru.DomainPrices:     r.quotes,
		lru.DomainHistorical: r.series,
		lru.DomainCurrency:   r.currencies,
	}
	return r, nil
}

// Domains returns the domain names in sorted order.
func (r *Repository) Domains() []string {
	names := make([]string, 0, len(r.domains))
	for name := range r.domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Quote returns the spot quote for symbol.
func (r *Repository) Quote(ctx context.Context, symbol string) (Quote, error) {
	return r.quotes.get(ctx, strings.ToUpper(symbol))
}

// Series returns the candle series for symbol at interval.
func (r *Repository) Series(ctx context.Context, symbol, interval string) (Series, error) {
	return r.series.get(ctx, SeriesKey(symbol, interval))
}

// Currency returns the metadata for a currency code.
func (r *Repository) Currency(ctx context.Context, code string) (Currency, error) {
	return r.currencies.get(ctx, strings.ToUpper(code))
}

// StoreQuote writes a quote through every tier. Empty quotes are ignored.
func (r *Repository) StoreQuote(ctx context.Context, q Quote) error {
	q.Symbol = strings.ToUpper(q.Symbol)
	return r.quotes.set(ctx, q.Symbol, q)
}

// StoreSeries writes a series through every tier. Empty series are ignored.
func (r *Repository) StoreSeries(ctx context.Context, s Series) error {
	s.Symbol = strings.ToUpper(s.Symbol)
	return r.series.set(ctx, SeriesKey(s.Symbol, s.Interval), s)
}

// StoreCurrency writes currency metadata through every tier.
func (r *Repository) StoreCurrency(ctx context.Context, c Currency) error {
	c.Code = strings.ToUpper(c.Code)
	return r.currencies.set(ctx, c.Code, c)
}

// WarmQuotes fetches symbols from the remote into the durable tiers.
func (r *Repository) WarmQuotes(ctx context.Context, symbols []string, cfg cache.WarmConfig) *cache.WarmResults[string] {
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = strings.ToUpper(s)
	}
	return cache.Warm[string, Quote](ctx, r.quotes.orchestrated, keys, r.fetcher.FetchQuote, cfg)
}

// Keys lists the keys stored on disk for a domain.
func (r *Repository) Keys(ctx context.Context, name string) ([]string, error) {
	d, ok := r.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	keys, err := d.keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key from every tier of a domain.
func (r *Repository) Delete(ctx context.Context, name, key string) error {
	d, ok := r.domains[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return d.delete(ctx, key)
}

// Purge removes expired entries from every domain and returns the total.
func (r *Repository) Purge(ctx context.Context) (int, error) {
	total := 0
	for _, name := range r.Domains() {
		n, err := r.domains[name].purge(ctx)
		total += n
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", name, err)
		}
	}
	return total, nil
}

// Clear empties the memory tiers and LRU domains. With durable set, disk
// entries are removed too.
func (r *Repository) Clear(durable bool) {
	r.manager.ClearAll()
	for _, d := range r.domains {
		d.clear(durable)
	}
}

// OnMemoryWarning sheds every in-process tier. Disk is left alone.
func (r *Repository) OnMemoryWarning() {
	r.manager.OnMemoryWarning()
	for _, d := range r.domains {
		d.onMemoryWarning()
	}
}

// Watch drops disk entries removed by other processes until ctx is done.
func (r *Repository) Watch(ctx context.Context) error {
	for _, name := range r.Domains() {
		if err := r.domains[name].watch(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", name, err)
		}
	}
	return nil
}

// Stats describes every domain.
func (r *Repository) Stats() []DomainStats {
	snap := r.manager.Refresh()

	stats := make([]DomainStats, 0, len(r.domains))
	for _, name := range r.Domains() {
		entries, bytes := r.domains[name].size()
		stats = append(stats, DomainStats{
			Name:    name,
			Entries: entries,
			Bytes:   bytes,
			LRU:     snap.Domains[name],
		})
	}
	return stats
}

// Close persists the disk indexes.
func (r *Repository) Close() error {
	var errs []error
	for _, name := range r.Domains() {
		if err := r.domains[name].close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// admin is the type-erased view of a domain used for maintenance.
type admin interface {
	keys(ctx context.Context) ([]string, error)
	delete(ctx context.Context, key string) error
	purge(ctx context.Context) (int, error)
	clear(durable bool)
	onMemoryWarning()
	watch(ctx context.Context) error
	size() (int, int64)
	close() error
}

// domain is the tier stack for one kind of value.
type domain[V cache.Modifiable] struct {
	name         string
	manager      *lru.Manager
	disk         *disk.Store[V]
	orchestrated *cache.Orchestrated[string, V]
	chain        cache.Cache[string, V]
	expiry       time.Duration
	now          func() time.Time
}

func newDomain[V cache.Modifiable](r *Repository, name string, expiry time.Duration, fetch source.FetchFunc[string, V]) (*domain[V], error) {
	store, err := disk.New[V](filepath.Join(r.cfg.Dir, name),
		disk.WithCompressionLevel(r.cfg.CompressionLevel),
		disk.WithLogger(r.logger))
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", name, err)
	}

	opts := []cache.Option{cache.WithLogger(r.logger), cache.WithClock(r.now)}
	if r.metrics != nil {
		opts = append(opts, cache.WithEvictionHook(r.metrics.EvictionHook(name)))
	}
	orchestrated := cache.NewOrchestrated[string, V](cache.NewMemory[string, V](), store, r.cfg.MaxEntries, expiry, opts...)

	remote := source.New(fetch,
		source.WithRateLimit(r.cfg.RequestsPerMinute, 1),
		source.WithLogger(r.logger))

	var chain cache.Cache[string, V] = cache.Compose[string, V](orchestrated, remote, cache.WithLogger(r.logger))
	if r.metrics != nil {
		chain = metrics.Instrument(name, chain, r.metrics)
	}

	return &domain[V]{
		name:         name,
		manager:      r.manager,
		disk:         store,
		orchestrated: orchestrated,
		chain:        chain,
		expiry:       expiry,
		now:          r.now,
	}, nil
}

func (d *domain[V]) get(ctx context.Context, key string) (V, error) {
	if v, ok := lru.Get[V](d.manager, d.name, key); ok {
		if d.remaining(v) > 0 {
			return v, nil
		}
		d.manager.Remove(d.name, key)
	}

	v, err := d.chain.Get(ctx, key)
	if err != nil {
		return v, err
	}
	d.remember(key, v)
	return v, nil
}

func (d *domain[V]) set(ctx context.Context, key string, v V) error {
	if err := d.chain.Set(ctx, key, v); err != nil {
		return err
	}
	d.remember(key, v)
	return nil
}

// remember puts v in the LRU domain for no longer than the orchestrated
// tier would keep serving it. Empty and stale values are left out.
func (d *domain[V]) remember(key string, v V) {
	if e, ok := any(v).(cache.Emptyable); ok && e.IsEmpty() {
		d.manager.Remove(d.name, key)
		return
	}
	ttl := d.remaining(v)
	if ttl <= 0 {
		d.manager.Remove(d.name, key)
		return
	}
	lru.SetWithTTL(d.manager, d.name, key, v, ttl)
}

// remaining is how long v stays fresh. Without an expiry it is unbounded.
func (d *domain[V]) remaining(v V) time.Duration {
	if d.expiry <= 0 {
		return math.MaxInt64
	}
	return d.expiry - d.now().Sub(v.ModifyDate())
}

func (d *domain[V]) keys(ctx context.Context) ([]string, error) {
	pairs, err := d.orchestrated.KeyValues(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	return keys, nil
}

func (d *domain[V]) delete(ctx context.Context, key string) error {
	d.manager.Remove(d.name, key)
	if !d.disk.Contains(key) {
		return cache.ErrNotFound
	}
	return d.orchestrated.Delete(ctx, key)
}

func (d *domain[V]) purge(ctx context.Context) (int, error) {
	return d.orchestrated.Purge(ctx)
}

func (d *domain[V]) clear(durable bool) {
	if durable {
		d.orchestrated.ClearDurable()
		return
	}
	d.orchestrated.Clear()
}

func (d *domain[V]) onMemoryWarning() {
	d.orchestrated.OnMemoryWarning()
}

func (d *domain[V]) watch(ctx context.Context) error {
	return d.disk.Watch(ctx)
}

func (d *domain[V]) size() (int, int64) {
	return d.disk.Len(), d.disk.Size()
}

func (d *domain[V]) close() error {
	return d.disk.Close()
}
