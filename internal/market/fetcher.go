package market

import (
	"context"

	"github.com/dgnsrekt/tiercache/internal/cache"
)

// Fetcher loads authoritative market data from a remote.
type Fetcher interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	FetchSeries(ctx context.Context, symbol, interval string) (Series, error)
	FetchCurrency(ctx context.Context, code string) (Currency, error)
}

// NopFetcher has no remote; every fetch is a miss.
type NopFetcher struct{}

func (NopFetcher) FetchQuote(context.Context, string) (Quote, error) {
	return Quote{}, cache.ErrNotFound
}

func (NopFetcher) FetchSeries(context.Context, string, string) (Series, error) {
	return Series{}, cache.ErrNotFound
}

func (NopFetcher) FetchCurrency(context.Context, string) (Currency, error) {
	return Currency{}, cache.ErrNotFound
}

// StoreFetcher reads market data from shared cache tiers, such as Redis
// stores filled by another process. Nil tiers always miss.
type StoreFetcher struct {
	Quotes     cache.Cache[string, Quote]
	Series     cache.Cache[string, Series]
	Currencies cache.Cache[string, Currency]
}

func (f StoreFetcher) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	if f.Quotes == nil {
		return Quote{}, cache.ErrNotFound
	}
	return f.Quotes.Get(ctx, symbol)
}

func (f StoreFetcher) FetchSeries(ctx context.Context, symbol, interval string) (Series, error) {
	if f.Series == nil {
		return Series{}, cache.ErrNotFound
	}
	return f.Series.Get(ctx, SeriesKey(symbol, interval))
}

func (f StoreFetcher) FetchCurrency(ctx context.Context, code string) (Currency, error) {
	if f.Currencies == nil {
		return Currency{}, cache.ErrNotFound
	}
	return f.Currencies.Get(ctx, code)
}
