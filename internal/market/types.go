// Package market caches crypto market data: spot quotes, historical
// candle series and currency metadata.
package market

import (
	"strings"
	"time"
)

// Quote is a spot price for one symbol.
type Quote struct {
	Symbol    string
	Price     float64
	Change24h float64
	Volume24h float64
	UpdatedAt time.Time
}

// ModifyDate implements cache.Modifiable.
func (q Quote) ModifyDate() time.Time { return q.UpdatedAt }

// IsEmpty implements cache.Emptyable.
func (q Quote) IsEmpty() bool { return q.Symbol == "" || q.Price == 0 }

// Candle is one OHLCV bar.
type Candle struct {
	Open, High, Low, Close float64
	Volume                 float64
	Time                   time.Time
}

// Series is the candle history of a symbol at one interval.
type Series struct {
	Symbol    string
	Interval  string
	Candles   []Candle
	UpdatedAt time.Time
}

// ModifyDate implements cache.Modifiable.
func (s Series) ModifyDate() time.Time { return s.UpdatedAt }

// IsEmpty implements cache.Emptyable.
func (s Series) IsEmpty() bool { return len(s.Candles) == 0 }

// Currency describes a fiat or crypto currency.
type Currency struct {
	Code      string
	Name      string
	Sign      string
	Decimals  int
	UpdatedAt time.Time
}

// ModifyDate implements cache.Modifiable.
func (c Currency) ModifyDate() time.Time { return c.UpdatedAt }

// IsEmpty implements cache.Emptyable.
func (c Currency) IsEmpty() bool { return c.Code == "" }

// SeriesKey is the cache key of a symbol's series at an interval.
func SeriesKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + "@" + interval
}

// splitSeriesKey reverses SeriesKey.
func splitSeriesKey(key string) (symbol, interval string) {
	symbol, interval, _ = strings.Cut(key, "@")
	return symbol, interval
}
