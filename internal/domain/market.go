package domain

import (
	"sort"
	"time"
)

type Candle struct {
	Date   time.Time
	Close  float64
	Volume float64
}

// Series is a per-ticker candle history in ascending date order.
type Series []Candle

func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

func (s Series) LastClose() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1].Close, true
}

// MarketContext is an immutable as-of-dated view over price history. Every
// series ends at (and includes at most) the evaluation date. Construct one
// per evaluation call; the interpreter never mutates it.
type MarketContext struct {
	date   time.Time
	series map[string]Series
}

func NewMarketContext(date time.Time, series map[string][]Candle) *MarketContext {
	mc := &MarketContext{
		date:   date,
		series: make(map[string]Series, len(series)),
	}
	for ticker, candles := range series {
		mc.series[ticker] = truncate(candles, date)
	}
	return mc
}

func (mc *MarketContext) Date() time.Time {
	return mc.date
}

func (mc *MarketContext) Series(ticker string) (Series, bool) {
	s, ok := mc.series[ticker]
	return s, ok
}

func (mc *MarketContext) Tickers() []string {
	tickers := make([]string, 0, len(mc.series))
	for ticker := range mc.series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}

// truncate drops candles after the as-of date, so no look-ahead can leak
// into indicator computation.
func truncate(candles []Candle, date time.Time) Series {
	i := sort.Search(len(candles), func(i int) bool {
		return candles[i].Date.After(date)
	})
	out := make(Series, i)
	copy(out, candles[:i])
	return out
}

// PriceHistory holds full candle series per ticker and hands out bounded
// MarketContext views for individual evaluation dates.
type PriceHistory struct {
	series map[string]Series
}

func NewPriceHistory(series map[string][]Candle) *PriceHistory {
	h := &PriceHistory{series: make(map[string]Series, len(series))}
	for ticker, candles := range series {
		s := make(Series, len(candles))
		copy(s, candles)
		sort.Slice(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
		h.series[ticker] = s
	}
	return h
}

func (h *PriceHistory) Tickers() []string {
	tickers := make([]string, 0, len(h.series))
	for ticker := range h.series {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}

// TradingDays returns the union of candle dates across all tickers within
// [start, end], ascending.
func (h *PriceHistory) TradingDays(start, end time.Time) []time.Time {
	seen := map[time.Time]bool{}
	for _, s := range h.series {
		for _, c := range s {
			if c.Date.Before(start) || c.Date.After(end) {
				continue
			}
			seen[c.Date] = true
		}
	}
	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// ContextAt builds the as-of view for one evaluation date.
func (h *PriceHistory) ContextAt(date time.Time) *MarketContext {
	mc := &MarketContext{
		date:   date,
		series: make(map[string]Series, len(h.series)),
	}
	for ticker, s := range h.series {
		mc.series[ticker] = truncate(s, date)
	}
	return mc
}

// CloseOn returns the most recent close on or before date for the ticker.
func (h *PriceHistory) CloseOn(ticker string, date time.Time) (float64, bool) {
	s, ok := h.series[ticker]
	if !ok {
		return 0, false
	}
	return truncate(s, date).LastClose()
}
