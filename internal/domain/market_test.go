package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func candlesFrom(start time.Time, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{Date: start.AddDate(0, 0, i), Close: c}
	}
	return out
}

func Test_MarketContext(t *testing.T) {
	history := map[string][]Candle{
		"SPY": candlesFrom(date(2024, 1, 1), 100, 101, 102, 103),
	}

	t.Run("series are truncated at the as-of date", func(t *testing.T) {
		mc := NewMarketContext(date(2024, 1, 2), history)
		s, ok := mc.Series("SPY")
		require.True(t, ok)
		require.Empty(t, cmp.Diff([]float64{100, 101}, s.Closes()))
	})

	t.Run("as-of date between candles keeps the earlier ones", func(t *testing.T) {
		mc := NewMarketContext(date(2024, 1, 10), history)
		s, _ := mc.Series("SPY")
		require.Len(t, s, 4)
	})

	t.Run("as-of date before all candles leaves an empty series", func(t *testing.T) {
		mc := NewMarketContext(date(2023, 12, 1), history)
		s, ok := mc.Series("SPY")
		require.True(t, ok)
		require.Empty(t, s)
	})

	t.Run("unknown ticker", func(t *testing.T) {
		mc := NewMarketContext(date(2024, 1, 2), history)
		_, ok := mc.Series("QQQ")
		require.False(t, ok)
	})
}

func Test_PriceHistory(t *testing.T) {
	history := NewPriceHistory(map[string][]Candle{
		"SPY": candlesFrom(date(2024, 1, 1), 100, 101, 102),
		"TLT": {
			{Date: date(2024, 1, 2), Close: 50},
			{Date: date(2024, 1, 4), Close: 51},
		},
	})

	t.Run("trading days are the union across tickers", func(t *testing.T) {
		days := history.TradingDays(date(2024, 1, 1), date(2024, 1, 4))
		require.Empty(t, cmp.Diff([]time.Time{
			date(2024, 1, 1), date(2024, 1, 2), date(2024, 1, 3), date(2024, 1, 4),
		}, days))
	})

	t.Run("trading days respect the range bounds", func(t *testing.T) {
		days := history.TradingDays(date(2024, 1, 2), date(2024, 1, 3))
		require.Len(t, days, 2)
	})

	t.Run("candles are sorted on construction", func(t *testing.T) {
		unsorted := NewPriceHistory(map[string][]Candle{
			"SPY": {
				{Date: date(2024, 1, 3), Close: 102},
				{Date: date(2024, 1, 1), Close: 100},
				{Date: date(2024, 1, 2), Close: 101},
			},
		})
		mc := unsorted.ContextAt(date(2024, 1, 3))
		s, _ := mc.Series("SPY")
		require.Empty(t, cmp.Diff([]float64{100, 101, 102}, s.Closes()))
	})

	t.Run("close on a non-trading day falls back to the prior close", func(t *testing.T) {
		price, ok := history.CloseOn("TLT", date(2024, 1, 3))
		require.True(t, ok)
		require.Equal(t, 50.0, price)

		_, ok = history.CloseOn("TLT", date(2024, 1, 1))
		require.False(t, ok)

		_, ok = history.CloseOn("GLD", date(2024, 1, 3))
		require.False(t, ok)
	})
}
