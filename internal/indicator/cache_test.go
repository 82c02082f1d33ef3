package indicator

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"symphonybacktest/internal/domain"
)

// countingEngine tracks how many computations reach the inner engine.
type countingEngine struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingEngine) Compute(spec domain.IndicatorSpec, ticker string, series domain.Series) (float64, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return 42, nil
}

func Test_CachedEngine(t *testing.T) {
	spec := domain.IndicatorSpec{Name: domain.IndicatorMovingAveragePrice, Window: 2}

	t.Run("repeat computations hit the cache", func(t *testing.T) {
		inner := &countingEngine{}
		engine := NewCachedEngine(inner, NewCache())
		series := seriesFromCloses(10, 20)

		for i := 0; i < 3; i++ {
			v, err := engine.Compute(spec, "SPY", series)
			require.NoError(t, err)
			require.Equal(t, 42.0, v)
		}
		require.Equal(t, 1, inner.calls)
	})

	t.Run("different as-of dates compute separately", func(t *testing.T) {
		inner := &countingEngine{}
		engine := NewCachedEngine(inner, NewCache())

		_, err := engine.Compute(spec, "SPY", seriesFromCloses(10, 20))
		require.NoError(t, err)
		_, err = engine.Compute(spec, "SPY", seriesFromCloses(10, 20, 30))
		require.NoError(t, err)
		require.Equal(t, 2, inner.calls)
	})

	t.Run("tickers do not share entries", func(t *testing.T) {
		inner := &countingEngine{}
		engine := NewCachedEngine(inner, NewCache())
		series := seriesFromCloses(10, 20)

		_, err := engine.Compute(spec, "SPY", series)
		require.NoError(t, err)
		_, err = engine.Compute(spec, "QQQ", series)
		require.NoError(t, err)
		require.Equal(t, 2, inner.calls)
	})

	t.Run("failures are never cached", func(t *testing.T) {
		inner := &countingEngine{err: errors.New("boom")}
		engine := NewCachedEngine(inner, NewCache())
		series := seriesFromCloses(10, 20)

		_, err := engine.Compute(spec, "SPY", series)
		require.Error(t, err)
		_, err = engine.Compute(spec, "SPY", series)
		require.Error(t, err)
		require.Equal(t, 2, inner.calls)
	})

	t.Run("empty series bypasses the cache", func(t *testing.T) {
		inner := &countingEngine{}
		engine := NewCachedEngine(inner, NewCache())

		_, err := engine.Compute(spec, "SPY", domain.Series{})
		require.NoError(t, err)
		_, err = engine.Compute(spec, "SPY", domain.Series{})
		require.NoError(t, err)
		require.Equal(t, 2, inner.calls)
	})

	t.Run("concurrent readers agree", func(t *testing.T) {
		engine := NewCachedEngine(NewEngine(), NewCache())
		series := seriesFromCloses(10, 20, 30)

		var wg sync.WaitGroup
		values := make([]float64, 16)
		errs := make([]error, 16)
		for i := range values {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				values[i], errs[i] = engine.Compute(spec, "SPY", series)
			}(i)
		}
		wg.Wait()
		for i := range values {
			require.NoError(t, errs[i])
			require.InDelta(t, 25.0, values[i], 1e-9)
		}
	})
}
