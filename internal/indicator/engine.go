package indicator

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"symphonybacktest/internal/domain"
)

// InsufficientHistoryError reports a series shorter than an indicator needs.
// The evaluator escalates it to an evaluation-level failure.
type InsufficientHistoryError struct {
	Indicator domain.Indicator
	Ticker    string
	Need      int
	Have      int
}

func (e InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history for %s on %s: need %d closes, have %d", e.Indicator, e.Ticker, e.Need, e.Have)
}

type InvalidParametersError struct {
	Indicator domain.Indicator
	Reason    string
}

func (e InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters for %s: %s", e.Indicator, e.Reason)
}

// Engine computes technical indicators from a price series. Implementations
// must be pure: same spec and series, same value.
type Engine interface {
	Compute(spec domain.IndicatorSpec, ticker string, series domain.Series) (float64, error)
}

type engine struct{}

func NewEngine() Engine {
	return engine{}
}

func (engine) Compute(spec domain.IndicatorSpec, ticker string, series domain.Series) (float64, error) {
	if !spec.Name.Known() {
		return 0, InvalidParametersError{Indicator: spec.Name, Reason: "unknown indicator"}
	}
	if spec.Name.NeedsWindow() && spec.Window <= 0 {
		return 0, InvalidParametersError{Indicator: spec.Name, Reason: fmt.Sprintf("window must be a positive integer, got %d", spec.Window)}
	}

	closes := series.Closes()
	need := requiredCloses(spec)
	if len(closes) < need {
		return 0, InsufficientHistoryError{Indicator: spec.Name, Ticker: ticker, Need: need, Have: len(closes)}
	}

	switch spec.Name {
	case domain.IndicatorCurrentPrice:
		return closes[len(closes)-1], nil
	case domain.IndicatorMovingAveragePrice:
		return stats.Mean(tail(closes, spec.Window))
	case domain.IndicatorExponentialMovingAveragePrice:
		return ema(closes, spec.Window), nil
	case domain.IndicatorStandardDeviationPrice:
		return stats.StandardDeviationSample(tail(closes, spec.Window))
	case domain.IndicatorStandardDeviationReturn:
		return stats.StandardDeviationSample(percentReturns(tail(closes, spec.Window+1)))
	case domain.IndicatorRelativeStrengthIndex:
		return rsi(tail(closes, spec.Window+1)), nil
	case domain.IndicatorMaxDrawdown:
		return maxDrawdown(tail(closes, spec.Window)), nil
	case domain.IndicatorCumulativeReturn:
		last := closes[len(closes)-1]
		base := closes[len(closes)-1-spec.Window]
		return (last/base - 1) * 100, nil
	}
	return 0, InvalidParametersError{Indicator: spec.Name, Reason: "unknown indicator"}
}

func requiredCloses(spec domain.IndicatorSpec) int {
	switch spec.Name {
	case domain.IndicatorCurrentPrice:
		return 1
	case domain.IndicatorRelativeStrengthIndex,
		domain.IndicatorStandardDeviationReturn,
		domain.IndicatorCumulativeReturn:
		// these operate on window deltas/returns, so one extra close
		return spec.Window + 1
	default:
		return spec.Window
	}
}

func tail(closes []float64, n int) []float64 {
	return closes[len(closes)-n:]
}

// percentReturns converts n closes into n-1 day-over-day percent changes.
func percentReturns(closes []float64) []float64 {
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns[i-1] = (closes[i] - closes[i-1]) / closes[i-1] * 100
	}
	return returns
}

// rsi is the classic Wilder relative strength index. With exactly window+1
// trailing closes the Wilder smoothing reduces to simple averages of the
// gains and losses.
func rsi(closes []float64) float64 {
	var gains, losses float64
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	if losses == 0 {
		return 100
	}
	window := float64(len(closes) - 1)
	rs := (gains / window) / (losses / window)
	return 100 - 100/(1+rs)
}

// ema seeds with the simple average of the first window closes, then applies
// the standard 2/(window+1) smoothing across the rest of the series.
func ema(closes []float64, window int) float64 {
	seed := 0.0
	for _, c := range closes[:window] {
		seed += c
	}
	value := seed / float64(window)
	k := 2 / (float64(window) + 1)
	for _, c := range closes[window:] {
		value = c*k + value*(1-k)
	}
	return value
}

// maxDrawdown is the worst decline from a trailing running maximum,
// expressed as a non-positive fraction.
func maxDrawdown(closes []float64) float64 {
	runningMax := math.Inf(-1)
	worst := 0.0
	for _, c := range closes {
		if c > runningMax {
			runningMax = c
		}
		drawdown := (c - runningMax) / runningMax
		if drawdown < worst {
			worst = drawdown
		}
	}
	return worst
}
