package rebalance

import (
	"fmt"
	"math"
	"time"

	"symphonybacktest/internal/domain"
)

// ShouldRebalance decides whether target weights should actually be applied
// on evalDate. It returns the decision plus a human-readable reason, which
// backtest decision histories record alongside the trace.
func ShouldRebalance(
	policy domain.RebalancePolicy,
	evalDate time.Time,
	lastRebalance time.Time,
	currentWeights map[string]float64,
	targetWeights map[string]float64,
) (bool, string) {
	if policy.ThresholdBased() {
		drift := MaxDrift(currentWeights, targetWeights)
		if drift > policy.CorridorWidth {
			return true, fmt.Sprintf("drift %.2f%% exceeds corridor %.2f%%", drift*100, policy.CorridorWidth*100)
		}
		return false, fmt.Sprintf("drift %.2f%% within corridor %.2f%%", drift*100, policy.CorridorWidth*100)
	}

	if lastRebalance.IsZero() {
		return true, fmt.Sprintf("first execution for %s symphony", policy.Frequency)
	}
	next := NextScheduled(lastRebalance, policy.Frequency)
	if !evalDate.Before(next) {
		return true, fmt.Sprintf("%s rebalance due since %s", policy.Frequency, next.Format(time.DateOnly))
	}
	return false, fmt.Sprintf("%s rebalance not due until %s", policy.Frequency, next.Format(time.DateOnly))
}

// MaxDrift is the largest absolute weight difference across the union of
// tickers. Tickers absent on either side count as weight zero.
func MaxDrift(current, target map[string]float64) float64 {
	maxDrift := 0.0
	for ticker, targetWeight := range target {
		drift := math.Abs(targetWeight - current[ticker])
		if drift > maxDrift {
			maxDrift = drift
		}
	}
	for ticker, currentWeight := range current {
		if _, ok := target[ticker]; !ok && currentWeight > maxDrift {
			maxDrift = currentWeight
		}
	}
	return maxDrift
}

// NextScheduled returns the first date on or after which a rebalance is due
// again. Schedule math follows calendar rules, not raw day counts: monthly
// means the same day of the next month, clipped to that month's length.
func NextScheduled(last time.Time, freq domain.Frequency) time.Time {
	switch freq {
	case domain.FrequencyDaily:
		return last.AddDate(0, 0, 1)
	case domain.FrequencyWeekly:
		return last.AddDate(0, 0, 7)
	case domain.FrequencyMonthly:
		return addMonthsClipped(last, 1)
	case domain.FrequencyQuarterly:
		return addMonthsClipped(last, 3)
	case domain.FrequencyYearly:
		return addMonthsClipped(last, 12)
	}
	return last.AddDate(0, 0, 1)
}

// addMonthsClipped advances by whole months without Go's AddDate overflow
// (Jan 31 + 1 month must be Feb 28/29, not Mar 2/3).
func addMonthsClipped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if max := daysIn(target.Year(), target.Month()); day > max {
		day = max
	}
	return time.Date(target.Year(), target.Month(), day, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
