package calculator

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"symphonybacktest/internal/domain"
)

type Metrics struct {
	AnnualizedReturn float64
	AnnualizedStdev  float64
	SharpeRatio      float64
	MaxDrawdown      float64
}

// Calculate derives summary performance from a backtest value series. It
// assumes samples are date-ascending, which the driver guarantees.
func Calculate(samples []domain.ValueSample) (*Metrics, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("cannot calculate metrics on < 2 value samples")
	}

	startValue := samples[0].Value
	if startValue.IsZero() {
		return nil, fmt.Errorf("cannot calculate metrics from a zero starting value")
	}

	returns := make([]float64, 0, len(samples)-1)
	lastValue := startValue
	for _, s := range samples[1:] {
		returns = append(returns, s.Value.Sub(lastValue).Div(lastValue).InexactFloat64())
		lastValue = s.Value
	}

	stdev, err := stats.StandardDeviationSample(returns)
	if err != nil {
		return nil, err
	}
	annualizedStdev := stdev * math.Sqrt(252)

	numHours := samples[len(samples)-1].Date.Sub(samples[0].Date).Hours()
	numYears := numHours / (365 * 24)
	endValue := samples[len(samples)-1].Value
	growth := endValue.Div(startValue).InexactFloat64()
	annualizedReturn := math.Pow(growth, 1/numYears) - 1

	sharpeRatio := 0.0
	if annualizedStdev > 0 {
		sharpeRatio = annualizedReturn / annualizedStdev
	}

	return &Metrics{
		AnnualizedReturn: annualizedReturn,
		AnnualizedStdev:  annualizedStdev,
		SharpeRatio:      sharpeRatio,
		MaxDrawdown:      maxDrawdown(samples),
	}, nil
}

func maxDrawdown(samples []domain.ValueSample) float64 {
	runningMax := decimal.Zero
	worst := 0.0
	for _, s := range samples {
		if s.Value.GreaterThan(runningMax) {
			runningMax = s.Value
		}
		drawdown := s.Value.Sub(runningMax).Div(runningMax).InexactFloat64()
		if drawdown < worst {
			worst = drawdown
		}
	}
	return worst
}
