package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"symphonybacktest/internal/calculator"
	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/evaluator"
	"symphonybacktest/internal/rebalance"
	"symphonybacktest/internal/symphony"
)

// DefaultInitialCapital matches the production default for new backtests.
var DefaultInitialCapital = decimal.NewFromInt(100_000)

type Driver struct {
	evaluator *evaluator.Evaluator
	log       *zap.SugaredLogger
}

func NewDriver(ev *evaluator.Evaluator, log *zap.SugaredLogger) *Driver {
	return &Driver{evaluator: ev, log: log}
}

type RunInput struct {
	Tree    *symphony.ValidatedTree
	History *domain.PriceHistory
	Start   time.Time
	End     time.Time

	// InitialCapital defaults to DefaultInitialCapital when zero.
	InitialCapital decimal.Decimal
}

// Sample records one evaluation date of a run.
type Sample struct {
	Date time.Time

	// Value is the previous holdings priced at this date's close, before
	// any rebalance.
	Value decimal.Decimal

	// TargetWeights is the evaluator's output; nil on forced-liquidation
	// no-op dates after a failure.
	TargetWeights map[string]float64

	Trace             []domain.DecisionRecord
	Warnings          []string
	Rebalanced        bool
	ForcedLiquidation bool
	Reason            string
}

type Result struct {
	RunID   uuid.UUID
	Samples []Sample

	// Failure is set when an evaluation aborted the strategy; the portfolio
	// sits in cash from FailureDate onward.
	Failure     *evaluator.EvaluationFailedError
	FailureDate time.Time

	// Metrics is nil when fewer than two samples were produced.
	Metrics *calculator.Metrics

	FinalValue decimal.Decimal
	Elapsed    time.Duration
}

// ValueSeries projects the per-date portfolio values for external
// performance computation.
func (r *Result) ValueSeries() []domain.ValueSample {
	series := make([]domain.ValueSample, len(r.Samples))
	for i, s := range r.Samples {
		series[i] = domain.ValueSample{Date: s.Date, Value: s.Value}
	}
	return series
}

// Run replays the strategy over the historical range. Each evaluation date
// sees only information available up to and including that date. An
// evaluation failure liquidates the synthetic portfolio to cash and the
// remaining range reports flat cash performance; the run itself always
// completes.
func (d *Driver) Run(in RunInput) (*Result, error) {
	started := time.Now()

	if in.Tree == nil {
		return nil, errors.New("backtest requires a validated tree")
	}
	if in.History == nil {
		return nil, errors.New("backtest requires price history")
	}
	if in.End.Before(in.Start) {
		return nil, fmt.Errorf("backtest end %s precedes start %s", in.End.Format(time.DateOnly), in.Start.Format(time.DateOnly))
	}
	initial := in.InitialCapital
	if initial.IsZero() {
		initial = DefaultInitialCapital
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("initial capital must be positive, got %s", initial)
	}

	policy := in.Tree.Root().Rebalance
	days := in.History.TradingDays(in.Start, in.End)
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days between %s and %s", in.Start.Format(time.DateOnly), in.End.Format(time.DateOnly))
	}

	result := &Result{RunID: uuid.New()}
	portfolio := domain.NewPortfolio()
	portfolio.Cash = initial

	var lastRebalance time.Time
	nextDue := days[0]
	liquidated := false

	d.log.Infow("starting backtest",
		"runId", result.RunID,
		"start", in.Start.Format(time.DateOnly),
		"end", in.End.Format(time.DateOnly),
		"tradingDays", len(days),
	)

	for _, day := range days {
		// threshold policies check drift every trading day; scheduled
		// policies only wake up on their due dates
		if !policy.ThresholdBased() && policy.Frequency != domain.FrequencyDaily && day.Before(nextDue) && !liquidated {
			continue
		}

		priceMap := d.priceMapAt(in.History, day)
		value, err := portfolio.TotalValue(priceMap)
		if err != nil {
			return nil, fmt.Errorf("failed to value portfolio on %s: %w", day.Format(time.DateOnly), err)
		}

		if liquidated {
			result.Samples = append(result.Samples, Sample{
				Date:              day,
				Value:             value,
				ForcedLiquidation: true,
				Reason:            "holding cash after evaluation failure",
			})
			continue
		}

		evalResult, err := d.evaluator.Evaluate(in.Tree, in.History.ContextAt(day))
		if err != nil {
			var failure evaluator.EvaluationFailedError
			if !errors.As(err, &failure) {
				return nil, err
			}
			d.log.Warnw("evaluation failed, liquidating to cash",
				"runId", result.RunID,
				"date", day.Format(time.DateOnly),
				"nodeId", failure.NodeID,
				"cause", failure.Cause,
			)
			portfolio = domain.NewPortfolio()
			portfolio.Cash = value
			liquidated = true
			result.Failure = &failure
			result.FailureDate = day
			result.Samples = append(result.Samples, Sample{
				Date:   day,
				Value:  value,
				Reason: failure.Error(),
			})
			continue
		}

		currentWeights, err := portfolio.Weights(priceMap)
		if err != nil {
			return nil, err
		}
		shouldRebalance, reason := rebalance.ShouldRebalance(*policy, day, lastRebalance, currentWeights, evalResult.Weights)
		if shouldRebalance {
			portfolio, err = repriceToTarget(value, evalResult.Weights, priceMap)
			if err != nil {
				return nil, fmt.Errorf("failed to rebalance on %s: %w", day.Format(time.DateOnly), err)
			}
			lastRebalance = day
		}
		if !policy.ThresholdBased() {
			nextDue = rebalance.NextScheduled(day, policy.Frequency)
		}

		result.Samples = append(result.Samples, Sample{
			Date:          day,
			Value:         value,
			TargetWeights: evalResult.Weights,
			Trace:         evalResult.Trace,
			Warnings:      evalResult.Warnings,
			Rebalanced:    shouldRebalance,
			Reason:        reason,
		})
	}

	if last := len(result.Samples) - 1; last >= 0 {
		result.FinalValue = result.Samples[last].Value
	}
	if len(result.Samples) >= 2 {
		metrics, err := calculator.Calculate(result.ValueSeries())
		if err != nil {
			return nil, fmt.Errorf("failed to calculate metrics: %w", err)
		}
		result.Metrics = metrics
	}
	result.Elapsed = time.Since(started)

	d.log.Infow("backtest complete",
		"runId", result.RunID,
		"samples", len(result.Samples),
		"finalValue", result.FinalValue,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// priceMapAt prices every known ticker at its most recent close on or
// before the given day.
func (d *Driver) priceMapAt(history *domain.PriceHistory, day time.Time) map[string]decimal.Decimal {
	priceMap := map[string]decimal.Decimal{}
	for _, ticker := range history.Tickers() {
		if price, ok := history.CloseOn(ticker, day); ok {
			priceMap[ticker] = decimal.NewFromFloat(price)
		}
	}
	return priceMap
}

// repriceToTarget converts target weights into holdings at the given
// prices. Weight under the cash ticker stays uninvested; an empty weight
// map means the whole portfolio sits in cash.
func repriceToTarget(value decimal.Decimal, targetWeights map[string]float64, priceMap map[string]decimal.Decimal) (*domain.Portfolio, error) {
	portfolio := domain.NewPortfolio()
	invested := decimal.Zero
	for ticker, weight := range targetWeights {
		dollars := value.Mul(decimal.NewFromFloat(weight)).Round(3)
		if ticker == domain.CashTicker {
			continue
		}
		price, ok := priceMap[ticker]
		if !ok {
			return nil, fmt.Errorf("price map does not have %s", ticker)
		}
		portfolio.Positions[ticker] = &domain.Position{
			Symbol:   ticker,
			Quantity: dollars.Div(price),
		}
		invested = invested.Add(dollars)
	}
	portfolio.Cash = value.Sub(invested)
	return portfolio, nil
}
