package evaluator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/symphony"
)

// BatchRequest is one symphony to evaluate against its own market context.
type BatchRequest struct {
	ID      string
	Tree    *symphony.ValidatedTree
	Context *domain.MarketContext
}

type BatchResult struct {
	ID     string
	Result *domain.EvaluationResult
	Err    error
}

// EvaluateBatch runs many independent evaluations concurrently, bounded by
// maxParallel. This is the live-window entry point: one failed symphony
// never affects the others, since evaluations share no state. Results keep
// request order. ctx cancellation stops scheduling further evaluations.
func (e *Evaluator) EvaluateBatch(ctx context.Context, requests []BatchRequest, maxParallel int) []BatchResult {
	results := make([]BatchResult, len(requests))

	g, ctx := errgroup.WithContext(ctx)
	if maxParallel > 0 {
		g.SetLimit(maxParallel)
	}
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			results[i].ID = req.ID
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Result, results[i].Err = e.Evaluate(req.Tree, req.Context)
			// per-symphony failures are reported in the slot, not escalated
			return nil
		})
	}
	g.Wait()
	return results
}
