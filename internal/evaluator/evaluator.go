package evaluator

import (
	"fmt"
	"math"
	"sort"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/indicator"
	"symphonybacktest/internal/symphony"
)

const weightTolerance = 1e-9

// EvaluationFailedError is terminal for one evaluation call. It carries the
// node whose indicator computation failed; callers treat it as the trigger
// for liquidation.
type EvaluationFailedError struct {
	NodeID string
	Cause  error
}

func (e EvaluationFailedError) Error() string {
	return fmt.Sprintf("evaluation failed at node %s: %v", e.NodeID, e.Cause)
}

func (e EvaluationFailedError) Unwrap() error {
	return e.Cause
}

// Evaluator resolves a validated tree against a market context into target
// weights. It holds no mutable state, so one Evaluator can serve any number
// of concurrent evaluations.
type Evaluator struct {
	engine indicator.Engine
}

func New(engine indicator.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// Evaluate walks the tree carrying a weight budget that starts at 1.0 at the
// root. The returned weights are non-negative and sum to 1.0 within
// tolerance; an empty map means the whole tree resolved to cash. Any
// indicator failure anywhere aborts the evaluation with
// EvaluationFailedError.
func (e *Evaluator) Evaluate(tree *symphony.ValidatedTree, mc *domain.MarketContext) (*domain.EvaluationResult, error) {
	w := &walker{engine: e.engine, mc: mc}
	weights, err := w.node(tree.Root(), 1.0)
	if err != nil {
		return nil, err
	}
	return &domain.EvaluationResult{
		Weights:  w.finalize(weights),
		Trace:    w.trace,
		Warnings: w.warnings,
	}, nil
}

type walker struct {
	engine   indicator.Engine
	mc       *domain.MarketContext
	trace    []domain.DecisionRecord
	warnings []string
}

func (w *walker) record(r domain.DecisionRecord) {
	w.trace = append(w.trace, r)
}

func (w *walker) warnf(format string, args ...any) {
	w.warnings = append(w.warnings, fmt.Sprintf(format, args...))
}

func (w *walker) node(n *domain.SymphonyNode, budget float64) (map[string]float64, error) {
	switch n.Kind {
	case domain.NodeKindAsset:
		w.record(domain.DecisionRecord{
			NodeID:  n.ID,
			Kind:    n.Kind,
			Outcome: fmt.Sprintf("allocate %s", n.Ticker),
		})
		return map[string]float64{n.Ticker: budget}, nil
	case domain.NodeKindRoot, domain.NodeKindGroup, domain.NodeKindConditionBranch:
		return w.composite(n, budget)
	case domain.NodeKindCondition:
		return w.condition(n, budget)
	case domain.NodeKindFilter:
		return w.filter(n, budget)
	}
	return nil, EvaluationFailedError{NodeID: n.ID, Cause: fmt.Errorf("unknown node kind %q", n.Kind)}
}

// composite partitions a node's budget among its children. Children with an
// explicit weight fraction keep their relative proportion; the rest of the
// budget is split equally among implicit children.
func (w *walker) composite(n *domain.SymphonyNode, budget float64) (map[string]float64, error) {
	shares := w.shares(n)
	w.record(domain.DecisionRecord{
		NodeID:  n.ID,
		Kind:    n.Kind,
		Inputs:  shareInputs(n, shares),
		Outcome: fmt.Sprintf("split budget across %d children", len(n.Children)),
	})

	merged := map[string]float64{}
	for i, child := range n.Children {
		if shares[i] == 0 {
			continue
		}
		childWeights, err := w.node(child, budget*shares[i])
		if err != nil {
			return nil, err
		}
		mergeWeights(merged, childWeights)
	}
	return merged, nil
}

// shares computes each child's fraction of the parent budget. Explicit
// fractions that do not sum to 1 are renormalized rather than rejected.
func (w *walker) shares(n *domain.SymphonyNode) []float64 {
	shares := make([]float64, len(n.Children))
	explicitSum := 0.0
	implicit := 0
	for _, child := range n.Children {
		if child.Weight != nil {
			explicitSum += child.Weight.Fraction()
		} else {
			implicit++
		}
	}

	switch {
	case implicit == len(n.Children):
		for i := range shares {
			shares[i] = 1 / float64(len(n.Children))
		}
	case implicit == 0:
		if explicitSum == 0 {
			w.warnf("node %s: all explicit weights are zero, splitting equally", n.ID)
			for i := range shares {
				shares[i] = 1 / float64(len(n.Children))
			}
			return shares
		}
		if math.Abs(explicitSum-1) > 1e-6 {
			w.warnf("node %s: explicit weights sum to %v, renormalizing", n.ID, explicitSum)
		}
		for i, child := range n.Children {
			shares[i] = child.Weight.Fraction() / explicitSum
		}
	default:
		// mixed: explicit children take their stated fraction (scaled down
		// if the stated fractions overflow the budget), implicit children
		// split whatever remains
		scale := 1.0
		if explicitSum > 1 {
			w.warnf("node %s: explicit weights sum to %v, scaling to fit budget", n.ID, explicitSum)
			scale = 1 / explicitSum
		}
		remaining := 1 - explicitSum*scale
		if remaining <= weightTolerance {
			w.warnf("node %s: explicit weights consume the whole budget, implicit children receive nothing", n.ID)
		}
		for i, child := range n.Children {
			if child.Weight != nil {
				shares[i] = child.Weight.Fraction() * scale
			} else {
				shares[i] = remaining / float64(implicit)
			}
		}
	}
	return shares
}

// condition selects the first branch in child order whose guard holds, or
// the trailing else branch. Exactly one branch is recursed into; guards and
// subtrees of the remaining branches are never touched.
func (w *walker) condition(n *domain.SymphonyNode, budget float64) (map[string]float64, error) {
	inputs := map[string]float64{}
	for _, branch := range n.Children {
		if branch.Else {
			w.record(domain.DecisionRecord{
				NodeID:   n.ID,
				Kind:     n.Kind,
				Inputs:   inputs,
				Outcome:  "else branch selected",
				BranchID: branch.ID,
			})
			return w.node(branch, budget)
		}

		lhs, err := w.operand(n.ID, branch.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := w.operand(n.ID, branch.RHS)
		if err != nil {
			return nil, err
		}
		inputs[branch.ID+".lhs"] = lhs
		inputs[branch.ID+".rhs"] = rhs

		if compare(branch.Comparator, lhs, rhs) {
			w.record(domain.DecisionRecord{
				NodeID:   n.ID,
				Kind:     n.Kind,
				Inputs:   inputs,
				Outcome:  fmt.Sprintf("guard %v %s %v is true", lhs, branch.Comparator, rhs),
				BranchID: branch.ID,
			})
			return w.node(branch, budget)
		}
	}

	// no guard matched and no else arm: this subtree's budget stays in cash
	w.record(domain.DecisionRecord{
		NodeID:  n.ID,
		Kind:    n.Kind,
		Inputs:  inputs,
		Outcome: "no branch matched, holding cash",
	})
	return map[string]float64{domain.CashTicker: budget}, nil
}

// filter ranks every direct child by the sort indicator (non-asset children
// are scored by their first descendant asset's ticker), selects the first
// SelectCount after a stable sort, and splits the budget equally among them.
func (w *walker) filter(n *domain.SymphonyNode, budget float64) (map[string]float64, error) {
	type candidate struct {
		node  *domain.SymphonyNode
		score float64
	}

	scores := map[string]float64{}
	candidates := make([]candidate, 0, len(n.Children))
	for _, child := range n.Children {
		ticker, ok := child.FirstAssetTicker()
		if !ok {
			return nil, EvaluationFailedError{
				NodeID: n.ID,
				Cause:  fmt.Errorf("filter candidate %s contains no asset to rank by", child.ID),
			}
		}
		score, err := w.indicatorValue(n.ID, *n.SortBy, ticker)
		if err != nil {
			return nil, err
		}
		scores[child.ID] = score
		candidates = append(candidates, candidate{node: child, score: score})
	}

	// stable sort keeps original child order as the tie-break
	if n.Select == domain.SelectBottom {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })
	} else {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	}

	count := n.SelectCount
	if count > len(candidates) {
		count = len(candidates)
	}
	selected := candidates[:count]

	selectedIDs := make([]string, len(selected))
	for i, c := range selected {
		selectedIDs[i] = c.node.ID
	}
	w.record(domain.DecisionRecord{
		NodeID:   n.ID,
		Kind:     n.Kind,
		Inputs:   scores,
		Outcome:  fmt.Sprintf("selected %s %d by %s", n.Select, count, n.SortBy),
		Selected: selectedIDs,
	})

	// the selected subset behaves like an implicit equal-weight group
	merged := map[string]float64{}
	for _, c := range selected {
		childWeights, err := w.node(c.node, budget/float64(count))
		if err != nil {
			return nil, err
		}
		mergeWeights(merged, childWeights)
	}
	return merged, nil
}

func (w *walker) operand(nodeID string, o *domain.Operand) (float64, error) {
	if o.IsLiteral() {
		return *o.Literal, nil
	}
	return w.indicatorValue(nodeID, *o.Fn, o.Ticker)
}

func (w *walker) indicatorValue(nodeID string, spec domain.IndicatorSpec, ticker string) (float64, error) {
	series, ok := w.mc.Series(ticker)
	if !ok {
		return 0, EvaluationFailedError{
			NodeID: nodeID,
			Cause:  indicator.InsufficientHistoryError{Indicator: spec.Name, Ticker: ticker, Need: 1, Have: 0},
		}
	}
	value, err := w.engine.Compute(spec, ticker, series)
	if err != nil {
		return 0, EvaluationFailedError{NodeID: nodeID, Cause: err}
	}
	return value, nil
}

func compare(c domain.Comparator, lhs, rhs float64) bool {
	switch c {
	case domain.ComparatorGt:
		return lhs > rhs
	case domain.ComparatorLt:
		return lhs < rhs
	case domain.ComparatorGte:
		return lhs >= rhs
	case domain.ComparatorLte:
		return lhs <= rhs
	case domain.ComparatorEq:
		return math.Abs(lhs-rhs) <= weightTolerance
	}
	return false
}

func mergeWeights(into, from map[string]float64) {
	for ticker, weight := range from {
		into[ticker] += weight
	}
}

// finalize drops zero entries, collapses a fully-cash result to the empty
// map, and rescales the rest proportionally so the weights sum to exactly 1.
func (w *walker) finalize(weights map[string]float64) map[string]float64 {
	sum := 0.0
	out := map[string]float64{}
	for ticker, weight := range weights {
		if weight <= 0 {
			continue
		}
		out[ticker] = weight
		sum += weight
	}
	if len(out) == 0 {
		return map[string]float64{}
	}
	if len(out) == 1 && out[domain.CashTicker] > 0 {
		return map[string]float64{}
	}
	if math.Abs(sum-1) > weightTolerance {
		for ticker := range out {
			out[ticker] /= sum
		}
	}
	return out
}

func shareInputs(n *domain.SymphonyNode, shares []float64) map[string]float64 {
	inputs := make(map[string]float64, len(shares))
	for i, child := range n.Children {
		inputs[child.ID] = shares[i]
	}
	return inputs
}
