package domain

// DecisionRecord is one step of the evaluation's decision trace. Records are
// appended in traversal order so a run can be replayed or audited.
type DecisionRecord struct {
	NodeID string
	Kind   NodeKind

	// Inputs holds the numeric values consulted at this node: guard operand
	// values for conditions (keyed "<branchID>.lhs"/"<branchID>.rhs"),
	// ranking scores for filters (keyed by candidate node id).
	Inputs map[string]float64

	// Outcome is a short description of what the node resolved to.
	Outcome string

	// BranchID is the selected branch for conditions.
	BranchID string

	// Selected holds the chosen candidate node ids for filters.
	Selected []string
}

// EvaluationResult is the output of one evaluator run. Weights are
// non-negative and sum to 1.0 within floating tolerance; an empty map means
// the whole tree resolved to cash. Partial cash appears under CashTicker.
type EvaluationResult struct {
	Weights  map[string]float64
	Trace    []DecisionRecord
	Warnings []string
}
