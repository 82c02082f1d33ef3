package domain

import "fmt"

// CashTicker is the pseudo-asset used when part of a strategy resolves to
// holding cash. The upstream symphony format uses the same symbol.
const CashTicker = "$USD"

type NodeKind string

const (
	NodeKindRoot            NodeKind = "root"
	NodeKindAsset           NodeKind = "asset"
	NodeKindGroup           NodeKind = "group"
	NodeKindCondition       NodeKind = "condition"
	NodeKindConditionBranch NodeKind = "condition-branch"
	NodeKindFilter          NodeKind = "filter"
)

type Comparator string

const (
	ComparatorGt  Comparator = ">"
	ComparatorLt  Comparator = "<"
	ComparatorGte Comparator = ">="
	ComparatorLte Comparator = "<="
	ComparatorEq  Comparator = "=="
)

type Indicator string

const (
	IndicatorRelativeStrengthIndex          Indicator = "relative-strength-index"
	IndicatorMovingAveragePrice             Indicator = "moving-average-price"
	IndicatorExponentialMovingAveragePrice  Indicator = "exponential-moving-average-price"
	IndicatorStandardDeviationPrice         Indicator = "standard-deviation-price"
	IndicatorStandardDeviationReturn        Indicator = "standard-deviation-return"
	IndicatorMaxDrawdown                    Indicator = "max-drawdown"
	IndicatorCumulativeReturn               Indicator = "cumulative-return"
	IndicatorCurrentPrice                   Indicator = "current-price"
)

func (i Indicator) Known() bool {
	switch i {
	case IndicatorRelativeStrengthIndex,
		IndicatorMovingAveragePrice,
		IndicatorExponentialMovingAveragePrice,
		IndicatorStandardDeviationPrice,
		IndicatorStandardDeviationReturn,
		IndicatorMaxDrawdown,
		IndicatorCumulativeReturn,
		IndicatorCurrentPrice:
		return true
	}
	return false
}

// NeedsWindow reports whether the indicator requires a positive lookback
// window. current-price ignores any window it is given.
func (i Indicator) NeedsWindow() bool {
	return i != IndicatorCurrentPrice
}

// IndicatorSpec is a fully-resolved indicator invocation. Window is checked
// once at validation time so evaluation never re-inspects parameter bags.
type IndicatorSpec struct {
	Name   Indicator
	Window int
}

func (s IndicatorSpec) String() string {
	if !s.Name.NeedsWindow() {
		return string(s.Name)
	}
	return fmt.Sprintf("%s(%d)", s.Name, s.Window)
}

// Operand is one side of a condition guard: either a literal number or an
// indicator computed for a ticker.
type Operand struct {
	Literal *float64
	Ticker  string
	Fn      *IndicatorSpec
}

func (o Operand) IsLiteral() bool {
	return o.Literal != nil
}

func (o Operand) String() string {
	if o.IsLiteral() {
		return fmt.Sprintf("%v", *o.Literal)
	}
	return fmt.Sprintf("%s of %s", o.Fn, o.Ticker)
}

// Weight is an explicit sibling weight expressed as a fraction. Fractions
// among siblings need not sum to 1; the evaluator renormalizes.
type Weight struct {
	Num int64
	Den int64
}

func (w Weight) Fraction() float64 {
	if w.Den == 0 {
		return 0
	}
	return float64(w.Num) / float64(w.Den)
}

type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

func (f Frequency) Known() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// RebalancePolicy describes when a symphony's target weights should actually
// be applied. Exactly one mode is set: a schedule frequency, or a drift
// corridor width for threshold-based rebalancing.
type RebalancePolicy struct {
	Frequency     Frequency
	CorridorWidth float64
}

func (p RebalancePolicy) ThresholdBased() bool {
	return p.Frequency == ""
}

type SelectMode string

const (
	SelectTop    SelectMode = "top"
	SelectBottom SelectMode = "bottom"
)

// SymphonyNode is one node of a strategy tree. Kind determines which fields
// are meaningful; Validate enforces that.
type SymphonyNode struct {
	ID       string
	Kind     NodeKind
	Name     string
	Children []*SymphonyNode

	// Explicit weight within the parent's budget. Nil means the node shares
	// the parent's unallocated budget equally with its implicit siblings.
	Weight *Weight

	// root
	Rebalance *RebalancePolicy

	// asset
	Ticker   string
	Exchange string

	// condition-branch. Non-else branches carry their own guard, so a
	// condition node expresses an if/elif/else chain through child order.
	Else       bool
	LHS        *Operand
	Comparator Comparator
	RHS        *Operand

	// filter
	SortBy      *IndicatorSpec
	Select      SelectMode
	SelectCount int
}

// FirstAssetTicker returns the ticker of the first asset reachable from n in
// child order. Filters rank non-asset candidates by this delegate ticker.
func (n *SymphonyNode) FirstAssetTicker() (string, bool) {
	if n.Kind == NodeKindAsset {
		return n.Ticker, true
	}
	for _, child := range n.Children {
		if ticker, ok := child.FirstAssetTicker(); ok {
			return ticker, true
		}
	}
	return "", false
}
