package symphony

import (
	"fmt"
	"sort"

	"symphonybacktest/internal/domain"
)

// MaxDepth bounds recursion during validation and evaluation.
const MaxDepth = 64

// ValidationError describes one structural problem in a definition.
// Validation reports all problems at once so an upload can be fixed in a
// single pass.
type ValidationError struct {
	NodeID  string
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.NodeID == "" {
		return e.Message
	}
	return fmt.Sprintf("node %s: %s: %s", e.NodeID, e.Field, e.Message)
}

// ValidatedTree wraps a tree that passed Validate. The evaluator only
// accepts validated trees, so evaluation never re-checks structure.
type ValidatedTree struct {
	root *domain.SymphonyNode
}

func (t *ValidatedTree) Root() *domain.SymphonyNode {
	return t.root
}

// Validate checks a tree structurally: per-kind required fields, depth and
// cycle bounds, branch ordering, filter selection counts. It never consults
// market data. On any problem it returns the full error list and no tree.
func Validate(root *domain.SymphonyNode) (*ValidatedTree, []ValidationError) {
	v := &validator{visited: map[*domain.SymphonyNode]bool{}}
	if root == nil {
		return nil, []ValidationError{{Message: "symphony has no root node"}}
	}
	if root.Kind != domain.NodeKindRoot {
		v.addf(root, "kind", "top-level node must be root, got %q", root.Kind)
	}
	v.walk(root, 0)
	if len(v.errors) > 0 {
		return nil, v.errors
	}
	return &ValidatedTree{root: root}, nil
}

type validator struct {
	errors  []ValidationError
	visited map[*domain.SymphonyNode]bool
}

func (v *validator) addf(n *domain.SymphonyNode, field, format string, args ...any) {
	id := ""
	if n != nil {
		id = n.ID
	}
	v.errors = append(v.errors, ValidationError{
		NodeID:  id,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) walk(n *domain.SymphonyNode, depth int) {
	if v.visited[n] {
		v.addf(n, "children", "circular reference detected")
		return
	}
	v.visited[n] = true

	if depth > MaxDepth {
		v.addf(n, "children", "tree exceeds maximum depth %d", MaxDepth)
		return
	}
	if n.ID == "" {
		v.addf(n, "id", "missing node id")
	}
	if n.Weight != nil {
		if n.Weight.Den == 0 {
			v.addf(n, "weight", "weight denominator must be non-zero")
		} else if n.Weight.Fraction() < 0 {
			v.addf(n, "weight", "weight fraction must be non-negative")
		}
	}

	switch n.Kind {
	case domain.NodeKindRoot:
		v.checkRoot(n)
	case domain.NodeKindAsset:
		v.checkAsset(n)
	case domain.NodeKindGroup:
		v.checkNonLeaf(n)
	case domain.NodeKindCondition:
		v.checkCondition(n)
	case domain.NodeKindConditionBranch:
		v.checkBranch(n)
	case domain.NodeKindFilter:
		v.checkFilter(n)
	default:
		v.addf(n, "kind", "unknown node kind %q", n.Kind)
	}

	for _, child := range n.Children {
		v.walk(child, depth+1)
	}
}

func (v *validator) checkRoot(n *domain.SymphonyNode) {
	v.checkNonLeaf(n)
	if n.Rebalance == nil {
		v.addf(n, "rebalance", "root must carry a rebalance policy")
		return
	}
	if n.Rebalance.ThresholdBased() {
		if n.Rebalance.CorridorWidth <= 0 {
			v.addf(n, "rebalance", "corridor width must be positive, got %v", n.Rebalance.CorridorWidth)
		}
	} else if !n.Rebalance.Frequency.Known() {
		v.addf(n, "rebalance", "unknown frequency %q", n.Rebalance.Frequency)
	}
}

func (v *validator) checkAsset(n *domain.SymphonyNode) {
	if n.Ticker == "" {
		v.addf(n, "ticker", "asset requires a non-empty ticker symbol")
	}
	if len(n.Children) > 0 {
		v.addf(n, "children", "asset nodes cannot have children")
	}
}

func (v *validator) checkNonLeaf(n *domain.SymphonyNode) {
	if len(n.Children) == 0 {
		v.addf(n, "children", "%s must have at least one child", n.Kind)
	}
}

func (v *validator) checkCondition(n *domain.SymphonyNode) {
	v.checkNonLeaf(n)
	elseCount := 0
	for i, child := range n.Children {
		if child.Kind != domain.NodeKindConditionBranch {
			v.addf(n, "children", "condition children must be condition-branch nodes, got %q", child.Kind)
			continue
		}
		if child.Else {
			elseCount++
			if i != len(n.Children)-1 {
				v.addf(n, "children", "else branch must be the last child")
			}
		}
	}
	if elseCount > 1 {
		v.addf(n, "children", "condition has %d else branches, at most one allowed", elseCount)
	}
}

func (v *validator) checkBranch(n *domain.SymphonyNode) {
	v.checkNonLeaf(n)
	if n.Else {
		return
	}
	if n.LHS == nil || n.RHS == nil {
		v.addf(n, "guard", "non-else branch requires both guard operands")
	}
	if n.Comparator == "" {
		v.addf(n, "comparator", "non-else branch requires a comparator")
	}
	v.checkOperand(n, "lhs", n.LHS)
	v.checkOperand(n, "rhs", n.RHS)
}

func (v *validator) checkOperand(n *domain.SymphonyNode, field string, o *domain.Operand) {
	if o == nil || o.IsLiteral() {
		return
	}
	if o.Ticker == "" {
		v.addf(n, field, "indicator operand requires a ticker")
	}
	if o.Fn == nil {
		v.addf(n, field, "operand requires a literal or an indicator")
		return
	}
	v.checkIndicatorSpec(n, field, *o.Fn)
}

func (v *validator) checkIndicatorSpec(n *domain.SymphonyNode, field string, spec domain.IndicatorSpec) {
	if !spec.Name.Known() {
		v.addf(n, field, "unknown indicator %q", spec.Name)
		return
	}
	if spec.Name.NeedsWindow() && spec.Window <= 0 {
		v.addf(n, field, "%s requires a positive window, got %d", spec.Name, spec.Window)
	}
}

func (v *validator) checkFilter(n *domain.SymphonyNode) {
	v.checkNonLeaf(n)
	if n.SortBy == nil {
		v.addf(n, "sort-by", "filter requires a sort indicator")
	} else {
		v.checkIndicatorSpec(n, "sort-by", *n.SortBy)
	}
	if n.Select != domain.SelectTop && n.Select != domain.SelectBottom {
		v.addf(n, "select", "selection mode must be top or bottom, got %q", n.Select)
	}
	if n.SelectCount <= 0 {
		v.addf(n, "select-n", "selection count must be a positive integer, got %d", n.SelectCount)
	} else if len(n.Children) > 0 && n.SelectCount > len(n.Children) {
		v.addf(n, "select-n", "selection count %d exceeds %d candidate children", n.SelectCount, len(n.Children))
	}
}

// Assets returns the unique tickers a validated tree references, including
// guard operand tickers. Callers use this to pre-fetch price history before
// building a MarketContext.
func Assets(tree *ValidatedTree) []string {
	seen := map[string]bool{}
	var visit func(n *domain.SymphonyNode)
	visit = func(n *domain.SymphonyNode) {
		if n.Kind == domain.NodeKindAsset {
			seen[n.Ticker] = true
		}
		for _, o := range []*domain.Operand{n.LHS, n.RHS} {
			if o != nil && !o.IsLiteral() {
				seen[o.Ticker] = true
			}
		}
		for _, child := range n.Children {
			visit(child)
		}
	}
	visit(tree.Root())

	assets := make([]string, 0, len(seen))
	for ticker := range seen {
		assets = append(assets, ticker)
	}
	sort.Strings(assets)
	return assets
}
