package symphony

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"symphonybacktest/internal/domain"
)

// Parse reads the upload JSON format into a typed tree. The format uses
// hyphenated keys and per-branch guards:
//
//	{"id": "...", "step": "root", "rebalance": "monthly", "children": [
//	  {"step": "if", "children": [
//	    {"step": "if-child", "is-else-condition?": false,
//	     "lhs-fn": "relative-strength-index", "lhs-fn-params": {"window": 10},
//	     "lhs-val": "QQQ", "comparator": "gt", "rhs-val": "79",
//	     "rhs-fixed-value?": true, "children": [...]},
//	    {"step": "if-child", "is-else-condition?": true, "children": [...]}]}]}
//
// Parsing is purely syntactic; Validate performs the structural checks.
func Parse(data []byte) (*domain.SymphonyNode, error) {
	var raw rawStep
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid symphony json: %w", err)
	}
	root, err := buildNode(&raw)
	if err != nil {
		return nil, err
	}
	if root.Kind != domain.NodeKindRoot {
		return nil, fmt.Errorf("top-level step must be root, got %q", root.Kind)
	}
	return root, nil
}

// flexInt accepts both JSON numbers and numeric strings; the upload format
// uses either interchangeably for weights and selection counts.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", string(data))
	}
	*f = flexInt(n)
	return nil
}

type rawWeight struct {
	Num *flexInt `json:"num"`
	Den *flexInt `json:"den"`
}

type rawParams struct {
	Window *flexInt `json:"window"`
}

type rawStep struct {
	ID       string     `json:"id"`
	Step     string     `json:"step"`
	Name     string     `json:"name"`
	Children []*rawStep `json:"children"`
	Weight   *rawWeight `json:"weight"`

	Rebalance     string   `json:"rebalance"`
	CorridorWidth *float64 `json:"rebalance-corridor-width"`

	Ticker   string `json:"ticker"`
	Exchange string `json:"exchange"`

	IsElse        *bool      `json:"is-else-condition?"`
	LhsFn         string     `json:"lhs-fn"`
	LhsFnParams   *rawParams `json:"lhs-fn-params"`
	LhsVal        string     `json:"lhs-val"`
	Comparator    string     `json:"comparator"`
	RhsFn         string     `json:"rhs-fn"`
	RhsFnParams   *rawParams `json:"rhs-fn-params"`
	RhsVal        string     `json:"rhs-val"`
	RhsFixedValue *bool      `json:"rhs-fixed-value?"`

	SortByFn       string     `json:"sort-by-fn"`
	SortByFnParams *rawParams `json:"sort-by-fn-params"`
	SelectFn       string     `json:"select-fn"`
	SelectN        *flexInt   `json:"select-n"`
}

// stepKinds maps upload-format step names onto node kinds. The wt-* steps
// are weight-composition containers and collapse into group semantics:
// wt-cash-equal children carry no explicit weights, wt-cash-specified
// children each carry one.
var stepKinds = map[string]domain.NodeKind{
	"root":              domain.NodeKindRoot,
	"asset":             domain.NodeKindAsset,
	"group":             domain.NodeKindGroup,
	"wt-cash-equal":     domain.NodeKindGroup,
	"wt-cash-specified": domain.NodeKindGroup,
	"if":                domain.NodeKindCondition,
	"condition":         domain.NodeKindCondition,
	"if-child":          domain.NodeKindConditionBranch,
	"condition-branch":  domain.NodeKindConditionBranch,
	"filter":            domain.NodeKindFilter,
}

var comparators = map[string]domain.Comparator{
	"gt":  domain.ComparatorGt,
	"lt":  domain.ComparatorLt,
	"gte": domain.ComparatorGte,
	"lte": domain.ComparatorLte,
	"eq":  domain.ComparatorEq,
}

func buildNode(raw *rawStep) (*domain.SymphonyNode, error) {
	kind, ok := stepKinds[raw.Step]
	if !ok {
		if raw.Step == "" {
			return nil, fmt.Errorf("step %q is missing the step field", raw.ID)
		}
		return nil, fmt.Errorf("unknown step type %q", raw.Step)
	}

	node := &domain.SymphonyNode{
		ID:       raw.ID,
		Kind:     kind,
		Name:     raw.Name,
		Ticker:   raw.Ticker,
		Exchange: raw.Exchange,
	}
	if raw.Weight != nil && raw.Weight.Num != nil && raw.Weight.Den != nil {
		node.Weight = &domain.Weight{
			Num: int64(*raw.Weight.Num),
			Den: int64(*raw.Weight.Den),
		}
	}

	switch kind {
	case domain.NodeKindRoot:
		node.Rebalance = parseRebalance(raw)
	case domain.NodeKindConditionBranch:
		if raw.IsElse != nil && *raw.IsElse {
			node.Else = true
		} else {
			lhs, err := parseOperand(raw.LhsFn, raw.LhsFnParams, raw.LhsVal, false)
			if err != nil {
				return nil, fmt.Errorf("step %q lhs: %w", raw.ID, err)
			}
			rhsFixed := raw.RhsFixedValue != nil && *raw.RhsFixedValue
			rhs, err := parseOperand(raw.RhsFn, raw.RhsFnParams, raw.RhsVal, rhsFixed)
			if err != nil {
				return nil, fmt.Errorf("step %q rhs: %w", raw.ID, err)
			}
			node.LHS = lhs
			node.RHS = rhs
			node.Comparator = comparators[raw.Comparator]
			if node.Comparator == "" && raw.Comparator != "" {
				return nil, fmt.Errorf("step %q: unknown comparator %q", raw.ID, raw.Comparator)
			}
		}
	case domain.NodeKindFilter:
		node.SortBy = &domain.IndicatorSpec{
			Name:   domain.Indicator(raw.SortByFn),
			Window: windowOf(raw.SortByFnParams),
		}
		node.Select = domain.SelectMode(raw.SelectFn)
		if raw.SelectN != nil {
			node.SelectCount = int(*raw.SelectN)
		}
	}

	for _, child := range raw.Children {
		built, err := buildNode(child)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, built)
	}
	return node, nil
}

func parseRebalance(raw *rawStep) *domain.RebalancePolicy {
	switch raw.Rebalance {
	case "":
		return nil
	case "none":
		// threshold-based; corridor width defaults upstream to 5%
		width := 0.05
		if raw.CorridorWidth != nil {
			width = *raw.CorridorWidth
		}
		return &domain.RebalancePolicy{CorridorWidth: width}
	case "annually":
		return &domain.RebalancePolicy{Frequency: domain.FrequencyYearly}
	default:
		return &domain.RebalancePolicy{Frequency: domain.Frequency(raw.Rebalance)}
	}
}

// parseOperand resolves one side of a guard. A side with an indicator
// function applies it to the ticker in the val field; a side without one
// (or explicitly flagged fixed) is a numeric literal.
func parseOperand(fn string, params *rawParams, val string, fixed bool) (*domain.Operand, error) {
	if fn == "" || fixed {
		literal, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("expected numeric literal, got %q", val)
		}
		return &domain.Operand{Literal: &literal}, nil
	}
	return &domain.Operand{
		Ticker: val,
		Fn: &domain.IndicatorSpec{
			Name:   domain.Indicator(fn),
			Window: windowOf(params),
		},
	}, nil
}

func windowOf(params *rawParams) int {
	if params == nil || params.Window == nil {
		return 0
	}
	return int(*params.Window)
}
