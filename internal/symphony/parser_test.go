package symphony

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"symphonybacktest/internal/domain"
)

func Test_Parse(t *testing.T) {
	t.Run("full upload format", func(t *testing.T) {
		data := []byte(`{
			"id": "root-1",
			"step": "root",
			"name": "Risk on or off",
			"rebalance": "monthly",
			"children": [
				{
					"id": "cond-1",
					"step": "if",
					"children": [
						{
							"id": "branch-1",
							"step": "if-child",
							"is-else-condition?": false,
							"lhs-fn": "relative-strength-index",
							"lhs-fn-params": {"window": "10"},
							"lhs-val": "QQQ",
							"comparator": "gt",
							"rhs-val": "79",
							"rhs-fixed-value?": true,
							"children": [
								{"id": "asset-1", "step": "asset", "ticker": "UVXY", "exchange": "ARCA"}
							]
						},
						{
							"id": "branch-2",
							"step": "if-child",
							"is-else-condition?": true,
							"children": [
								{
									"id": "group-1",
									"step": "wt-cash-specified",
									"children": [
										{"id": "asset-2", "step": "asset", "ticker": "TQQQ", "weight": {"num": 60, "den": 100}},
										{"id": "asset-3", "step": "asset", "ticker": "TLT", "weight": {"num": "40", "den": "100"}}
									]
								}
							]
						}
					]
				}
			]
		}`)

		root, err := Parse(data)
		require.NoError(t, err)

		seventyNine := 79.0
		want := &domain.SymphonyNode{
			ID:        "root-1",
			Kind:      domain.NodeKindRoot,
			Name:      "Risk on or off",
			Rebalance: &domain.RebalancePolicy{Frequency: domain.FrequencyMonthly},
			Children: []*domain.SymphonyNode{
				{
					ID:   "cond-1",
					Kind: domain.NodeKindCondition,
					Children: []*domain.SymphonyNode{
						{
							ID:   "branch-1",
							Kind: domain.NodeKindConditionBranch,
							LHS: &domain.Operand{
								Ticker: "QQQ",
								Fn:     &domain.IndicatorSpec{Name: domain.IndicatorRelativeStrengthIndex, Window: 10},
							},
							Comparator: domain.ComparatorGt,
							RHS:        &domain.Operand{Literal: &seventyNine},
							Children: []*domain.SymphonyNode{
								{ID: "asset-1", Kind: domain.NodeKindAsset, Ticker: "UVXY", Exchange: "ARCA"},
							},
						},
						{
							ID:   "branch-2",
							Kind: domain.NodeKindConditionBranch,
							Else: true,
							Children: []*domain.SymphonyNode{
								{
									ID:   "group-1",
									Kind: domain.NodeKindGroup,
									Children: []*domain.SymphonyNode{
										{ID: "asset-2", Kind: domain.NodeKindAsset, Ticker: "TQQQ", Weight: &domain.Weight{Num: 60, Den: 100}},
										{ID: "asset-3", Kind: domain.NodeKindAsset, Ticker: "TLT", Weight: &domain.Weight{Num: 40, Den: 100}},
									},
								},
							},
						},
					},
				},
			},
		}
		require.Empty(t, cmp.Diff(want, root))
	})

	t.Run("rebalance none is a threshold policy with default corridor", func(t *testing.T) {
		root, err := Parse([]byte(`{"id": "r", "step": "root", "rebalance": "none",
			"children": [{"id": "a", "step": "asset", "ticker": "SPY"}]}`))
		require.NoError(t, err)
		require.True(t, root.Rebalance.ThresholdBased())
		require.Equal(t, 0.05, root.Rebalance.CorridorWidth)
	})

	t.Run("explicit corridor width", func(t *testing.T) {
		root, err := Parse([]byte(`{"id": "r", "step": "root", "rebalance": "none",
			"rebalance-corridor-width": 0.02,
			"children": [{"id": "a", "step": "asset", "ticker": "SPY"}]}`))
		require.NoError(t, err)
		require.Equal(t, 0.02, root.Rebalance.CorridorWidth)
	})

	t.Run("annually maps to yearly", func(t *testing.T) {
		root, err := Parse([]byte(`{"id": "r", "step": "root", "rebalance": "annually",
			"children": [{"id": "a", "step": "asset", "ticker": "SPY"}]}`))
		require.NoError(t, err)
		require.Equal(t, domain.FrequencyYearly, root.Rebalance.Frequency)
	})

	t.Run("filter step", func(t *testing.T) {
		root, err := Parse([]byte(`{"id": "r", "step": "root", "rebalance": "daily", "children": [
			{"id": "f", "step": "filter",
			 "sort-by-fn": "cumulative-return", "sort-by-fn-params": {"window": 20},
			 "select-fn": "top", "select-n": "2",
			 "children": [
				{"id": "a1", "step": "asset", "ticker": "SPY"},
				{"id": "a2", "step": "asset", "ticker": "QQQ"},
				{"id": "a3", "step": "asset", "ticker": "IWM"}
			]}
		]}`))
		require.NoError(t, err)
		filter := root.Children[0]
		require.Equal(t, domain.NodeKindFilter, filter.Kind)
		require.Equal(t, domain.IndicatorSpec{Name: domain.IndicatorCumulativeReturn, Window: 20}, *filter.SortBy)
		require.Equal(t, domain.SelectTop, filter.Select)
		require.Equal(t, 2, filter.SelectCount)
	})

	t.Run("top level must be root", func(t *testing.T) {
		_, err := Parse([]byte(`{"id": "a", "step": "asset", "ticker": "SPY"}`))
		require.ErrorContains(t, err, "top-level step must be root")
	})

	t.Run("unknown step type", func(t *testing.T) {
		_, err := Parse([]byte(`{"id": "r", "step": "teleport"}`))
		require.ErrorContains(t, err, `unknown step type "teleport"`)
	})

	t.Run("unknown comparator", func(t *testing.T) {
		_, err := Parse([]byte(`{"id": "r", "step": "root", "rebalance": "daily", "children": [
			{"id": "c", "step": "if", "children": [
				{"id": "b", "step": "if-child",
				 "lhs-fn": "current-price", "lhs-val": "SPY",
				 "comparator": "approximately", "rhs-val": "10", "rhs-fixed-value?": true,
				 "children": [{"id": "a", "step": "asset", "ticker": "SPY"}]}
			]}
		]}`))
		require.ErrorContains(t, err, `unknown comparator "approximately"`)
	})

	t.Run("non numeric literal", func(t *testing.T) {
		_, err := Parse([]byte(`{"id": "r", "step": "root", "rebalance": "daily", "children": [
			{"id": "c", "step": "if", "children": [
				{"id": "b", "step": "if-child",
				 "lhs-fn": "current-price", "lhs-val": "SPY",
				 "comparator": "gt", "rhs-val": "cheap", "rhs-fixed-value?": true,
				 "children": [{"id": "a", "step": "asset", "ticker": "SPY"}]}
			]}
		]}`))
		require.ErrorContains(t, err, "expected numeric literal")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Parse([]byte(`{"id": `))
		require.ErrorContains(t, err, "invalid symphony json")
	})
}
