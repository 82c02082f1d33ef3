package evaluator

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"symphonybacktest/internal/domain"
	"symphonybacktest/internal/indicator"
)

func Test_EvaluateBatch(t *testing.T) {
	ev := New(indicator.NewEngine())

	healthy := mustValidate(t, asset("a1", "SPY"))
	failing := mustValidate(t, &domain.SymphonyNode{
		ID:   "cond",
		Kind: domain.NodeKindCondition,
		Children: []*domain.SymphonyNode{
			{
				ID:         "b1",
				Kind:       domain.NodeKindConditionBranch,
				LHS:        indicatorOperand("QQQ", domain.IndicatorRelativeStrengthIndex, 10),
				Comparator: domain.ComparatorGt,
				RHS:        literal(79),
				Children:   []*domain.SymphonyNode{asset("a2", "UVXY")},
			},
		},
	})

	t.Run("one failure does not affect the others", func(t *testing.T) {
		mc := contextWith(map[string][]float64{"SPY": {100}, "QQQ": {100}})
		results := ev.EvaluateBatch(context.Background(), []BatchRequest{
			{ID: "sym-1", Tree: healthy, Context: mc},
			{ID: "sym-2", Tree: failing, Context: mc},
			{ID: "sym-3", Tree: healthy, Context: mc},
		}, 2)

		require.Len(t, results, 3)
		require.Equal(t, []string{"sym-1", "sym-2", "sym-3"}, []string{results[0].ID, results[1].ID, results[2].ID})

		require.NoError(t, results[0].Err)
		require.Empty(t, cmp.Diff(map[string]float64{"SPY": 1.0}, results[0].Result.Weights))

		require.Error(t, results[1].Err)
		var failure EvaluationFailedError
		require.ErrorAs(t, results[1].Err, &failure)
		require.Equal(t, "cond", failure.NodeID)

		require.NoError(t, results[2].Err)
	})

	t.Run("unbounded when maxParallel is zero", func(t *testing.T) {
		mc := contextWith(map[string][]float64{"SPY": {100}})
		results := ev.EvaluateBatch(context.Background(), []BatchRequest{
			{ID: "sym-1", Tree: healthy, Context: mc},
			{ID: "sym-2", Tree: healthy, Context: mc},
		}, 0)
		require.Len(t, results, 2)
		for _, r := range results {
			require.NoError(t, r.Err)
		}
	})

	t.Run("cancelled context surfaces per slot", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		mc := contextWith(map[string][]float64{"SPY": {100}})
		results := ev.EvaluateBatch(ctx, []BatchRequest{
			{ID: "sym-1", Tree: healthy, Context: mc},
		}, 1)
		require.Len(t, results, 1)
		require.ErrorIs(t, results[0].Err, context.Canceled)
	})
}
