package metaevo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicforge/promptopt/llmclient"
)

// TestUpdateMutationFitnessImprovementAppliesEMA checks that an applied
// mutation which improves fitness moves successRate via the EMA update:
// starting from successRate=0.5, usageCount=2, a single improving
// application gives new successRate = 0.3*1 + 0.7*0.5 = 0.65, usageCount=3,
// fitness=0.65.
func TestUpdateMutationFitnessImprovementAppliesEMA(t *testing.T) {
	m := &MutationPrompt{ID: "m1", SuccessRate: 0.5, UsageCount: 2}
	UpdateMutationFitness(m, true, DefaultAlpha)
	assert.InDelta(t, 0.65, m.SuccessRate, 1e-9)
	assert.Equal(t, 3, m.UsageCount)
	assert.InDelta(t, 0.65, m.Fitness, 1e-9)
}

func TestUpdateMutationFitnessNoImprovementDecaysTowardZero(t *testing.T) {
	m := &MutationPrompt{ID: "m1", SuccessRate: 0.5, UsageCount: 2}
	UpdateMutationFitness(m, false, DefaultAlpha)
	assert.InDelta(t, 0.35, m.SuccessRate, 1e-9)
	assert.Equal(t, 3, m.UsageCount)
}

func TestUpdateMutationFitnessDefaultsAlphaWhenNonPositive(t *testing.T) {
	m := &MutationPrompt{ID: "m1", SuccessRate: 0.5, UsageCount: 0}
	UpdateMutationFitness(m, true, 0)
	assert.InDelta(t, 0.65, m.SuccessRate, 1e-9)
}

type fakeTransport struct {
	reply string
}

func (f *fakeTransport) CreateChatCompletion(ctx context.Context, req llmclient.Request) (llmclient.Response, error) {
	return llmclient.Response{Content: f.reply}, nil
}

func newTestEngine(reply string) *Engine {
	opts := DefaultOptions()
	opts.TaskPopulationSize = 3
	opts.EliteCount = 1
	opts.TournamentSize = 2
	opts.PCrossover = 0
	opts.PHypermutation = 0
	opts.Seed = 42
	return NewEngine(&fakeTransport{reply: reply}, "test-model", opts)
}

func seedPrompt(id, base, patch string, fitness float64) TaskPrompt {
	return TaskPrompt{ID: id, Base: base, Patch: patch, Fitness: fitness}
}

func TestRunGenerationProducesNewTasksAndKeepsElite(t *testing.T) {
	e := newTestEngine("rewritten patch")
	e.SeedPopulation(
		[]TaskPrompt{
			seedPrompt("t1", "base", "patch-1", 0.9),
			seedPrompt("t2", "base", "patch-2", 0.5),
			seedPrompt("t3", "base", "patch-3", 0.2),
		},
		[]MutationPrompt{
			{ID: "mut1", Kind: KindDirect, Text: "rephrase", Fitness: 0.5},
		},
	)

	fitnessFn := func(ctx context.Context, tp TaskPrompt) (float64, error) {
		return 1.0, nil
	}

	report, err := e.RunGeneration(context.Background(), 1, nil, fitnessFn)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generation)
	assert.True(t, report.SuccessfulMutants > 0)

	best, ok := e.BestTask()
	require.True(t, ok)
	assert.InDelta(t, 1.0, best.Fitness, 1e-9)

	_, hasElite := e.tasks["t1"]
	assert.True(t, hasElite, "highest-fitness seed should survive as elite")
}

func TestConvergedAfterThreeZeroSuccessGenerations(t *testing.T) {
	e := newTestEngine("same patch")
	e.SeedPopulation(
		[]TaskPrompt{seedPrompt("t1", "base", "patch-1", 0.5)},
		[]MutationPrompt{{ID: "mut1", Kind: KindDirect, Text: "rephrase", Fitness: 0.5}},
	)

	fitnessFn := func(ctx context.Context, tp TaskPrompt) (float64, error) {
		return 0.1, nil // never clears parent fitness + epsilon
	}

	for i := 1; i <= 3; i++ {
		_, err := e.RunGeneration(context.Background(), i, nil, fitnessFn)
		require.NoError(t, err)
	}
	assert.True(t, e.Converged())
}

func TestTournamentSelectReturnsFittestOfSample(t *testing.T) {
	e := newTestEngine("x")
	e.SeedPopulation([]TaskPrompt{
		seedPrompt("low", "base", "p", 0.1),
		seedPrompt("high", "base", "p", 0.9),
	}, nil)
	e.Opts.TournamentSize = 2
	picked := e.tournamentSelect()
	require.NotNil(t, picked)
	assert.Equal(t, "high", picked.ID)
}

func TestRouletteSelectMutationExcludesHypermutationKinds(t *testing.T) {
	e := newTestEngine("x")
	e.SeedPopulation(nil, []MutationPrompt{
		{ID: "direct", Kind: KindDirect, Fitness: 1},
		{ID: "hyper", Kind: KindHypermutation, Fitness: 1},
	})
	for i := 0; i < 20; i++ {
		picked := e.rouletteSelectMutation()
		require.NotNil(t, picked)
		assert.NotEqual(t, "hyper", picked.ID)
	}
}

func TestZeroOrderHyperSynthesizesFreshPromptReplacingWorstSlot(t *testing.T) {
	e := newTestEngine("a completely new instruction")
	e.SeedPopulation(nil, []MutationPrompt{
		{ID: "weak", Kind: KindDirect, Fitness: 0.1, Text: "old text"},
		{ID: "strong", Kind: KindDirect, Fitness: 0.9, Text: "other text"},
	})

	err := e.zeroOrderHyper(context.Background(), 2)
	require.NoError(t, err)

	_, stillThere := e.mutations["weak"]
	assert.False(t, stillThere, "the lowest-fitness slot should have been evicted")

	var synthesized *MutationPrompt
	for _, m := range e.mutationList() {
		if m.Kind == KindZeroOrderHyper {
			synthesized = m
		}
	}
	require.NotNil(t, synthesized, "zeroOrderHyper must install a KindZeroOrderHyper prompt")
	assert.Equal(t, "a completely new instruction", synthesized.Text)
	assert.Equal(t, 2, synthesized.Generation)
}

func TestZeroOrderHyperPromptsAreProtectedFromEvictionAndDirectSelection(t *testing.T) {
	e := newTestEngine("x")
	e.SeedPopulation(nil, []MutationPrompt{
		{ID: "fresh", Kind: KindZeroOrderHyper, Fitness: 0},
		{ID: "direct", Kind: KindDirect, Fitness: 1},
	})

	assert.Equal(t, "direct", e.worstMutationID(), "a zero-order-hyper prompt must never be the eviction target")

	for i := 0; i < 20; i++ {
		picked := e.rouletteSelectMutation()
		require.NotNil(t, picked)
		assert.NotEqual(t, "fresh", picked.ID, "a zero-order-hyper prompt must never be chosen to mutate a task directly")
	}
}

func TestRunGenerationCanProduceZeroOrderHyperPrompt(t *testing.T) {
	e := newTestEngine("fresh instruction")
	e.Opts.PHypermutation = 1
	e.SeedPopulation(
		[]TaskPrompt{seedPrompt("t1", "base", "patch-1", 0.5)},
		[]MutationPrompt{{ID: "mut1", Kind: KindDirect, Text: "rephrase", Fitness: 0.5}},
	)

	fitnessFn := func(ctx context.Context, tp TaskPrompt) (float64, error) {
		return 0.1, nil
	}

	_, err := e.RunGeneration(context.Background(), 1, nil, fitnessFn)
	require.NoError(t, err)

	found := false
	for _, m := range e.mutationList() {
		if m.Kind == KindZeroOrderHyper {
			found = true
		}
	}
	assert.True(t, found, "a PHypermutation=1 generation must exercise the zero-order-hyper path")
}
