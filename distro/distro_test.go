package distro

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicforge/promptopt/storypack"
)

func runsWithScores(schemaValid []bool, scores []float64) []ScoredRun {
	runs := make([]ScoredRun, len(scores))
	for i, s := range scores {
		runs[i] = ScoredRun{
			GenerateResult: storypack.GenerateResult{Seed: int64(i)},
			SchemaValid:    schemaValid[i],
			Score:          s,
		}
	}
	return runs
}

// TestReduceEpicAggregatesScores checks reduceEpic's mean score and pass
// rate across a mix of passing, mixed, and all-failing runs.
func TestReduceEpicAggregatesScores(t *testing.T) {
	epic1 := reduceEpic("epic-1", runsWithScores([]bool{true, true, true}, []float64{0.9, 0.9, 0.9}), 3)
	epic2 := reduceEpic("epic-2", runsWithScores([]bool{true, true, true}, []float64{0.8, 0.2, 0.8}), 3)
	epic3 := reduceEpic("epic-3", runsWithScores([]bool{false, false, false}, []float64{0.0, 0.0, 0.0}), 3)

	assert.InDelta(t, 0.9, epic1.MeanScore, 1e-9)
	assert.InDelta(t, 0.6, epic2.MeanScore, 1e-9)
	assert.InDelta(t, 0.0, epic3.MeanScore, 1e-9)
	assert.Greater(t, epic2.StdScore, 0.0)

	agg := aggregate([]EpicDistResult{epic1, epic2, epic3}, 0.10, 0.20)
	assert.InDelta(t, 2.0/3.0, agg.MeanPassRate, 1e-9)
	assert.InDelta(t, 0.5, agg.MeanOfMeans, 1e-9)
	assert.InDelta(t, 0.367, agg.MeanP10, 1e-3)
}

func TestReduceEpicSchemaInvalidRunScoresZeroAndFailsPass(t *testing.T) {
	epic := reduceEpic("e", runsWithScores([]bool{false}, []float64{0.0}), 3)
	assert.Equal(t, 0.0, epic.MeanScore)
	assert.Equal(t, 0.0, epic.PassRate)
}

type fakeGenerator struct {
	reply func(epic storypack.Epic, seed int64) *storypack.GenerateResult
}

func (f *fakeGenerator) Generate(_ context.Context, epic storypack.Epic, _ string, seed int64, _ int) *storypack.GenerateResult {
	return f.reply(epic, seed)
}

func TestEvaluateEndToEndWithoutJudgePanel(t *testing.T) {
	gen := &fakeGenerator{reply: func(epic storypack.Epic, seed int64) *storypack.GenerateResult {
		return &storypack.GenerateResult{
			Seed: seed,
			StoryPack: &storypack.StoryPack{
				EpicID: epic.ID,
				UserStories: []storypack.UserStory{
					{Title: "s1", Role: "r", Want: epic.Title, Benefit: "b", AcceptanceCriteria: []string{"ac1"}},
					{Title: "s2", Role: "r", Want: "w2", Benefit: "b2", AcceptanceCriteria: []string{"ac2"}},
					{Title: "s3", Role: "r", Want: "w3", Benefit: "b3", AcceptanceCriteria: []string{"ac3"}},
					{Title: "s4", Role: "r", Want: "w4", Benefit: "b4", AcceptanceCriteria: []string{"ac4"}},
				},
			},
		}
	}}
	epics := []storypack.Epic{{ID: "e1", Title: "checkout flow", Description: "allow guest checkout"}}
	opts := DefaultOptions()
	opts.Replicates = 2

	report, err := Evaluate(context.Background(), gen, nil, "prompt", epics, opts)
	require.NoError(t, err)
	require.Len(t, report.PerEpic, 1)
	assert.Equal(t, 1.0, report.PerEpic[0].PassRate)
	assert.Greater(t, report.Agg.Objective, 0.0)
}

func TestEvaluateMarksInconclusiveWhenHalfRunsError(t *testing.T) {
	calls := 0
	gen := &fakeGenerator{reply: func(epic storypack.Epic, seed int64) *storypack.GenerateResult {
		calls++
		if calls%2 == 0 {
			return &storypack.GenerateResult{Seed: seed, Error: assertErr{}}
		}
		return &storypack.GenerateResult{Seed: seed, StoryPack: &storypack.StoryPack{EpicID: epic.ID}}
	}}
	epics := []storypack.Epic{{ID: "e1"}}
	opts := DefaultOptions()
	opts.Replicates = 4

	report, err := Evaluate(context.Background(), gen, nil, "prompt", epics, opts)
	require.NoError(t, err)
	assert.True(t, report.Agg.Inconclusive)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
