package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epicforge/promptopt/rubric"
	"github.com/epicforge/promptopt/storypack"
)

func TestKeywordCoverageCountsOverlap(t *testing.T) {
	epic := storypack.Epic{Title: "Checkout flow", Description: "Allow guest checkout without login"}
	pack := &storypack.StoryPack{
		UserStories: []storypack.UserStory{
			{Title: "Guest checkout", Role: "shopper", Want: "checkout without login", Benefit: "speed"},
		},
	}
	cov := KeywordCoverage(epic, pack)
	assert.Greater(t, cov, 0.5)
	assert.LessOrEqual(t, cov, 1.0)
}

func TestKeywordCoverageVacuousWhenNoEpicTokens(t *testing.T) {
	epic := storypack.Epic{Title: "a", Description: "an"}
	cov := KeywordCoverage(epic, &storypack.StoryPack{})
	assert.Equal(t, 1.0, cov)
}

func TestCountBandBoundaries(t *testing.T) {
	assert.Equal(t, 1.0, CountBand(4))
	assert.Equal(t, 1.0, CountBand(8))
	assert.Equal(t, 0.7, CountBand(3))
	assert.Equal(t, 0.7, CountBand(9))
	assert.Equal(t, 0.4, CountBand(0))
	assert.Equal(t, 0.4, CountBand(20))
}

func TestDuplicationPenalizesIdenticalAcceptanceCriteria(t *testing.T) {
	pack := &storypack.StoryPack{
		UserStories: []storypack.UserStory{
			{AcceptanceCriteria: []string{"given a cart when checkout then success"}},
			{AcceptanceCriteria: []string{"given a cart when checkout then success"}},
		},
	}
	assert.Equal(t, 0.0, Duplication(pack))
}

func TestDuplicationSingleStoryIsPerfect(t *testing.T) {
	pack := &storypack.StoryPack{
		UserStories: []storypack.UserStory{{AcceptanceCriteria: []string{"one thing"}}},
	}
	assert.Equal(t, 1.0, Duplication(pack))
}

func TestInvestComposite(t *testing.T) {
	scores := map[rubric.Criterion]float64{
		rubric.Independent: 1, rubric.Negotiable: 1, rubric.Valuable: 1,
		rubric.Estimable: 1, rubric.Small: 1, rubric.Testable: 1,
	}
	assert.InDelta(t, 1.0, InvestComposite(scores), 1e-9)
}

func TestOverallZeroWhenSchemaInvalid(t *testing.T) {
	scores := SubScores{
		KeywordCoverage: 1, InvestComposite: 1, AcceptanceCriteriaQuality: 1,
		Duplication: 1, CountBand: 1, SchemaValid: false,
	}
	assert.Equal(t, 0.0, scores.Overall())
}

func TestOverallClampedAndWeighted(t *testing.T) {
	scores := SubScores{
		KeywordCoverage: 1, InvestComposite: 1, AcceptanceCriteriaQuality: 1,
		Duplication: 1, CountBand: 1, SchemaValid: true,
	}
	assert.InDelta(t, 1.0, scores.Overall(), 1e-9)
}
