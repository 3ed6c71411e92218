package tournament

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epicforge/promptopt/patchsynth"
)

// TestPromotionRulePromotesSoleEligibleCandidate checks the promotion rule against a
// baseline champion objective of 0.700 and candidates with deltas
// {+0.06, -0.01, -0.03} at PromoteEpsilon=0.01: only the +0.06 candidate
// clears the margin and is picked as winner.
func TestPromotionRulePromotesSoleEligibleCandidate(t *testing.T) {
	championObjective := 0.700
	scored := []ScoredCandidate{
		{Candidate: patchsynth.PatchCandidate{ID: "c1"}, Objective: championObjective + 0.06},
		{Candidate: patchsynth.PatchCandidate{ID: "c2"}, Objective: championObjective - 0.01},
		{Candidate: patchsynth.PatchCandidate{ID: "c3"}, Objective: championObjective - 0.03},
	}
	for i := range scored {
		scored[i].DeltaVsChampion = scored[i].Objective - championObjective
		scored[i].Eligible = scored[i].DeltaVsChampion > DefaultPromoteEpsilon
	}
	ordered := orderedByObjectiveDesc(scored)
	winner := pickWinner(ordered)

	if assert.NotNil(t, winner) {
		assert.Equal(t, "c1", winner.Candidate.ID)
		assert.InDelta(t, 0.06, winner.DeltaVsChampion, 1e-9)
	}
}

func TestPickWinnerNilWhenNoneEligible(t *testing.T) {
	scored := []ScoredCandidate{
		{Candidate: patchsynth.PatchCandidate{ID: "c1"}, DeltaVsChampion: -0.01, Eligible: false},
		{Candidate: patchsynth.PatchCandidate{ID: "c2"}, DeltaVsChampion: 0.005, Eligible: false},
	}
	assert.Nil(t, pickWinner(scored))
}

func TestOrderedByObjectiveDescTiesBrokenByID(t *testing.T) {
	scored := []ScoredCandidate{
		{Candidate: patchsynth.PatchCandidate{ID: "b"}, Objective: 0.5},
		{Candidate: patchsynth.PatchCandidate{ID: "a"}, Objective: 0.5},
	}
	ordered := orderedByObjectiveDesc(scored)
	assert.Equal(t, "a", ordered[0].Candidate.ID)
	assert.Equal(t, "b", ordered[1].Candidate.ID)
}
