// Package heuristics implements the Heuristic Scorer half:
// deterministic sub-scores computed directly from an epic and its
// generated StoryPack, combined with judge-sourced sub-scores (INVEST
// composite, acceptance-criteria quality) into one composite score.
package heuristics

import (
	"github.com/epicforge/promptopt/rubric"
	"github.com/epicforge/promptopt/storypack"
)

// SubScores holds every input to the overall composite, each in [0,1].
type SubScores struct {
	KeywordCoverage           float64
	InvestComposite           float64
	AcceptanceCriteriaQuality float64
	Duplication               float64
	CountBand                 float64
	SchemaValid               bool
}

// Overall implements weighted composite: 0.25 keyword coverage,
// 0.30 INVEST, 0.30 acceptance-criteria quality, 0.10 duplication, 0.05
// count band — clamped to [0,1], forced to 0 when the pack failed schema
// validation.
func (s SubScores) Overall() float64 {
	if !s.SchemaValid {
		return 0
	}
	v := 0.25*s.KeywordCoverage +
		0.30*s.InvestComposite +
		0.30*s.AcceptanceCriteriaQuality +
		0.10*s.Duplication +
		0.05*s.CountBand
	return clamp01(v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// KeywordCoverage is |tokens(epic) ∩ tokens(storyPack)| / |tokens(epic)|
// over lowercased, stop-word-free, length>2 tokens. An epic with no
// surviving tokens after stop-word filtering is vacuously fully covered
// (nothing to miss).
func KeywordCoverage(epic storypack.Epic, pack *storypack.StoryPack) float64 {
	epicText := epic.Title + " " + epic.Description
	epicTokens := storypack.Tokens(epicText)
	if len(epicTokens) == 0 {
		return 1.0
	}
	epicSet := make(map[string]struct{}, len(epicTokens))
	for _, tok := range epicTokens {
		epicSet[tok] = struct{}{}
	}
	packSet := tokenSet(pack)
	hit := 0
	for tok := range epicSet {
		if _, ok := packSet[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(epicSet))
}

func tokenSet(pack *storypack.StoryPack) map[string]struct{} {
	set := make(map[string]struct{})
	if pack == nil {
		return set
	}
	for _, tok := range storypack.Tokens(pack.ExtractText()) {
		set[tok] = struct{}{}
	}
	return set
}

// InvestComposite is the weighted mean of the INVEST criteria (rubric.
// InvestCriteria) over a single judge's per-criterion scores.
func InvestComposite(perCriterion map[rubric.Criterion]float64) float64 {
	return rubric.WeightedMean(perCriterion, rubric.InvestCriteria)
}

// Duplication is 1 minus the maximum Jaccard similarity over all pairs of
// acceptance-criteria token sets in the pack. A pack with fewer than two
// stories has nothing to duplicate against, so duplication is perfect (1).
func Duplication(pack *storypack.StoryPack) float64 {
	if pack == nil || len(pack.UserStories) < 2 {
		return 1.0
	}
	sets := make([]map[string]struct{}, len(pack.UserStories))
	for i, story := range pack.UserStories {
		sets[i] = acceptanceCriteriaTokenSet(story.AcceptanceCriteria)
	}
	maxJaccard := 0.0
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			sim := jaccard(sets[i], sets[j])
			if sim > maxJaccard {
				maxJaccard = sim
			}
		}
	}
	return clamp01(1.0 - maxJaccard)
}

func acceptanceCriteriaTokenSet(criteria []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, c := range criteria {
		for _, tok := range storypack.Tokens(c) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// CountBand rewards a story count in the "healthy decomposition" band: 4-8
// stories scores 1.0, 3 or 9 score 0.7, anything else (including 0 or very
// large packs) scores 0.4.
func CountBand(count int) float64 {
	switch {
	case count >= 4 && count <= 8:
		return 1.0
	case count == 3 || count == 9:
		return 0.7
	default:
		return 0.4
	}
}
