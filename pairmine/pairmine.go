// Package pairmine implements the Similarity & Pair Miner: a
// deterministic, dependency-free hash-vector cosine similarity over
// extracted story-pack text, used to find same-epic run pairs that look
// alike but scored very differently.
package pairmine

import (
	"hash/fnv"
	"math"
	"sort"

	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/storypack"
)

// Tier buckets a pair by the quality of its "good" member.
type Tier string

// Recognized tiers.
const (
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
)

// ContrastPair is a mined contrastive run pair.
type ContrastPair struct {
	EpicID        string
	Good          distro.ScoredRun
	Bad           distro.ScoredRun
	Similarity    float64
	ScoreDelta    float64
	Tier          Tier
	PrimaryMetric string
	ErrorAnalysis []string
}

// Options configures Mine.
type Options struct {
	Buckets       int
	MinSim        float64
	MinDelta      float64
	MaxPairs      int
	StratifyTiers bool
}

// DefaultOptions mirrors documented defaults.
func DefaultOptions() Options {
	return Options{Buckets: 2048, MinSim: 0.5, MinDelta: 0.2, MaxPairs: 20}
}

// Vector hashes tokens of text into a fixed-width occurrence-count vector.
// This is a deterministic, dependency-free approximation of nearest-
// neighbor retrieval. The tokenizer and bucket count are fixed here
// (storypack.Tokens, 2048 buckets by default); neither is recorded in any
// audit record.
func Vector(text string, buckets int) []float64 {
	if buckets <= 0 {
		buckets = 2048
	}
	vec := make([]float64, buckets)
	for _, tok := range storypack.Tokens(text) {
		vec[bucketOf(tok, buckets)]++
	}
	return vec
}

func bucketOf(tok string, buckets int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	return int(h.Sum32() % uint32(buckets))
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors. Two all-zero vectors are defined as similarity 0 (no evidence of
// similarity, not a div-by-zero crash).
func CosineSimilarity(a, b []float64) float64 {
	var dot, normA, normB float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Mine takes the per-epic grouped results the Distributional Evaluator
// already produced and returns tiered contrastive pairs: skip pairs where
// both failed, keep pairs meeting the
// similarity/delta thresholds, assign good/bad by score, sort by
// descending delta (ties by descending similarity), and truncate. Runs
// from disjoint epics are never paired because grouping is the caller's
// (the evaluator's) responsibility, not re-derived here.
func Mine(perEpic []distro.EpicDistResult, opts Options) []ContrastPair {
	if opts.Buckets <= 0 {
		opts.Buckets = 2048
	}

	var candidates []ContrastPair
	for _, epic := range perEpic {
		group := epic.Runs
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				pair, ok := considerPair(epic.EpicID, group[i], group[j], opts)
				if ok {
					candidates = append(candidates, pair)
				}
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ScoreDelta != candidates[j].ScoreDelta {
			return candidates[i].ScoreDelta > candidates[j].ScoreDelta
		}
		return candidates[i].Similarity > candidates[j].Similarity
	})

	for i := range candidates {
		candidates[i].Tier = tierOf(candidates[i].Good.Score)
	}

	if opts.StratifyTiers {
		candidates = stratify(candidates)
	}

	if opts.MaxPairs > 0 && len(candidates) > opts.MaxPairs {
		candidates = candidates[:opts.MaxPairs]
	}
	return candidates
}

func considerPair(epicID string, a, b distro.ScoredRun, opts Options) (ContrastPair, bool) {
	if !a.SchemaValid && !b.SchemaValid {
		return ContrastPair{}, false
	}
	textA := extractTextSafe(a.StoryPack)
	textB := extractTextSafe(b.StoryPack)
	sim := CosineSimilarity(Vector(textA, opts.Buckets), Vector(textB, opts.Buckets))
	delta := math.Abs(a.Score - b.Score)
	if sim < opts.MinSim || delta < opts.MinDelta {
		return ContrastPair{}, false
	}
	good, bad := a, b
	if bad.Score > good.Score {
		good, bad = bad, good
	}
	return ContrastPair{
		EpicID:        epicID,
		Good:          good,
		Bad:           bad,
		Similarity:    sim,
		ScoreDelta:    good.Score - bad.Score,
		ErrorAnalysis: errorAnalysis(bad),
	}, true
}

func tierOf(goodScore float64) Tier {
	switch {
	case goodScore >= 0.75:
		return TierHigh
	case goodScore >= 0.50:
		return TierMedium
	default:
		return TierLow
	}
}

// errorAnalysis enumerates human-readable failure reasons derived from the
// bad run.
func errorAnalysis(bad distro.ScoredRun) []string {
	var reasons []string
	if !bad.SchemaValid {
		reasons = append(reasons, "schema invalid")
		return reasons
	}
	if bad.StoryPack == nil {
		reasons = append(reasons, "missing story pack")
		return reasons
	}
	if len(bad.StoryPack.UserStories) == 0 {
		reasons = append(reasons, "no user stories produced")
	}
	for _, s := range bad.StoryPack.UserStories {
		if len(s.AcceptanceCriteria) == 0 {
			reasons = append(reasons, "missing acceptance criteria on story: "+s.Title)
		}
	}
	if bad.Score < 0.5 {
		reasons = append(reasons, "low overall coverage")
	}
	return reasons
}

// stratify round-robins across tiers when truncating to maxPairs, so the
// final mix is balanced rather than dominated by one tier.
func stratify(pairs []ContrastPair) []ContrastPair {
	byTier := map[Tier][]ContrastPair{}
	order := []Tier{TierHigh, TierMedium, TierLow}
	for _, p := range pairs {
		byTier[p.Tier] = append(byTier[p.Tier], p)
	}
	var out []ContrastPair
	idx := map[Tier]int{}
	for {
		progressed := false
		for _, tier := range order {
			i := idx[tier]
			if i < len(byTier[tier]) {
				out = append(out, byTier[tier][i])
				idx[tier] = i + 1
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return out
}

func extractTextSafe(p *storypack.StoryPack) string {
	if p == nil {
		return ""
	}
	return p.ExtractText()
}
