// Package nqd implements the NQD Portfolio Selector: eligibility
// gating, creativity-profile computation, Pareto dominance over
// {R_eff, useValue}, front pruning, and tie-break selection. Illumination
// telemetry is computed on the pruned front but is by construction never
// consulted by dominance or tie-break (it is computed after the winner is
// already chosen).
package nqd

import (
	"math"
	"sort"

	"github.com/epicforge/promptopt/pairmine"
)

// Candidate is the minimal input the selector needs per portfolio member.
type Candidate struct {
	ID          string
	Text        string
	SchemaValid bool
	PassRate    float64
	Objective   float64
	REff        float64
	HasREff     bool
}

// qDim returns R_eff when available, else falls back to the
// candidate's plain objective as a usable proxy for it.
func (c Candidate) qDim() float64 {
	if c.HasREff {
		return c.REff
	}
	return c.Objective
}

// CreativityProfile is a candidate's computed creativity profile.
type CreativityProfile struct {
	NoveltyAtContext float64
	UseValue         float64
	Surprise         float64
	ConstraintFit    float64
	DiversityP       float64
}

// Scored pairs a Candidate with its computed profile.
type Scored struct {
	Candidate Candidate
	Profile   CreativityProfile
}

// Illumination is the coverage/QD-score telemetry computed on the pruned
// front. It is reported but never used to break ties or influence
// dominance.
type Illumination struct {
	Coverage        float64
	QDScore         float64
	ObjectiveSpread float64
	AvgNovelty      float64
	AvgDiversity    float64
}

// Archive is the retained Pareto archive.
type Archive struct {
	ParetoFront    []Scored
	Dominated      []Scored
	Ineligible     []Candidate
	Illumination   Illumination
	SelectedWinner *Scored
}

// Options configures Select.
type Options struct {
	ConstraintFitThreshold float64
	UseValueThreshold      float64
	MaxFrontSize           int
	Buckets                int
	ReferenceCorpus        []string
	BaselineObjective      float64
}

// DefaultOptions mirrors /documented defaults.
func DefaultOptions() Options {
	return Options{ConstraintFitThreshold: 1.0, UseValueThreshold: 0, MaxFrontSize: 10, Buckets: 2048}
}

// Select runs the strict-order pipeline . Reordering the
// steps is forbidden: eligibility gate, creativity profile, Pareto
// dominance, front pruning, tie-break, illumination telemetry (computed
// last, never feeding back into the prior steps).
func Select(candidates []Candidate, opts Options) Archive {
	if opts.Buckets <= 0 {
		opts.Buckets = 2048
	}

	eligible, ineligible := eligibilityGate(candidates, opts)
	scored := computeProfiles(eligible, opts)

	front, dominated := paretoPartition(scored)
	front = pruneFront(front, opts.MaxFrontSize)

	winner := tieBreak(front)

	archive := Archive{
		ParetoFront: front,
		Dominated:   dominated,
		Ineligible:  ineligible,
	}
	archive.Illumination = illuminate(front)
	if winner != nil {
		w := *winner
		archive.SelectedWinner = &w
	}
	return archive
}

// eligibilityGate: a candidate is eligible iff constraintFit >= threshold
// OR useValue > threshold; constraintFit here is approximated pre-profile
// as passRate.
func eligibilityGate(candidates []Candidate, opts Options) ([]Candidate, []Candidate) {
	var eligible, ineligible []Candidate
	for _, c := range candidates {
		constraintFit := 0.0
		if c.SchemaValid {
			constraintFit = c.PassRate
		}
		useValue := c.Objective - opts.BaselineObjective
		if constraintFit >= opts.ConstraintFitThreshold || useValue > opts.UseValueThreshold {
			eligible = append(eligible, c)
		} else {
			ineligible = append(ineligible, c)
		}
	}
	return eligible, ineligible
}

func computeProfiles(candidates []Candidate, opts Options) []Scored {
	vectors := make([][]float64, len(candidates))
	for i, c := range candidates {
		vectors[i] = pairmine.Vector(c.Text, opts.Buckets)
	}
	refVectors := make([][]float64, len(opts.ReferenceCorpus))
	for i, ref := range opts.ReferenceCorpus {
		refVectors[i] = pairmine.Vector(ref, opts.Buckets)
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		constraintFit := 0.0
		if c.SchemaValid {
			constraintFit = c.PassRate
		}
		profile := CreativityProfile{
			ConstraintFit:    constraintFit,
			UseValue:         c.Objective - opts.BaselineObjective,
			NoveltyAtContext: novelty(vectors[i], refVectors),
			Surprise:         surprise(c.Text),
			DiversityP:       diversityAgainstOthers(i, vectors),
		}
		out[i] = Scored{Candidate: c, Profile: profile}
	}
	return out
}

// novelty is 1 minus the max cosine similarity to the reference corpus; an
// empty corpus means no evidence against which to judge familiarity, so
// novelty is defined as 1 (universal invariant: novelty(p, {}) = 1).
func novelty(v []float64, refs [][]float64) float64 {
	if len(refs) == 0 {
		return 1
	}
	maxSim := maxCosineSim(v, refs)
	return 1 - maxSim
}

func maxCosineSim(v []float64, others [][]float64) float64 {
	max := 0.0
	for _, o := range others {
		sim := pairmine.CosineSimilarity(v, o)
		if sim > max {
			max = sim
		}
	}
	return max
}

// diversityAgainstOthers is 1 minus the max cosine similarity to the other
// candidates in the portfolio; a portfolio of one has nothing to compare
// against, so diversity is 1 (: diversityP(p, {}) = 1).
func diversityAgainstOthers(idx int, vectors [][]float64) float64 {
	var others [][]float64
	for i, v := range vectors {
		if i != idx {
			others = append(others, v)
		}
	}
	if len(others) == 0 {
		return 1
	}
	return 1 - maxCosineSim(vectors[idx], others)
}

// surprise is a simple lexical-diversity heuristic bounded by 5 bits:
// the Shannon entropy of the token distribution, capped at 5.
func surprise(text string) float64 {
	counts := map[string]int{}
	total := 0
	for _, tok := range splitWords(text) {
		counts[tok]++
		total++
	}
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	if entropy > 5 {
		entropy = 5
	}
	return entropy
}

func splitWords(text string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = nil
		}
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			cur = append(cur, r)
		} else {
			flush()
		}
	}
	flush()
	return words
}

// paretoPartition splits scored candidates into the non-dominated front
// and the dominated remainder, over Q-dims {qDim, useValue} only.
func paretoPartition(scored []Scored) (front, dominated []Scored) {
	for i, a := range scored {
		dominatedByOther := false
		for j, b := range scored {
			if i == j {
				continue
			}
			if dominates(b, a) {
				dominatedByOther = true
				break
			}
		}
		if dominatedByOther {
			dominated = append(dominated, a)
		} else {
			front = append(front, a)
		}
	}
	return front, dominated
}

// dominates reports whether a dominates b: a >= b on every Q-dim and
// strictly > on at least one.
func dominates(a, b Scored) bool {
	aQ, bQ := a.Candidate.qDim(), b.Candidate.qDim()
	aU, bU := a.Profile.UseValue, b.Profile.UseValue
	if aQ < bQ || aU < bU {
		return false
	}
	return aQ > bQ || aU > bU
}

func pruneFront(front []Scored, maxFrontSize int) []Scored {
	if maxFrontSize <= 0 || len(front) <= maxFrontSize {
		return front
	}
	sorted := make([]Scored, len(front))
	copy(sorted, front)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Profile.UseValue > sorted[j].Profile.UseValue })
	return sorted[:maxFrontSize]
}

// tieBreak picks the winner within the front: (a) constraintFit >= 1,
// (b) higher useValue, (c) higher diversityP, (d) higher noveltyAtContext.
func tieBreak(front []Scored) *Scored {
	if len(front) == 0 {
		return nil
	}
	best := front[0]
	for _, c := range front[1:] {
		if better(c, best) {
			best = c
		}
	}
	return &best
}

func better(a, b Scored) bool {
	aFit, bFit := a.Profile.ConstraintFit >= 1, b.Profile.ConstraintFit >= 1
	if aFit != bFit {
		return aFit
	}
	if a.Profile.UseValue != b.Profile.UseValue {
		return a.Profile.UseValue > b.Profile.UseValue
	}
	if a.Profile.DiversityP != b.Profile.DiversityP {
		return a.Profile.DiversityP > b.Profile.DiversityP
	}
	return a.Profile.NoveltyAtContext > b.Profile.NoveltyAtContext
}

func illuminate(front []Scored) Illumination {
	if len(front) == 0 {
		return Illumination{}
	}
	minObj, maxObj := front[0].Candidate.Objective, front[0].Candidate.Objective
	var sumNovelty, sumDiversity, qdSum float64
	for _, s := range front {
		if s.Candidate.Objective < minObj {
			minObj = s.Candidate.Objective
		}
		if s.Candidate.Objective > maxObj {
			maxObj = s.Candidate.Objective
		}
		sumNovelty += s.Profile.NoveltyAtContext
		sumDiversity += s.Profile.DiversityP
		qdSum += s.Candidate.qDim() * s.Profile.DiversityP
	}
	n := float64(len(front))
	return Illumination{
		Coverage:        n,
		QDScore:         qdSum,
		ObjectiveSpread: maxObj - minObj,
		AvgNovelty:      sumNovelty / n,
		AvgDiversity:    sumDiversity / n,
	}
}
