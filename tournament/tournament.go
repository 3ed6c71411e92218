// Package tournament implements the Tournament: parallel
// distributional re-evaluation of the champion prompt and every challenger
// candidate, reduced to a per-candidate delta and a promotion decision.
package tournament

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/patchsynth"
	"github.com/epicforge/promptopt/storypack"
)

// DefaultPromoteEpsilon is the default promotion margin.
const DefaultPromoteEpsilon = 0.01

// ScoredCandidate is one challenger's tournament outcome.
type ScoredCandidate struct {
	Candidate       patchsynth.PatchCandidate
	Report          *distro.Report
	Objective       float64
	DeltaVsChampion float64
	Eligible        bool
}

// Result is the tournament's output.
type Result struct {
	ChampionObjective float64
	ChampionReport    *distro.Report
	Candidates        []ScoredCandidate
	Winner            *ScoredCandidate
}

// ProgressFunc reports (candidateIdx, totalCandidates, runsCompleted,
// totalRuns) as the tournament proceeds; candidateIdx -1 refers to the
// champion's own evaluation.
type ProgressFunc func(candidateIdx, totalCandidates, runsCompleted, totalRuns int)

// Options configures a tournament run.
type Options struct {
	Epics          []storypack.Epic
	Replicates     int
	EvalOptions    distro.Options
	Concurrency    int
	PromoteEpsilon float64
	Progress       ProgressFunc
}

// Run evaluates championPatch and every candidate in parallel (bounded by
// Options.Concurrency via errgroup.SetLimit), computes each candidate's
// deltaVsChampion, and applies the promotion rule: a candidate is eligible
// iff delta > PromoteEpsilon (default 0.01). The winner is the eligible
// candidate with the highest objective; ties broken by candidate ID for
// determinism.
func Run(ctx context.Context, gen distro.Generator, judger distro.Judger, basePrompt string, championPatch string, candidates []patchsynth.PatchCandidate, opts Options) (*Result, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.PromoteEpsilon == 0 {
		opts.PromoteEpsilon = DefaultPromoteEpsilon
	}
	evalOpts := opts.EvalOptions
	if opts.Replicates > 0 {
		evalOpts.Replicates = opts.Replicates
	}
	totalRuns := len(opts.Epics) * evalOpts.Replicates

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	var mu sync.Mutex
	var championReport *distro.Report
	scored := make([]ScoredCandidate, len(candidates))

	g.Go(func() error {
		report, err := distro.Evaluate(gctx, gen, judger, patchsynth.ComposedPrompt(basePrompt, championPatch), opts.Epics, evalOpts)
		if err != nil {
			return err
		}
		mu.Lock()
		championReport = report
		mu.Unlock()
		reportProgress(opts.Progress, -1, len(candidates), totalRuns, totalRuns)
		return nil
	})

	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			prompt := patchsynth.ComposedPrompt(basePrompt, c.Patch)
			report, err := distro.Evaluate(gctx, gen, judger, prompt, opts.Epics, evalOpts)
			if err != nil {
				return err
			}
			mu.Lock()
			scored[i] = ScoredCandidate{Candidate: c, Report: report, Objective: report.Agg.Objective}
			mu.Unlock()
			reportProgress(opts.Progress, i, len(candidates), totalRuns, totalRuns)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	championObjective := 0.0
	if championReport != nil {
		championObjective = championReport.Agg.Objective
	}
	for i := range scored {
		scored[i].DeltaVsChampion = scored[i].Objective - championObjective
		scored[i].Eligible = scored[i].DeltaVsChampion > opts.PromoteEpsilon
	}

	result := &Result{
		ChampionObjective: championObjective,
		ChampionReport:    championReport,
		Candidates:        orderedByObjectiveDesc(scored),
	}
	result.Winner = pickWinner(result.Candidates)
	return result, nil
}

func reportProgress(fn ProgressFunc, idx, total, completed, totalRuns int) {
	if fn == nil {
		return
	}
	fn(idx, total, completed, totalRuns)
}

// orderedByObjectiveDesc sorts candidates by descending objective; ties
// broken by candidate ID for deterministic presentation.
func orderedByObjectiveDesc(scored []ScoredCandidate) []ScoredCandidate {
	out := make([]ScoredCandidate, len(scored))
	copy(out, scored)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Objective != out[j].Objective {
			return out[i].Objective > out[j].Objective
		}
		return out[i].Candidate.ID < out[j].Candidate.ID
	})
	return out
}

func pickWinner(scored []ScoredCandidate) *ScoredCandidate {
	for i := range scored {
		if scored[i].Eligible {
			c := scored[i]
			return &c
		}
	}
	return nil
}
