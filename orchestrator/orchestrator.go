// Package orchestrator drives the canonical optimization loop:
//
//	init champion -> evaluate_champion -> mine_pairs -> generate_patches ->
//	tournament -> promotion_decision -> [meta_evolution?] -> checkpoint
//
// Its shape follows the same struct-of-collaborators pattern as
// examples/evaluation/promptiter/promptiter/orchestrator.go: a struct
// holding every collaborator, a constructor that wires them, and a Run loop
// that reports per-step progress and wraps every failure with the step it
// occurred in.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/epicforge/promptopt/artifacts"
	"github.com/epicforge/promptopt/champion"
	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/metaevo"
	"github.com/epicforge/promptopt/nqd"
	"github.com/epicforge/promptopt/pairmine"
	"github.com/epicforge/promptopt/patchsynth"
	"github.com/epicforge/promptopt/storypack"
	"github.com/epicforge/promptopt/tournament"
)

// Step names, reported verbatim in ProgressEvent.Step.
const (
	StepInitChampion     = "init_champion"
	StepEvaluateChampion = "evaluate_champion"
	StepMinePairs        = "mine_pairs"
	StepGeneratePatches  = "generate_patches"
	StepTournament       = "tournament"
	StepPromotionDecide  = "promotion_decision"
	StepMetaEvolution    = "meta_evolution"
	StepCheckpoint       = "checkpoint"
)

// ProgressEvent is the structured event emitted at every step boundary.
type ProgressEvent struct {
	Iteration int
	Step      string
	Detail    string
	Completed int
	Total     int
}

// ProgressFunc receives progress events; nil is a valid no-op subscriber.
type ProgressFunc func(ProgressEvent)

// Options configures a Run call.
type Options struct {
	Epics             []storypack.Epic
	MaxIterations     int
	CandidateCount    int
	EvalOptions       distro.Options
	PairOptions       pairmine.Options
	TournamentOptions tournament.Options
	NQDOptions        *nqd.Options // nil disables the NQD eligibility gate
	RunMetaEvolution  bool
	MetaEvo           *metaevo.Engine
	MetaEvoFitness    metaevo.FitnessFunc
	Progress          ProgressFunc
	ArtifactsDir      string // empty disables per-iteration artifact persistence
}

// IterationResult summarizes one completed loop iteration.
type IterationResult struct {
	Iteration         int
	ChampionObjective float64
	Promoted          bool
	Winner            *tournament.ScoredCandidate
	Inconclusive      bool
}

// OptimizationResult is the loop's terminal summary.
type OptimizationResult struct {
	Iterations    []IterationResult
	FinalChampion champion.State
	StoppedReason string
}

// Reasons Run records in OptimizationResult.StoppedReason.
const (
	ReasonMaxIterations    = "max_iterations"
	ReasonCancelled        = "cancelled"
	ReasonEvaluatorOutages = "two_consecutive_evaluator_outages"
)

// Orchestrator owns the collaborators the loop drives each iteration.
type Orchestrator struct {
	Champion *champion.Store
	Gen      distro.Generator
	Judger   distro.Judger
	Synth    *patchsynth.Synthesizer
	Now      func() time.Time
}

// NewOrchestrator wires the loop's collaborators, following the same
// NewOrchestrator(ctx, cfg) constructor shape as promptiter/orchestrator.go.
func NewOrchestrator(champ *champion.Store, gen distro.Generator, judger distro.Judger, synth *patchsynth.Synthesizer) *Orchestrator {
	return &Orchestrator{Champion: champ, Gen: gen, Judger: judger, Synth: synth, Now: time.Now}
}

// Run executes the loop until a terminal condition is reached:
// iteration count >= maxIterations, cooperative cancellation, or two
// consecutive full evaluator outages.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*OptimizationResult, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	result := &OptimizationResult{}
	consecutiveOutages := 0
	artifactStore := artifacts.NewStore(opts.ArtifactsDir)

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			result.StoppedReason = ReasonCancelled
			return result, nil
		}

		iterResult, outage, err := o.runIteration(ctx, iter, opts, artifactStore)
		if err != nil {
			if errs.Is(err, errs.KindCancellation) {
				result.StoppedReason = ReasonCancelled
				return result, nil
			}
			return result, err
		}
		result.Iterations = append(result.Iterations, iterResult)

		if outage {
			consecutiveOutages++
		} else {
			consecutiveOutages = 0
		}
		if consecutiveOutages >= 2 {
			result.StoppedReason = ReasonEvaluatorOutages
			result.FinalChampion = o.Champion.Current()
			return result, nil
		}
	}

	result.StoppedReason = ReasonMaxIterations
	result.FinalChampion = o.Champion.Current()
	return result, nil
}

func (o *Orchestrator) runIteration(ctx context.Context, iter int, opts Options, artifactStore *artifacts.Store) (IterationResult, bool, error) {
	emit := func(step, detail string, completed, total int) {
		reportProgress(opts.Progress, ProgressEvent{Iteration: iter, Step: step, Detail: detail, Completed: completed, Total: total})
	}

	emit(StepInitChampion, "", 0, 1)
	current := o.Champion.Current()
	emit(StepInitChampion, "loaded", 1, 1)
	_ = artifactStore.WriteJSON(iter, "champion_before.json", current)

	if err := checkCancel(ctx); err != nil {
		return IterationResult{}, false, err
	}

	emit(StepEvaluateChampion, "", 0, 1)
	champReport, err := distro.Evaluate(ctx, o.Gen, o.Judger, current.Composed, opts.Epics, opts.EvalOptions)
	if err != nil {
		return IterationResult{}, false, fmt.Errorf("%s: %w", StepEvaluateChampion, err)
	}
	emit(StepEvaluateChampion, "evaluated", 1, 1)
	_ = artifactStore.WriteJSON(iter, "champion_report.json", champReport)

	if champReport.Agg.Inconclusive {
		return IterationResult{
			Iteration:         iter,
			ChampionObjective: champReport.Agg.Objective,
			Inconclusive:      true,
		}, true, nil
	}

	if err := checkCancel(ctx); err != nil {
		return IterationResult{}, false, err
	}

	emit(StepMinePairs, "", 0, 1)
	pairs := pairmine.Mine(champReport.PerEpic, opts.PairOptions)
	emit(StepMinePairs, fmt.Sprintf("%d pairs", len(pairs)), 1, 1)
	_ = artifactStore.WriteJSON(iter, "pairs.json", pairs)

	if err := checkCancel(ctx); err != nil {
		return IterationResult{}, false, err
	}

	emit(StepGeneratePatches, "", 0, 1)
	candidates, err := o.Synth.Synthesize(ctx, current.Base, current.Patch, pairs, opts.CandidateCount)
	if err != nil {
		return IterationResult{}, false, fmt.Errorf("%s: %w", StepGeneratePatches, err)
	}
	emit(StepGeneratePatches, fmt.Sprintf("%d candidates", len(candidates)), 1, 1)
	_ = artifactStore.WriteJSON(iter, "candidates.json", candidates)

	if len(candidates) == 0 {
		return IterationResult{Iteration: iter, ChampionObjective: champReport.Agg.Objective}, false, nil
	}

	if err := checkCancel(ctx); err != nil {
		return IterationResult{}, false, err
	}

	emit(StepTournament, "", 0, len(candidates))
	topts := opts.TournamentOptions
	topts.Epics = opts.Epics
	topts.Progress = func(candidateIdx, total, completed, totalRuns int) {
		emit(StepTournament, fmt.Sprintf("candidate %d/%d", candidateIdx+1, total), completed, totalRuns)
	}
	tourResult, err := tournament.Run(ctx, o.Gen, o.Judger, current.Base, current.Patch, candidates, topts)
	if err != nil {
		return IterationResult{}, false, fmt.Errorf("%s: %w", StepTournament, err)
	}
	emit(StepTournament, "complete", len(candidates), len(candidates))
	_ = artifactStore.WriteJSON(iter, "tournament_result.json", tourResult)

	emit(StepPromotionDecide, "", 0, 1)
	winner := tourResult.Winner
	if winner != nil && opts.NQDOptions != nil {
		winner = applyNQDGate(*opts.NQDOptions, tourResult)
	}
	promoted := winner != nil
	emit(StepPromotionDecide, fmt.Sprintf("promoted=%v", promoted), 1, 1)
	_ = artifactStore.WriteJSON(iter, "promotion_decision.json", map[string]any{"promoted": promoted, "winner": winner})

	if opts.RunMetaEvolution && opts.MetaEvo != nil && opts.MetaEvoFitness != nil {
		emit(StepMetaEvolution, "", 0, 1)
		if _, err := opts.MetaEvo.RunGeneration(ctx, iter, pairs, opts.MetaEvoFitness); err != nil {
			return IterationResult{}, false, fmt.Errorf("%s: %w", StepMetaEvolution, err)
		}
		emit(StepMetaEvolution, "complete", 1, 1)
	}

	if promoted {
		emit(StepCheckpoint, "", 0, 1)
		if err := o.Champion.Promote(winner.Candidate.Patch, o.Now()); err != nil {
			return IterationResult{}, false, fmt.Errorf("%s: %w", StepCheckpoint, err)
		}
		emit(StepCheckpoint, "persisted", 1, 1)
	}

	return IterationResult{
		Iteration:         iter,
		ChampionObjective: tourResult.ChampionObjective,
		Promoted:          promoted,
		Winner:            winner,
	}, false, nil
}

// applyNQDGate restricts tournament eligibility to candidates that also
// survive the NQD pipeline's eligibility gate, Pareto front, and
// tie-break.
func applyNQDGate(opts nqd.Options, tourResult *tournament.Result) *tournament.ScoredCandidate {
	if len(tourResult.Candidates) == 0 {
		return nil
	}
	byID := make(map[string]tournament.ScoredCandidate, len(tourResult.Candidates))
	nqdCandidates := make([]nqd.Candidate, 0, len(tourResult.Candidates))
	for _, c := range tourResult.Candidates {
		byID[c.Candidate.ID] = c
		nqdCandidates = append(nqdCandidates, nqd.Candidate{
			ID:        c.Candidate.ID,
			Text:      c.Candidate.Patch,
			Objective: c.Objective,
		})
	}
	archive := nqd.Select(nqdCandidates, opts)
	if archive.SelectedWinner == nil {
		return nil
	}
	winner, ok := byID[archive.SelectedWinner.Candidate.ID]
	if !ok || !winner.Eligible {
		return nil
	}
	return &winner
}

func checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errs.New(errs.KindCancellation, "orchestrator", errs.ErrCancelled)
	}
	return nil
}

func reportProgress(fn ProgressFunc, ev ProgressEvent) {
	if fn == nil {
		return
	}
	fn(ev)
}
