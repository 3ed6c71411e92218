// Package distro implements the Distributional Evaluator: replicated
// generation and scoring per epic, reduced to per-epic statistics and a
// single aggregate objective. Replicate fan-out runs on an ants.PoolWithFunc
// worker pool sized by the global concurrency bound, following the same
// shape as evalCaseInferencePool in evaluation/service/local/pool.go.
package distro

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/epicforge/promptopt/assurance"
	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/heuristics"
	"github.com/epicforge/promptopt/judge"
	"github.com/epicforge/promptopt/rubric"
	"github.com/epicforge/promptopt/schema"
	"github.com/epicforge/promptopt/storypack"
)

// ScoredRun is one replicate: the raw generation plus its computed scores.
type ScoredRun struct {
	storypack.GenerateResult
	SchemaValid bool
	Score       float64
	Assurance   *assurance.Tuple
}

// EpicDistResult is the per-epic statistics bundle.
type EpicDistResult struct {
	EpicID           string
	Runs             []ScoredRun
	MeanScore        float64
	P10Score         float64
	StdScore         float64
	PassRate         float64
	DiscoverabilityK float64
}

// Aggregate is the report's aggregate objective and its inputs.
type Aggregate struct {
	MeanOfMeans  float64
	MeanPassRate float64
	MeanP10      float64
	MeanStd      float64
	Objective    float64
	Inconclusive bool
}

// Report is the full evaluation report for a prompt.
type Report struct {
	PromptID string
	PerEpic  []EpicDistResult
	Agg      Aggregate
}

// Generator is the minimal surface the evaluator needs from the Generator
// Client: produce one GenerateResult for an epic at a given seed.
type Generator interface {
	Generate(ctx context.Context, epic storypack.Epic, promptText string, seed int64, maxTokens int) *storypack.GenerateResult
}

// Judger is the minimal surface needed from the Judge Panel.
type Judger interface {
	Run(ctx context.Context, pack *storypack.StoryPack, judgePromptText string) (*judge.PanelResult, error)
}

// Options configures one evaluate() call.
type Options struct {
	Replicates      int
	SeedBase        int64
	Concurrency     int
	MaxTokens       int
	KTries          int
	LambdaStd       float64
	LambdaFail      float64
	RunJudgePanel   bool
	JudgePromptText string
}

// DefaultOptions mirrors /documented defaults.
func DefaultOptions() Options {
	return Options{
		Replicates:  3,
		SeedBase:    0,
		Concurrency: 4,
		MaxTokens:   2048,
		KTries:      3,
		LambdaStd:   0.10,
		LambdaFail:  0.20,
	}
}

type replicateJob struct {
	epicIdx    int
	epic       storypack.Epic
	seed       int64
	promptText string
}

type replicateOutcome struct {
	epicIdx int
	run     ScoredRun
}

// Evaluate runs Options.Replicates generations per epic at seeds
// {SeedBase, SeedBase+1, ...}, bounded to Options.Concurrency concurrent
// LLM calls via an ants.PoolWithFunc, and reduces the results to a Report.
func Evaluate(ctx context.Context, gen Generator, judger Judger, promptText string, epics []storypack.Epic, opts Options) (*Report, error) {
	if opts.Replicates <= 0 {
		opts.Replicates = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	total := len(epics) * opts.Replicates
	if total == 0 {
		return &Report{}, nil
	}

	outcomes := make([][]ScoredRun, len(epics))
	for i := range outcomes {
		outcomes[i] = make([]ScoredRun, opts.Replicates)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errored int

	pool, err := ants.NewPoolWithFunc(opts.Concurrency, func(args any) {
		job := args.(replicateJob)
		defer wg.Done()
		run := runOneReplicate(ctx, gen, judger, job, opts)
		mu.Lock()
		outcomes[job.epicIdx][indexForSeed(job.seed, opts.SeedBase)] = run
		if run.Error != nil {
			errored++
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, errs.New(errs.KindScorer, "distro.Evaluate", fmt.Errorf("create replicate pool: %w", err))
	}
	defer pool.Release()

	for epicIdx, epic := range epics {
		for r := 0; r < opts.Replicates; r++ {
			seed := opts.SeedBase + int64(r)
			wg.Add(1)
			job := replicateJob{epicIdx: epicIdx, epic: epic, seed: seed, promptText: promptText}
			if err := pool.Invoke(job); err != nil {
				wg.Done()
				mu.Lock()
				errored++
				mu.Unlock()
			}
		}
	}
	wg.Wait()

	perEpic := make([]EpicDistResult, len(epics))
	for i, epic := range epics {
		perEpic[i] = reduceEpic(epic.ID, outcomes[i], opts.KTries)
	}

	agg := aggregate(perEpic, opts.LambdaStd, opts.LambdaFail)
	if errored*2 >= total {
		agg.Inconclusive = true
	}

	return &Report{PerEpic: perEpic, Agg: agg}, nil
}

func indexForSeed(seed, seedBase int64) int {
	return int(seed - seedBase)
}

func runOneReplicate(ctx context.Context, gen Generator, judger Judger, job replicateJob, opts Options) ScoredRun {
	result := gen.Generate(ctx, job.epic, job.promptText, job.seed, opts.MaxTokens)
	if result == nil || result.Error != nil {
		return ScoredRun{GenerateResult: safeResult(result), SchemaValid: false, Score: 0}
	}

	validation := schema.ValidatePack(result.StoryPack)
	if !validation.Valid {
		invalid := *result
		invalid.StoryPack = nil
		invalid.Error = errs.Newf(errs.KindValidation, "distro.Evaluate", "schema invalid: %s", validation.Reason)
		return ScoredRun{GenerateResult: invalid, SchemaValid: false, Score: 0}
	}

	sub := heuristics.SubScores{
		KeywordCoverage: heuristics.KeywordCoverage(job.epic, result.StoryPack),
		Duplication:     heuristics.Duplication(result.StoryPack),
		CountBand:       heuristics.CountBand(len(result.StoryPack.UserStories)),
		SchemaValid:     true,
	}

	var tuple *assurance.Tuple
	if opts.RunJudgePanel && judger != nil {
		panelResult, perr := judger.Run(ctx, result.StoryPack, opts.JudgePromptText)
		if perr == nil && panelResult != nil {
			sub.InvestComposite = averageInvest(panelResult)
			sub.AcceptanceCriteriaQuality = averageTestability(panelResult)
			judgeInputs := make([]assurance.JudgeInput, 0, len(panelResult.Outputs))
			for _, o := range panelResult.Outputs {
				judgeInputs = append(judgeInputs, assurance.JudgeInput{
					JudgeID: o.JudgeID, OverallScore: o.OverallScore, Formality: o.Formality,
				})
			}
			t := assurance.Aggregate(judgeInputs, panelResult.Congruence)
			tuple = &t
		}
	} else {
		sub.InvestComposite = 1
		sub.AcceptanceCriteriaQuality = 1
	}

	return ScoredRun{
		GenerateResult: *result,
		SchemaValid:    true,
		Score:          sub.Overall(),
		Assurance:      tuple,
	}
}

func averageInvest(panel *judge.PanelResult) float64 {
	if len(panel.Outputs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range panel.Outputs {
		scores := make(map[rubric.Criterion]float64, len(o.PerCriterion))
		for c, cs := range o.PerCriterion {
			scores[c] = cs.Score
		}
		sum += rubric.WeightedMean(scores, rubric.InvestCriteria)
	}
	return sum / float64(len(panel.Outputs))
}

func averageTestability(panel *judge.PanelResult) float64 {
	if len(panel.Outputs) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range panel.Outputs {
		if cs, ok := o.PerCriterion[rubric.Testable]; ok {
			sum += cs.Score
		}
	}
	return sum / float64(len(panel.Outputs))
}

func safeResult(r *storypack.GenerateResult) storypack.GenerateResult {
	if r == nil {
		return storypack.GenerateResult{Error: errors.New("generator returned nil result")}
	}
	return *r
}

func reduceEpic(epicID string, runs []ScoredRun, kTries int) EpicDistResult {
	sorted := make([]ScoredRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seed < sorted[j].Seed })

	scores := make([]float64, len(sorted))
	validCount := 0
	for i, r := range sorted {
		scores[i] = r.Score
		if r.SchemaValid {
			validCount++
		}
	}

	mean := meanOf(scores)
	p10 := percentile(scores, 0.10)
	std := stdDevOf(scores, mean)
	passRate := 0.0
	if len(sorted) > 0 {
		passRate = float64(validCount) / float64(len(sorted))
	}
	if kTries <= 0 {
		kTries = 3
	}
	discoverability := 1 - math.Pow(1-passRate, float64(kTries))

	return EpicDistResult{
		EpicID:           epicID,
		Runs:             sorted,
		MeanScore:        mean,
		P10Score:         p10,
		StdScore:         std,
		PassRate:         passRate,
		DiscoverabilityK: discoverability,
	}
}

func meanOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// percentile computes the nearest-rank percentile over a copy of vs sorted
// ascending, matching the "10th percentile by nearest-rank" definition.
func percentile(vs []float64, p float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func stdDevOf(vs []float64, mean float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range vs {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vs)))
}

// aggregate implements objective formula:
//
//	objective = 0.45*meanPassRate + 0.35*meanOfMeans + 0.20*meanP10
//	            - lambdaStd*meanStd - lambdaFail*(1-meanPassRate)
//
// clamped to [0,1].
func aggregate(perEpic []EpicDistResult, lambdaStd, lambdaFail float64) Aggregate {
	if len(perEpic) == 0 {
		return Aggregate{}
	}
	var sumMean, sumPass, sumP10, sumStd float64
	for _, e := range perEpic {
		sumMean += e.MeanScore
		sumPass += e.PassRate
		sumP10 += e.P10Score
		sumStd += e.StdScore
	}
	n := float64(len(perEpic))
	meanOfMeans := sumMean / n
	meanPassRate := sumPass / n
	meanP10 := sumP10 / n
	meanStd := sumStd / n

	objective := 0.45*meanPassRate + 0.35*meanOfMeans + 0.20*meanP10 -
		lambdaStd*meanStd - lambdaFail*(1-meanPassRate)
	objective = clamp01(objective)

	return Aggregate{
		MeanOfMeans:  meanOfMeans,
		MeanPassRate: meanPassRate,
		MeanP10:      meanP10,
		MeanStd:      meanStd,
		Objective:    objective,
	}
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
