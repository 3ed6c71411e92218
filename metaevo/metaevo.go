// Package metaevo implements the Meta-Evolution Engine: two
// co-evolving populations, task prompts and the mutation prompts used to
// produce new task-prompt patches, advanced one generation at a time until
// convergence.
package metaevo

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/epicforge/promptopt/llmclient"
	"github.com/epicforge/promptopt/pairmine"
)

// Kind is one of the six recognized mutation kinds.
type Kind string

// Recognized mutation kinds.
const (
	KindDirect         Kind = "DIRECT"
	KindEDA            Kind = "EDA"
	KindHypermutation  Kind = "HYPERMUTATION"
	KindLamarckian     Kind = "LAMARCKIAN"
	KindCrossover      Kind = "CROSSOVER"
	KindZeroOrderHyper Kind = "ZERO_ORDER_HYPER"
)

// MutationPrompt is the mutation-prompt record. ParentID is stored by id,
// not by reference, since a mutation prompt can descend from one that was
// later pruned from the population; the population map resolves it lazily
// and tolerates a dangling id.
type MutationPrompt struct {
	ID          string
	Text        string
	Kind        Kind
	Fitness     float64
	UsageCount  int
	SuccessRate float64
	Generation  int
	ParentID    *string
}

// TaskPrompt is the task-prompt record.
type TaskPrompt struct {
	ID         string
	Base       string
	Patch      string
	Fitness    float64
	Generation int
	MutationID *string
	ParentID   *string
}

// DefaultAlpha is the EMA smoothing factor for mutation successRate
// updates.
const DefaultAlpha = 0.3

// UpdateMutationFitness applies step 2's EMA reward update in place:
//
//	successRate <- alpha*1[improved] + (1-alpha)*successRate
//	usageCount  += 1
//	fitness     <- successRate
//
// The reward is computed against the task prompt's parent, not the
// population best.
func UpdateMutationFitness(m *MutationPrompt, improvedBeyondEpsilon bool, alpha float64) {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	indicator := 0.0
	if improvedBeyondEpsilon {
		indicator = 1.0
	}
	m.SuccessRate = alpha*indicator + (1-alpha)*m.SuccessRate
	m.UsageCount++
	m.Fitness = m.SuccessRate
}

// FitnessFunc evaluates a candidate TaskPrompt's fitness; the orchestrator
// typically wires this to the Distributional Evaluator's objective.
type FitnessFunc func(ctx context.Context, tp TaskPrompt) (float64, error)

// Options configures an Engine.
type Options struct {
	TaskPopulationSize int
	EliteCount         int
	TournamentSize     int
	PCrossover         float64
	PHypermutation     float64
	Alpha              float64
	ImprovementEpsilon float64
	MaxGenerations     int
	Seed               int64
}

// DefaultOptions mirrors documented defaults.
func DefaultOptions() Options {
	return Options{
		TaskPopulationSize: 8,
		EliteCount:         2,
		TournamentSize:     3,
		PCrossover:         0.3,
		PHypermutation:     0.1,
		Alpha:              DefaultAlpha,
		ImprovementEpsilon: 0.01,
		MaxGenerations:     20,
	}
}

// Engine owns both populations and the LLM-driven mutation operators.
type Engine struct {
	Transport llmclient.Transport
	Model     string
	Opts      Options

	rng *rand.Rand

	tasks      map[string]*TaskPrompt
	mutations  map[string]*MutationPrompt
	bestTaskID string

	zeroSuccessStreak int
}

// NewEngine builds an Engine with its own deterministic RNG, seeded from
// Opts.Seed so a fixed transcript of LLM outputs reproduces identical
// generations.
func NewEngine(transport llmclient.Transport, model string, opts Options) *Engine {
	return &Engine{
		Transport: transport,
		Model:     model,
		Opts:      opts,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		tasks:     make(map[string]*TaskPrompt),
		mutations: make(map[string]*MutationPrompt),
	}
}

// SeedPopulation initializes both populations from the caller's starting
// task prompts and mutation prompts.
func (e *Engine) SeedPopulation(tasks []TaskPrompt, mutations []MutationPrompt) {
	for i := range tasks {
		t := tasks[i]
		e.tasks[t.ID] = &t
	}
	for i := range mutations {
		m := mutations[i]
		e.mutations[m.ID] = &m
	}
	e.updateBest()
}

// Task returns a copy of the task prompt with the given id, or false if
// absent.
func (e *Engine) Task(id string) (TaskPrompt, bool) {
	t, ok := e.tasks[id]
	if !ok {
		return TaskPrompt{}, false
	}
	return *t, true
}

// BestTask returns the current best-known task prompt.
func (e *Engine) BestTask() (TaskPrompt, bool) {
	return e.Task(e.bestTaskID)
}

// Converged reports whether 3 consecutive generations have produced zero
// successful mutations.
func (e *Engine) Converged() bool {
	return e.zeroSuccessStreak >= 3
}

func (e *Engine) updateBest() {
	var best *TaskPrompt
	for _, t := range e.tasks {
		if best == nil || t.Fitness > best.Fitness {
			best = t
		}
	}
	if best != nil {
		e.bestTaskID = best.ID
	}
}

func (e *Engine) taskList() []*TaskPrompt {
	out := make([]*TaskPrompt, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	return out
}

func (e *Engine) mutationList() []*MutationPrompt {
	out := make([]*MutationPrompt, 0, len(e.mutations))
	for _, m := range e.mutations {
		out = append(out, m)
	}
	return out
}

// tournamentSelect picks the fittest of T distinct, randomly sampled task
// prompts.
func (e *Engine) tournamentSelect() *TaskPrompt {
	pool := e.taskList()
	if len(pool) == 0 {
		return nil
	}
	size := e.Opts.TournamentSize
	if size <= 0 || size > len(pool) {
		size = len(pool)
	}
	order := e.rng.Perm(len(pool))
	best := pool[order[0]]
	for _, k := range order[1:size] {
		c := pool[k]
		if c.Fitness > best.Fitness {
			best = c
		}
	}
	return best
}

// rouletteSelectMutation performs fitness-proportional selection over
// non-meta mutation prompts (DIRECT, EDA, LAMARCKIAN, CROSSOVER — the
// operators that act on task prompts rather than on other mutation
// prompts).
func (e *Engine) rouletteSelectMutation() *MutationPrompt {
	var candidates []*MutationPrompt
	for _, m := range e.mutationList() {
		if m.Kind != KindHypermutation && m.Kind != KindZeroOrderHyper {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	total := 0.0
	for _, m := range candidates {
		total += m.Fitness + 0.01 // small floor so zero-fitness mutations stay reachable
	}
	if total <= 0 {
		return candidates[e.rng.Intn(len(candidates))]
	}
	pick := e.rng.Float64() * total
	cum := 0.0
	for _, m := range candidates {
		cum += m.Fitness + 0.01
		if pick <= cum {
			return m
		}
	}
	return candidates[len(candidates)-1]
}

// GenerationReport summarizes one RunGeneration call.
type GenerationReport struct {
	Generation        int
	SuccessfulMutants int
	NewTaskIDs        []string
}

// RunGeneration advances the populations by one generation 
// per-generation algorithm: elite copy, then tournament selection +
// crossover-or-mutation to fill the rest of the task population, then an
// optional hypermutation pass, then best-task bookkeeping.
func (e *Engine) RunGeneration(ctx context.Context, generation int, pairs []pairmine.ContrastPair, fitnessFn FitnessFunc) (GenerationReport, error) {
	report := GenerationReport{Generation: generation}

	elite := e.eliteIDs()
	newTasks := make(map[string]*TaskPrompt, e.Opts.TaskPopulationSize)
	for _, id := range elite {
		newTasks[id] = e.tasks[id]
	}

	for len(newTasks) < e.Opts.TaskPopulationSize {
		parent := e.tournamentSelect()
		if parent == nil {
			break
		}
		var child *TaskPrompt
		var err error
		var usedMutation *MutationPrompt

		if e.rng.Float64() < e.Opts.PCrossover && len(e.tasks) >= 2 {
			other := e.tournamentSelect()
			child, err = e.crossover(ctx, parent, other, generation)
		} else {
			usedMutation = e.rouletteSelectMutation()
			if usedMutation == nil {
				break
			}
			child, err = e.applyMutation(ctx, usedMutation, parent, pairs, generation)
		}
		if err != nil || child == nil {
			continue
		}

		fitness, ferr := fitnessFn(ctx, *child)
		if ferr != nil {
			continue
		}
		child.Fitness = fitness

		improved := fitness > parent.Fitness+e.Opts.ImprovementEpsilon
		if usedMutation != nil {
			UpdateMutationFitness(usedMutation, improved, e.Opts.Alpha)
		}
		if improved {
			report.SuccessfulMutants++
		}

		e.tasks[child.ID] = child
		newTasks[child.ID] = child
		report.NewTaskIDs = append(report.NewTaskIDs, child.ID)
	}

	e.tasks = newTasks

	if e.rng.Float64() < e.Opts.PHypermutation {
		if err := e.hypermutate(ctx, generation); err != nil {
			return report, err
		}
	}
	if e.rng.Float64() < e.Opts.PHypermutation {
		if err := e.zeroOrderHyper(ctx, generation); err != nil {
			return report, err
		}
	}

	e.updateBest()

	if report.SuccessfulMutants == 0 {
		e.zeroSuccessStreak++
	} else {
		e.zeroSuccessStreak = 0
	}

	return report, nil
}

func (e *Engine) eliteIDs() []string {
	pool := e.taskList()
	if len(pool) == 0 {
		return nil
	}
	sorted := append([]*TaskPrompt(nil), pool...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Fitness > sorted[i].Fitness {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	n := e.Opts.EliteCount
	if n > len(sorted) {
		n = len(sorted)
	}
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = sorted[i].ID
	}
	return ids
}

func (e *Engine) applyMutation(ctx context.Context, m *MutationPrompt, parent *TaskPrompt, pairs []pairmine.ContrastPair, generation int) (*TaskPrompt, error) {
	prompt := mutationInstructionPrompt(m, parent, pairs)
	newPatch, err := e.callLLM(ctx, prompt)
	if err != nil {
		return nil, err
	}
	mutationID := m.ID
	parentID := parent.ID
	return &TaskPrompt{
		ID:         fmt.Sprintf("%s-g%d-%d", parent.ID, generation, e.rng.Int()),
		Base:       parent.Base,
		Patch:      newPatch,
		Generation: generation,
		MutationID: &mutationID,
		ParentID:   &parentID,
	}, nil
}

func (e *Engine) crossover(ctx context.Context, a, b *TaskPrompt, generation int) (*TaskPrompt, error) {
	prompt := fmt.Sprintf(
		"Combine the following two prompt patches into one coherent patch that keeps the strongest "+
			"rules from each.\n\nPATCH A:\n%s\n\nPATCH B:\n%s\n\nRespond with the combined patch text only.",
		a.Patch, b.Patch)
	newPatch, err := e.callLLM(ctx, prompt)
	if err != nil {
		return nil, err
	}
	parentID := a.ID
	return &TaskPrompt{
		ID:         fmt.Sprintf("%s-x%s-g%d-%d", a.ID, b.ID, generation, e.rng.Int()),
		Base:       a.Base,
		Patch:      newPatch,
		Generation: generation,
		ParentID:   &parentID,
	}, nil
}

// hypermutate implements step 3: pick the lowest-fitness non-meta
// mutation prompt as the target, pick a HYPERMUTATION mutation prompt, ask
// it to rewrite the target, and replace the population's worst slot with
// the rewrite.
func (e *Engine) hypermutate(ctx context.Context, generation int) error {
	var target *MutationPrompt
	var hyper *MutationPrompt
	for _, m := range e.mutationList() {
		if m.Kind == KindHypermutation {
			if hyper == nil {
				hyper = m
			}
			continue
		}
		if m.Kind == KindZeroOrderHyper {
			continue
		}
		if target == nil || m.Fitness < target.Fitness {
			target = m
		}
	}
	if target == nil || hyper == nil {
		return nil
	}

	prompt := fmt.Sprintf(
		"Rewrite the following mutation instruction to make it more effective. It has succeeded %.2f%% "+
			"of %d uses.\n\nCURRENT INSTRUCTION:\n%s\n\nRespond with the rewritten instruction text only.",
		target.SuccessRate*100, target.UsageCount, target.Text)
	rewritten, err := e.callLLM(ctx, prompt)
	if err != nil {
		return err
	}

	worst := e.worstMutationID()
	if worst == "" {
		return nil
	}
	parentID := target.ID
	delete(e.mutations, worst)
	newID := fmt.Sprintf("%s-hyper-g%d", target.ID, generation)
	e.mutations[newID] = &MutationPrompt{
		ID:         newID,
		Text:       rewritten,
		Kind:       target.Kind,
		Generation: generation,
		ParentID:   &parentID,
	}
	return nil
}

// zeroOrderHyper implements the zero-order counterpart to hypermutate: it
// synthesizes a brand-new mutation instruction from scratch rather than
// rewriting an existing one's Text, so the mutation-prompt population can
// acquire instructions unrelated to any current member's wording. The
// synthesized prompt replaces the population's worst replaceable slot, the
// same eviction target hypermutate uses.
func (e *Engine) zeroOrderHyper(ctx context.Context, generation int) error {
	worst := e.worstMutationID()
	if worst == "" {
		return nil
	}

	prompt := "Write a brand-new instruction for mutating a prompt patch so that a language model follows " +
		"a task description more faithfully. Do not rewrite or reference any existing instruction; invent one " +
		"from a fresh angle. Respond with the instruction text only."
	text, err := e.callLLM(ctx, prompt)
	if err != nil {
		return err
	}

	delete(e.mutations, worst)
	newID := fmt.Sprintf("zero-hyper-g%d-%d", generation, e.rng.Int())
	e.mutations[newID] = &MutationPrompt{
		ID:         newID,
		Text:       text,
		Kind:       KindZeroOrderHyper,
		Generation: generation,
	}
	return nil
}

func (e *Engine) worstMutationID() string {
	var worst *MutationPrompt
	for _, m := range e.mutationList() {
		if m.Kind == KindHypermutation || m.Kind == KindZeroOrderHyper {
			continue
		}
		if worst == nil || m.Fitness < worst.Fitness {
			worst = m
		}
	}
	if worst == nil {
		return ""
	}
	return worst.ID
}

func (e *Engine) callLLM(ctx context.Context, prompt string) (string, error) {
	req := llmclient.Request{
		Model:       e.Model,
		Temperature: 0.9,
		Messages: []llmclient.Message{
			{Role: llmclient.RoleUser, Content: prompt},
		},
	}
	resp, err := llmclient.CallWithTimeout(ctx, 0, e.Transport, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func mutationInstructionPrompt(m *MutationPrompt, parent *TaskPrompt, pairs []pairmine.ContrastPair) string {
	switch m.Kind {
	case KindEDA:
		return fmt.Sprintf("%s\n\nCurrent patch:\n%s\n\nContrastive pairs observed: %d", m.Text, parent.Patch, len(pairs))
	case KindLamarckian:
		return fmt.Sprintf("%s\n\nCurrent patch:\n%s\n\nExemplar: the highest-scoring prior run.", m.Text, parent.Patch)
	default: // DIRECT and any fallback
		return fmt.Sprintf("%s\n\nCurrent patch:\n%s", m.Text, parent.Patch)
	}
}
