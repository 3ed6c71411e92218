package apiserver

import (
	"context"
	"net/http"

	"github.com/epicforge/promptopt/config"
	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/orchestrator"
	"github.com/epicforge/promptopt/pairmine"
	"github.com/epicforge/promptopt/storypack"
	"github.com/epicforge/promptopt/tournament"
)

// optimizeRequest starts the full canonical loop for a set of
// epics. Zero-valued numeric fields fall back to the server's configured
// defaults.
type optimizeRequest struct {
	Epics            []storypack.Epic `json:"epics"`
	MaxIterations    int              `json:"maxIterations"`
	CandidateCount   int              `json:"candidateCount"`
	RunMetaEvolution bool             `json:"runMetaEvolution"`
}

func (h *handlers) createOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Epics) == 0 {
		respondError(w, "epics must not be empty", http.StatusBadRequest)
		return
	}

	cfg := h.deps.Config
	if req.MaxIterations <= 0 {
		req.MaxIterations = 1
	}
	if req.CandidateCount <= 0 {
		req.CandidateCount = 4
	}

	task := h.deps.Tasks.Create(req)
	orch := orchestrator.NewOrchestrator(h.deps.Champion, h.deps.Gen, h.deps.Judger, h.deps.Synth)

	evalOpts := evalOptionsFromConfig(cfg)
	opts := orchestrator.Options{
		Epics:            req.Epics,
		MaxIterations:    req.MaxIterations,
		CandidateCount:   req.CandidateCount,
		EvalOptions:      evalOpts,
		PairOptions:      pairOptionsFromConfig(cfg),
		RunMetaEvolution: req.RunMetaEvolution,
		ArtifactsDir:     cfg.Loop.ArtifactsDir,
		TournamentOptions: tournament.Options{
			Replicates:     cfg.Eval.Replicates,
			EvalOptions:    evalOpts,
			Concurrency:    cfg.Opt.Concurrency,
			PromoteEpsilon: cfg.Promote.Epsilon,
		},
		Progress: func(ev orchestrator.ProgressEvent) {
			h.deps.Tasks.UpdateProgress(task.ID, progressFromOrchestrator(ev))
		},
	}

	go func() {
		result, err := orch.Run(context.Background(), opts)
		if err != nil {
			h.deps.Tasks.Complete(task.ID, nil, err)
			return
		}
		h.deps.Tasks.Complete(task.ID, result, nil)
	}()

	respondCreated(w, task.ID)
}

func evalOptionsFromConfig(cfg config.Config) distro.Options {
	opts := distro.DefaultOptions()
	opts.Replicates = cfg.Eval.Replicates
	opts.SeedBase = cfg.Eval.SeedBase
	opts.LambdaStd = cfg.Eval.StdLambda
	opts.LambdaFail = cfg.Eval.FailPenalty
	opts.KTries = cfg.Eval.DiscoverabilityTries
	opts.Concurrency = cfg.Opt.Concurrency
	return opts
}

func pairOptionsFromConfig(cfg config.Config) pairmine.Options {
	opts := pairmine.DefaultOptions()
	opts.MinSim = cfg.Pair.MinSim
	opts.MinDelta = cfg.Pair.MinDelta
	opts.MaxPairs = cfg.Pair.MaxPairs
	return opts
}
