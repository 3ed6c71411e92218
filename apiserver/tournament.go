package apiserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/epicforge/promptopt/patchsynth"
	"github.com/epicforge/promptopt/storypack"
	"github.com/epicforge/promptopt/taskstore"
	"github.com/epicforge/promptopt/tournament"
)

// tournamentRequest runs one ad hoc Tournament pass: the champion
// plus a caller-supplied set of candidates, each re-evaluated under the
// Distributional Evaluator and compared against the promotion margin.
type tournamentRequest struct {
	BasePrompt    string                      `json:"basePrompt"`
	ChampionPatch string                      `json:"championPatch"`
	Candidates    []patchsynth.PatchCandidate `json:"candidates"`
	Epics         []storypack.Epic            `json:"epics"`
}

func (h *handlers) createTournament(w http.ResponseWriter, r *http.Request) {
	var req tournamentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BasePrompt == "" || len(req.Candidates) == 0 || len(req.Epics) == 0 {
		respondError(w, "basePrompt, candidates, and epics are required", http.StatusBadRequest)
		return
	}

	task := h.deps.Tasks.Create(req)
	cfg := h.deps.Config
	topts := tournament.Options{
		Epics:          req.Epics,
		Replicates:     cfg.Eval.Replicates,
		EvalOptions:    evalOptionsFromConfig(cfg),
		Concurrency:    cfg.Opt.Concurrency,
		PromoteEpsilon: cfg.Promote.Epsilon,
		Progress: func(candidateIdx, total, completed, totalRuns int) {
			h.deps.Tasks.UpdateProgress(task.ID, taskProgressForTournament(candidateIdx, total, completed, totalRuns))
		},
	}

	go func() {
		result, err := tournament.Run(context.Background(), h.deps.Gen, h.deps.Judger, req.BasePrompt, req.ChampionPatch, req.Candidates, topts)
		if err != nil {
			h.deps.Tasks.Complete(task.ID, nil, err)
			return
		}
		h.deps.Tasks.Complete(task.ID, result, nil)
	}()

	respondCreated(w, task.ID)
}

func taskProgressForTournament(candidateIdx, total, completed, totalRuns int) taskstore.Progress {
	label := fmt.Sprintf("candidate %d/%d", candidateIdx+1, total)
	if candidateIdx < 0 {
		label = "champion"
	}
	return taskstore.Progress{Step: "tournament", Detail: label, Completed: completed, Total: totalRuns}
}
