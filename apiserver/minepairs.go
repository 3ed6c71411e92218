package apiserver

import (
	"net/http"

	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/pairmine"
)

// minePairsRequest runs the Similarity & Pair Miner over a
// caller-supplied per-epic evaluation result, typically the PerEpic field
// of an earlier /evaluate response.
type minePairsRequest struct {
	PerEpic []distro.EpicDistResult `json:"perEpic"`
}

func (h *handlers) createMinePairs(w http.ResponseWriter, r *http.Request) {
	var req minePairsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.PerEpic) == 0 {
		respondError(w, "perEpic must not be empty", http.StatusBadRequest)
		return
	}

	task := h.deps.Tasks.Create(req)
	pairOpts := pairOptionsFromConfig(h.deps.Config)

	go func() {
		pairs := pairmine.Mine(req.PerEpic, pairOpts)
		h.deps.Tasks.Complete(task.ID, pairs, nil)
	}()

	respondCreated(w, task.ID)
}
