package apiserver

import (
	"context"
	"net/http"

	"github.com/epicforge/promptopt/pairmine"
)

// generatePatchesRequest runs one ad hoc Patch Synthesizer pass
// against a caller-supplied contrastive pair bundle.
type generatePatchesRequest struct {
	BasePrompt   string                  `json:"basePrompt"`
	CurrentPatch string                  `json:"currentPatch"`
	Pairs        []pairmine.ContrastPair `json:"pairs"`
	Count        int                     `json:"count"`
}

func (h *handlers) createGeneratePatches(w http.ResponseWriter, r *http.Request) {
	var req generatePatchesRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BasePrompt == "" {
		respondError(w, "basePrompt is required", http.StatusBadRequest)
		return
	}
	if req.Count <= 0 {
		req.Count = 4
	}

	task := h.deps.Tasks.Create(req)

	go func() {
		candidates, err := h.deps.Synth.Synthesize(context.Background(), req.BasePrompt, req.CurrentPatch, req.Pairs, req.Count)
		if err != nil {
			h.deps.Tasks.Complete(task.ID, nil, err)
			return
		}
		h.deps.Tasks.Complete(task.ID, candidates, nil)
	}()

	respondCreated(w, task.ID)
}
