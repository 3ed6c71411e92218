package apiserver

import (
	"context"
	"net/http"

	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/storypack"
)

// evaluateRequest runs one ad hoc Distributional Evaluator pass
// against a caller-supplied prompt text, outside the full loop.
type evaluateRequest struct {
	PromptText string           `json:"promptText"`
	Epics      []storypack.Epic `json:"epics"`
}

func (h *handlers) createEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PromptText == "" || len(req.Epics) == 0 {
		respondError(w, "promptText and epics are required", http.StatusBadRequest)
		return
	}

	task := h.deps.Tasks.Create(req)
	evalOpts := evalOptionsFromConfig(h.deps.Config)

	go func() {
		report, err := distro.Evaluate(context.Background(), h.deps.Gen, h.deps.Judger, req.PromptText, req.Epics, evalOpts)
		if err != nil {
			h.deps.Tasks.Complete(task.ID, nil, err)
			return
		}
		h.deps.Tasks.Complete(task.ID, report, nil)
	}()

	respondCreated(w, task.ID)
}
