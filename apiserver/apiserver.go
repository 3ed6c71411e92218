// Package apiserver exposes the task polling API: POST /optimize starts
// the full loop, GET /optimize/{taskId} polls it, and the four ad hoc
// per-step endpoints (/evaluate, /mine-pairs, /generate-patches,
// /tournament) run a single component in isolation. Every endpoint returns
// a taskId immediately and does the work in the background against the
// shared taskstore.Store, mirroring the router/handler split of
// longregen-alicia's chi-based API server (api/server/server.go and
// api/server/handlers/*.go), adapted from net/http+slog to this module's
// zap logger.
package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/epicforge/promptopt/champion"
	"github.com/epicforge/promptopt/config"
	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/orchestrator"
	"github.com/epicforge/promptopt/patchsynth"
	"github.com/epicforge/promptopt/taskstore"
	"github.com/epicforge/promptopt/telemetry"
)

// Dependencies are the collaborators every handler needs. Nil Telemetry is
// valid: GET /telemetry then reports an empty snapshot.
type Dependencies struct {
	Config    config.Config
	Tasks     *taskstore.Store
	Champion  *champion.Store
	Gen       distro.Generator
	Judger    distro.Judger
	Synth     *patchsynth.Synthesizer
	Telemetry *telemetry.Sink
	Logger    *zap.Logger
}

// NewRouter builds the chi.Mux exposing the task polling API, following
// the same router-construction shape (NewServer in
// longregen-alicia/api/server/server.go): middleware first, then routes
// grouped by resource.
func NewRouter(deps *Dependencies) *chi.Mux {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(recoverMiddleware(deps.Logger))
	r.Use(loggingMiddleware(deps.Logger))

	r.Get("/healthz", h.health)
	r.Get("/telemetry", h.getTelemetry)

	r.Post("/optimize", h.createOptimize)
	r.Get("/optimize/{taskId}", h.getTask)

	r.Post("/evaluate", h.createEvaluate)
	r.Get("/evaluate/{taskId}", h.getTask)

	r.Post("/mine-pairs", h.createMinePairs)
	r.Get("/mine-pairs/{taskId}", h.getTask)

	r.Post("/generate-patches", h.createGeneratePatches)
	r.Get("/generate-patches/{taskId}", h.getTask)

	r.Post("/tournament", h.createTournament)
	r.Get("/tournament/{taskId}", h.getTask)

	return r
}

type handlers struct {
	deps *Dependencies
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// taskView is the JSON wire shape for a taskstore.Task: Err is flattened to a categorized string message since
// the error interface does not round-trip through encoding/json on its own.
type taskView struct {
	TaskID      string             `json:"taskId"`
	Status      taskstore.Status   `json:"status"`
	Progress    taskstore.Progress `json:"progress"`
	Result      any                `json:"result,omitempty"`
	Error       *errorView         `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"startedAt"`
	CompletedAt *time.Time         `json:"completedAt,omitempty"`
}

// errorView is the category + message the front-end surfaces.
type errorView struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func newTaskView(t taskstore.Task) taskView {
	view := taskView{
		TaskID:    t.ID,
		Status:    t.Status,
		Progress:  t.Progress,
		Result:    t.Result,
		CreatedAt: t.CreatedAt,
	}
	if !t.TerminalAt.IsZero() {
		completed := t.TerminalAt
		view.CompletedAt = &completed
	}
	if t.Err != nil {
		kind, ok := errs.KindOf(t.Err)
		if !ok {
			kind = errs.KindFatal
		}
		view.Error = &errorView{Kind: string(kind), Message: t.Err.Error()}
	}
	return view
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, ok := h.deps.Tasks.Get(taskID)
	if !ok {
		respondError(w, "task not found", http.StatusNotFound)
		return
	}
	respondJSON(w, newTaskView(task), http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

func respondCreated(w http.ResponseWriter, taskID string) {
	respondJSON(w, map[string]string{"taskId": taskID}, http.StatusAccepted)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func progressFromOrchestrator(ev orchestrator.ProgressEvent) taskstore.Progress {
	return taskstore.Progress{Step: ev.Step, Detail: ev.Detail, Completed: ev.Completed, Total: ev.Total}
}
