package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicforge/promptopt/champion"
	"github.com/epicforge/promptopt/config"
	"github.com/epicforge/promptopt/llmclient"
	"github.com/epicforge/promptopt/patchsynth"
	"github.com/epicforge/promptopt/storypack"
	"github.com/epicforge/promptopt/taskstore"
	"github.com/epicforge/promptopt/telemetry"
)

type fakeGenerator struct{}

func (fakeGenerator) Generate(_ context.Context, epic storypack.Epic, _ string, seed int64, _ int) *storypack.GenerateResult {
	return &storypack.GenerateResult{
		Seed: seed,
		StoryPack: &storypack.StoryPack{
			EpicID:    epic.ID,
			EpicTitle: epic.Title,
			UserStories: []storypack.UserStory{
				{Title: "Story", Role: "user", Want: "do a thing", Benefit: "value", AcceptanceCriteria: []string{"a", "b"}},
			},
		},
	}
}

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	dir := t.TempDir()
	champ := champion.NewStore(dir+"/champion.json", "base prompt", "", nil)

	fx := llmclient.NewFixtureTransport()
	fx.KeyFunc = func(req llmclient.Request) string { return "synth" }
	fx.Replies["synth"] = []llmclient.Response{
		{Content: `{"candidates":[{"patch":"Be more specific.","rationale":"r","targetedIssue":"clarity"}]}`},
	}
	synth := patchsynth.NewSynthesizer(fx, "test-model", 0, 10)

	cfg := config.Default()
	cfg.LLM.BaseURL = "http://localhost:1"
	cfg.LLM.APIKey = "test-key"
	cfg.Eval.Replicates = 1

	return &Dependencies{
		Config:   cfg,
		Tasks:    taskstore.NewStore(time.Hour, nil),
		Champion: champ,
		Gen:      fakeGenerator{},
		Judger:   nil,
		Synth:    synth,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst))
}

func pollUntilTerminal(t *testing.T, router http.Handler, path string) taskView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var view taskView
		decodeBody(t, rec, &view)
		if view.Status == taskstore.StatusCompleted || view.Status == taskstore.StatusFailed {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for task to reach a terminal state")
	return taskView{}
}

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(testDeps(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptimizeCreateAndPoll(t *testing.T) {
	router := NewRouter(testDeps(t))

	body := `{"epics":[{"ID":"e1","Title":"checkout","Description":"let users pay"}],"maxIterations":1,"candidateCount":1}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/optimize", strings.NewReader(body))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created map[string]string
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created["taskId"])

	view := pollUntilTerminal(t, router, "/optimize/"+created["taskId"])
	assert.Equal(t, taskstore.StatusCompleted, view.Status)
}

func TestGetTaskNotFound(t *testing.T) {
	router := NewRouter(testDeps(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/optimize/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelemetryEndpointReportsEmptySnapshotWhenDisabled(t *testing.T) {
	deps := testDeps(t)
	deps.Telemetry = nil
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var view telemetrySnapshotView
	decodeBody(t, rec, &view)
	assert.Empty(t, view.Histograms)
}

func TestTelemetryEndpointReportsRecordedCalls(t *testing.T) {
	deps := testDeps(t)
	deps.Telemetry = telemetry.NewSink(0)
	deps.Telemetry.RecordCall(context.Background(), "llm:generate", 42, "preview")
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telemetry", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var view telemetrySnapshotView
	decodeBody(t, rec, &view)
	require.Len(t, view.Histograms, 1)
	assert.Equal(t, "llm:generate", view.Histograms[0].CallKey)
	assert.Equal(t, "preview", view.Previews["llm:generate"])
}

func TestEvaluateRejectsEmptyBody(t *testing.T) {
	router := NewRouter(testDeps(t))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/evaluate", strings.NewReader(`{"promptText":"","epics":[]}`))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
