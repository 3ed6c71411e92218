// Package llmclient implements the Generator Client: the boundary
// that turns (epic, prompt, seed) into a GenerateResult by calling the
// external LLM over an OpenAI-compatible chat-completions transport.
package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/storypack"
)

// Generator produces one structured output from (epic, prompt, seed).
type Generator struct {
	Transport Transport
	Model     string
	Timeout   time.Duration
}

// NewGenerator builds a Generator bound to the given transport and model.
func NewGenerator(t Transport, model string, timeout time.Duration) *Generator {
	return &Generator{Transport: t, Model: model, Timeout: timeout}
}

// storyPackJSONSchema is the JSON Schema advertised to the model via the
// response-format hint, so providers that support structured outputs return
// exactly the StoryPack shape.
var storyPackJSONSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []any{"userStories"},
	"properties": map[string]any{
		"epicId":    map[string]any{"type": "string"},
		"epicTitle": map[string]any{"type": "string"},
		"userStories": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []any{"title", "role", "want", "benefit", "acceptanceCriteria"},
				"properties": map[string]any{
					"title":              map[string]any{"type": "string"},
					"role":               map[string]any{"type": "string"},
					"want":               map[string]any{"type": "string"},
					"benefit":            map[string]any{"type": "string"},
					"acceptanceCriteria": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"externalFields":     map[string]any{"type": "object"},
				},
			},
		},
		"assumptions": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"risks":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"followUps":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

// wireStoryPack mirrors storyPackJSONSchema's camelCase wire shape.
type wireStoryPack struct {
	EpicID      string          `json:"epicId"`
	EpicTitle   string          `json:"epicTitle"`
	UserStories []wireUserStory `json:"userStories"`
	Assumptions []string        `json:"assumptions"`
	Risks       []string        `json:"risks"`
	FollowUps   []string        `json:"followUps"`
}

type wireUserStory struct {
	Title              string            `json:"title"`
	Role               string            `json:"role"`
	Want               string            `json:"want"`
	Benefit            string            `json:"benefit"`
	AcceptanceCriteria []string          `json:"acceptanceCriteria"`
	ExternalFields     map[string]string `json:"externalFields"`
}

// Generate submits a single request to the external LLM, requesting a
// response in the declared StoryPack shape, with decoding temperature and
// seed derived from the caller. Per policy, any error downgrades to
// a GenerateResult carrying the error and preserved raw text; this layer
// never retries.
func (g *Generator) Generate(ctx context.Context, epic storypack.Epic, promptText string, seed int64, maxTokens int) *storypack.GenerateResult {
	result := &storypack.GenerateResult{Seed: seed}
	req := Request{
		Model:        g.Model,
		Temperature:  temperatureForSeed(seed),
		MaxTokens:    maxTokens,
		Seed:         &seed,
		JSONResponse: true,
		SchemaName:   "story_pack",
		JSONSchema:   storyPackJSONSchema,
		Messages: []Message{
			{Role: RoleSystem, Content: promptText},
			{Role: RoleUser, Content: epicUserMessage(epic)},
		},
	}
	resp, err := CallWithTimeout(ctx, g.Timeout, g.Transport, req)
	if err != nil {
		result.Error = err
		return result
	}
	result.RawText = resp.Content
	result.TokensUsed = resp.TokensUsed
	pack, perr := parseStoryPack(resp.Content, epic.ID)
	if perr != nil {
		result.Error = errs.New(errs.KindValidation, "llmclient.Generate", perr)
		return result
	}
	result.StoryPack = pack
	return result
}

// temperatureForSeed returns a fixed decoding temperature of 0.7 for every
// seed; actual
// sampling diversity across replicates comes from the seed, not from
// randomizing temperature per call (keeps a single prompt's quality
// distribution attributable to the prompt, not to incidental temperature
// drift).
func temperatureForSeed(seed int64) float64 {
	_ = seed
	return 0.7
}

func epicUserMessage(e storypack.Epic) string {
	b, err := json.Marshal(map[string]any{
		"id":          e.ID,
		"title":       e.Title,
		"description": e.Description,
		"tags":        e.Tags,
	})
	if err != nil {
		return fmt.Sprintf("epic %s: %s\n%s", e.ID, e.Title, e.Description)
	}
	return string(b)
}

func parseStoryPack(raw string, requestingEpicID string) (*storypack.StoryPack, error) {
	if raw == "" {
		return nil, errors.New("raw text is empty")
	}
	var wire wireStoryPack
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("parse story pack JSON: %w", err)
	}
	pack := &storypack.StoryPack{
		EpicID:      wire.EpicID,
		EpicTitle:   wire.EpicTitle,
		Assumptions: wire.Assumptions,
		Risks:       wire.Risks,
		FollowUps:   wire.FollowUps,
	}
	if pack.EpicID == "" {
		pack.EpicID = requestingEpicID
	}
	pack.UserStories = make([]storypack.UserStory, 0, len(wire.UserStories))
	for _, s := range wire.UserStories {
		pack.UserStories = append(pack.UserStories, storypack.UserStory{
			Title:              s.Title,
			Role:               s.Role,
			Want:               s.Want,
			Benefit:            s.Benefit,
			AcceptanceCriteria: s.AcceptanceCriteria,
			ExternalFields:     s.ExternalFields,
		})
	}
	return pack, nil
}
