// Package schema implements the Schema Validator: structural
// validation of a parsed StoryPack against a fixed JSON Schema shape.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/epicforge/promptopt/storypack"
)

// storyPackSchemaDoc is the canonical shape a generated StoryPack must take
// on the wire, independent of the response-format hint sent to the LLM
// (that hint is advisory; providers that ignore it still get validated
// here).
const storyPackSchemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userStories"],
  "properties": {
    "epicId": {"type": "string"},
    "epicTitle": {"type": "string"},
    "userStories": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "role", "want", "benefit", "acceptanceCriteria"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "role": {"type": "string", "minLength": 1},
          "want": {"type": "string", "minLength": 1},
          "benefit": {"type": "string", "minLength": 1},
          "acceptanceCriteria": {
            "type": "array",
            "items": {"type": "string"}
          },
          "externalFields": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    },
    "assumptions": {"type": "array", "items": {"type": "string"}},
    "risks": {"type": "array", "items": {"type": "string"}},
    "followUps": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	compileOnce  sync.Once
	compiled     *jsonschema.Schema
	compileError error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("story_pack.json", strings.NewReader(storyPackSchemaDoc)); err != nil {
			compileError = fmt.Errorf("add schema resource: %w", err)
			return
		}
		s, err := compiler.Compile("story_pack.json")
		if err != nil {
			compileError = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiled = s
	})
	return compiled, compileError
}

// Result is the outcome of validating one generated story pack.
type Result struct {
	Valid  bool
	Reason string
}

// Validate checks rawText parses as JSON and conforms to the StoryPack
// shape. An invalid pack forces schema_valid = 0, and the caller
// (distro.Evaluate) sets the scored pack to nil and records a validation
// error, regardless of what the generator parsed.
func Validate(rawText string) Result {
	s, err := compiledSchema()
	if err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("schema compile error: %v", err)}
	}
	var doc any
	if err := json.Unmarshal([]byte(rawText), &doc); err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := s.Validate(doc); err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}
	return Result{Valid: true}
}

// ValidatePack re-validates an already-parsed StoryPack by round-tripping it
// through JSON, so structural checks (required fields, types) apply
// uniformly whether the caller holds raw text or a decoded struct.
func ValidatePack(pack *storypack.StoryPack) Result {
	if pack == nil {
		return Result{Valid: false, Reason: "story pack is nil"}
	}
	b, err := json.Marshal(wireFromPack(pack))
	if err != nil {
		return Result{Valid: false, Reason: fmt.Sprintf("marshal story pack: %v", err)}
	}
	return Validate(string(b))
}

type wireStoryPack struct {
	EpicID      string          `json:"epicId,omitempty"`
	EpicTitle   string          `json:"epicTitle,omitempty"`
	UserStories []wireUserStory `json:"userStories"`
	Assumptions []string        `json:"assumptions,omitempty"`
	Risks       []string        `json:"risks,omitempty"`
	FollowUps   []string        `json:"followUps,omitempty"`
}

type wireUserStory struct {
	Title              string            `json:"title"`
	Role               string            `json:"role"`
	Want               string            `json:"want"`
	Benefit            string            `json:"benefit"`
	AcceptanceCriteria []string          `json:"acceptanceCriteria"`
	ExternalFields     map[string]string `json:"externalFields,omitempty"`
}

func wireFromPack(p *storypack.StoryPack) wireStoryPack {
	out := wireStoryPack{
		EpicID:      p.EpicID,
		EpicTitle:   p.EpicTitle,
		Assumptions: p.Assumptions,
		Risks:       p.Risks,
		FollowUps:   p.FollowUps,
	}
	out.UserStories = make([]wireUserStory, 0, len(p.UserStories))
	for _, s := range p.UserStories {
		out.UserStories = append(out.UserStories, wireUserStory{
			Title:              s.Title,
			Role:               s.Role,
			Want:               s.Want,
			Benefit:            s.Benefit,
			AcceptanceCriteria: s.AcceptanceCriteria,
			ExternalFields:     s.ExternalFields,
		})
	}
	return out
}
