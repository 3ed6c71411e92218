package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/epicforge/promptopt/storypack"
)

func TestValidateAcceptsWellFormedPack(t *testing.T) {
	raw := `{
		"epicId": "e1",
		"userStories": [
			{"title": "t", "role": "r", "want": "w", "benefit": "b", "acceptanceCriteria": ["a"]}
		]
	}`
	result := Validate(raw)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Reason)
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	result := Validate("not json")
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "invalid JSON")
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	raw := `{"userStories": [{"title": "t", "role": "r", "want": "w"}]}`
	result := Validate(raw)
	assert.False(t, result.Valid)
}

func TestValidateRejectsMissingUserStoriesKey(t *testing.T) {
	result := Validate(`{"epicId": "e1"}`)
	assert.False(t, result.Valid)
}

func TestValidatePackRoundTrips(t *testing.T) {
	pack := &storypack.StoryPack{
		EpicID: "e1",
		UserStories: []storypack.UserStory{
			{Title: "t", Role: "r", Want: "w", Benefit: "b", AcceptanceCriteria: []string{"a"}},
		},
	}
	result := ValidatePack(pack)
	assert.True(t, result.Valid)
}

func TestValidatePackRejectsNil(t *testing.T) {
	result := ValidatePack(nil)
	assert.False(t, result.Valid)
}
