package storypack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokensDropsStopWordsAndShortTokens(t *testing.T) {
	got := Tokens("The Quick fox and a cat run to it")
	assert.Equal(t, []string{"quick", "fox", "cat", "run"}, got)
}

func TestGenerateResultValid(t *testing.T) {
	r := &GenerateResult{StoryPack: &StoryPack{EpicID: "e1"}}
	assert.True(t, r.Valid())

	r2 := &GenerateResult{Error: assert.AnError}
	assert.False(t, r2.Valid())

	var r3 *GenerateResult
	assert.False(t, r3.Valid())
}

func TestExtractTextExcludesExternalFieldsAndCommentary(t *testing.T) {
	p := &StoryPack{
		Assumptions: []string{"should not appear"},
		Risks:       []string{"should not appear"},
		UserStories: []UserStory{
			{
				Title:              "Checkout flow",
				Role:               "shopper",
				Want:               "to pay with a saved card",
				Benefit:            "checkout is faster",
				AcceptanceCriteria: []string{"Given a saved card, when I checkout, then it is prefilled"},
				ExternalFields:     map[string]string{"jira_id": "should not appear"},
			},
		},
	}
	text := p.ExtractText()
	assert.Contains(t, text, "Checkout flow")
	assert.Contains(t, text, "prefilled")
	assert.NotContains(t, text, "jira_id")
	assert.NotContains(t, text, "should not appear")
}
