package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/storypack"
)

func TestGenerateParsesWellFormedStoryPack(t *testing.T) {
	fx := NewFixtureTransport()
	fx.Replies["default"] = []Response{
		{Content: `{
			"epicId": "epic-1",
			"epicTitle": "Checkout flow",
			"userStories": [
				{
					"title": "Guest checkout",
					"role": "shopper",
					"want": "check out without an account",
					"benefit": "I can buy quickly",
					"acceptanceCriteria": ["Given a cart, when I checkout, then no login is required"]
				}
			],
			"assumptions": ["payment gateway is already integrated"]
		}`},
	}
	gen := NewGenerator(fx, "gpt-test", time.Second)
	epic := storypack.Epic{ID: "epic-1", Title: "Checkout flow", Description: "Let shoppers buy things"}

	result := gen.Generate(context.Background(), epic, "decompose this epic", 42, 512)

	require.True(t, result.Valid())
	assert.Equal(t, int64(42), result.Seed)
	assert.Equal(t, "epic-1", result.StoryPack.EpicID)
	assert.Len(t, result.StoryPack.UserStories, 1)
	assert.Equal(t, "Guest checkout", result.StoryPack.UserStories[0].Title)
	assert.Len(t, fx.Calls, 1)
	assert.Equal(t, RoleSystem, fx.Calls[0].Messages[0].Role)
}

func TestGenerateDefaultsEpicIDWhenOmitted(t *testing.T) {
	fx := NewFixtureTransport()
	fx.Replies["default"] = []Response{
		{Content: `{"userStories": []}`},
	}
	gen := NewGenerator(fx, "gpt-test", time.Second)
	epic := storypack.Epic{ID: "epic-9", Title: "Empty epic"}

	result := gen.Generate(context.Background(), epic, "prompt", 1, 256)

	require.NoError(t, result.Error)
	assert.Equal(t, "epic-9", result.StoryPack.EpicID)
	assert.Empty(t, result.StoryPack.UserStories)
}

func TestGenerateSurfacesTransportErrorWithoutPanicking(t *testing.T) {
	fx := NewFixtureTransport()
	fx.Errors["default"] = errs.New(errs.KindTransport, "test", assertErr{})
	gen := NewGenerator(fx, "gpt-test", time.Second)

	result := gen.Generate(context.Background(), storypack.Epic{ID: "e"}, "prompt", 1, 256)

	require.Error(t, result.Error)
	assert.False(t, result.Valid())
	assert.Nil(t, result.StoryPack)
}

func TestGenerateWrapsMalformedJSONAsValidationError(t *testing.T) {
	fx := NewFixtureTransport()
	fx.Replies["default"] = []Response{{Content: "not json"}}
	gen := NewGenerator(fx, "gpt-test", time.Second)

	result := gen.Generate(context.Background(), storypack.Epic{ID: "e"}, "prompt", 1, 256)

	require.Error(t, result.Error)
	kind, ok := errs.KindOf(result.Error)
	require.True(t, ok)
	assert.Equal(t, errs.KindValidation, kind)
	assert.Equal(t, "not json", result.RawText)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
