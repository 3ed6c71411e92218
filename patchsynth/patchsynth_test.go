package patchsynth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/llmclient"
	"github.com/epicforge/promptopt/pairmine"
)

func TestSynthesizeParsesCandidatesAndDiscardsMalformed(t *testing.T) {
	fx := llmclient.NewFixtureTransport()
	fx.Replies["default"] = []llmclient.Response{{Content: `{
		"candidates": [
			{"patch": "Always include at least one negative acceptance criterion.", "rationale": "improves testability", "targetedIssue": "missing negative cases"},
			{"patch": "", "rationale": "empty patch should be discarded", "targetedIssue": "n/a"},
			{"patch": "Require Given/When/Then phrasing.", "rationale": "formality", "targetedIssue": "gwt_format"}
		]
	}`}}
	synth := NewSynthesizer(fx, "gpt-test", time.Second, 10)
	pairs := []pairmine.ContrastPair{
		{EpicID: "e1", Good: distro.ScoredRun{Score: 0.9}, Bad: distro.ScoredRun{Score: 0.4}, Similarity: 0.9, Tier: pairmine.TierHigh},
	}

	candidates, err := synth.Synthesize(context.Background(), "base prompt", "", pairs, 3)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "missing negative cases", candidates[0].TargetedIssue)
	assert.Equal(t, "gwt_format", candidates[1].TargetedIssue)
}

func TestSynthesizeTruncatesToCount(t *testing.T) {
	fx := llmclient.NewFixtureTransport()
	fx.Replies["default"] = []llmclient.Response{{Content: `{
		"candidates": [
			{"patch": "a", "rationale": "r", "targetedIssue": "x"},
			{"patch": "b", "rationale": "r", "targetedIssue": "y"},
			{"patch": "c", "rationale": "r", "targetedIssue": "z"}
		]
	}`}}
	synth := NewSynthesizer(fx, "gpt-test", time.Second, 10)
	candidates, err := synth.Synthesize(context.Background(), "base", "", nil, 1)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestSynthesizeWrapsMalformedJSONAsValidationError(t *testing.T) {
	fx := llmclient.NewFixtureTransport()
	fx.Replies["default"] = []llmclient.Response{{Content: "not json"}}
	synth := NewSynthesizer(fx, "gpt-test", time.Second, 10)
	_, err := synth.Synthesize(context.Background(), "base", "", nil, 2)
	require.Error(t, err)
}

func TestComposedPromptSeparatorConvention(t *testing.T) {
	assert.Equal(t, "base", ComposedPrompt("base", ""))
	assert.Equal(t, "base\npatch", ComposedPrompt("base", "patch"))
}

func TestValidateSectionsStableIgnoresHeadinglessBase(t *testing.T) {
	assert.NoError(t, ValidateSectionsStable("plain base prompt with no headings", "Always include one negative case."))
}

func TestValidateSectionsStableIgnoresHeadinglessPatch(t *testing.T) {
	base := "## role\nYou decompose epics.\n## output\nReturn JSON."
	assert.NoError(t, ValidateSectionsStable(base, "Always include one negative case."))
}

func TestValidateSectionsStableRejectsDroppedSection(t *testing.T) {
	base := "## role\nYou decompose epics.\n## output\nReturn JSON."
	rewritten := "## role\nYou decompose epics differently now."
	err := ValidateSectionsStable(base, rewritten)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output")
}

func TestValidateSectionsStablePassesWhenAllSectionsPreserved(t *testing.T) {
	base := "## role\nYou decompose epics.\n## output\nReturn JSON."
	rewritten := "## role\nYou decompose epics, carefully.\n## output\nReturn JSON, strictly."
	assert.NoError(t, ValidateSectionsStable(base, rewritten))
}

func TestSynthesizeDiscardsCandidateThatDropsBaseSection(t *testing.T) {
	fx := llmclient.NewFixtureTransport()
	fx.Replies["default"] = []llmclient.Response{{Content: `{
		"candidates": [
			{"patch": "## role\nRewritten role only, output section gone.", "rationale": "bad rewrite", "targetedIssue": "x"},
			{"patch": "Always include one negative case.", "rationale": "good addition", "targetedIssue": "y"}
		]
	}`}}
	synth := NewSynthesizer(fx, "gpt-test", time.Second, 10)
	base := "## role\nYou decompose epics.\n## output\nReturn JSON."
	candidates, err := synth.Synthesize(context.Background(), base, "", nil, 2)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "y", candidates[0].TargetedIssue)
}
