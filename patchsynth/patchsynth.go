// Package patchsynth implements the Patch Synthesizer: an
// LLM-driven generator of candidate prompt patches, conditioned on a bundle
// of contrastive pairs, that would push future generations from the "bad"
// outcome toward the "good" one.
package patchsynth

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/llmclient"
	"github.com/epicforge/promptopt/pairmine"
)

// PatchCandidate is a synthesized candidate prompt patch.
type PatchCandidate struct {
	ID            string
	Patch         string
	Rationale     string
	TargetedIssue string
}

// Synthesizer composes the context bundle and asks the LLM for N distinct
// patch candidates.
type Synthesizer struct {
	Transport llmclient.Transport
	Model     string
	Timeout   time.Duration
	MaxPairs  int
}

// NewSynthesizer builds a Synthesizer bound to the given transport/model.
// MaxPairs bounds how many pairs are formatted into the prompt bundle
// (default 10) to keep the request from growing unbounded.
func NewSynthesizer(t llmclient.Transport, model string, timeout time.Duration, maxPairs int) *Synthesizer {
	if maxPairs <= 0 {
		maxPairs = 10
	}
	return &Synthesizer{Transport: t, Model: model, Timeout: timeout, MaxPairs: maxPairs}
}

type wirePatchCandidate struct {
	Patch         string `json:"patch"`
	Rationale     string `json:"rationale"`
	TargetedIssue string `json:"targetedIssue"`
}

type wireCandidateSet struct {
	Candidates []wirePatchCandidate `json:"candidates"`
}

// Synthesize asks the LLM for up to count distinct patch candidates that
// would convert the bad outcomes in pairs toward the good ones. Malformed
// candidates are discarded rather than aborting the whole call; the
// returned sequence has length in [0, count].
func (s *Synthesizer) Synthesize(ctx context.Context, basePrompt, currentPatch string, pairs []pairmine.ContrastPair, count int) ([]PatchCandidate, error) {
	bundle := buildPairBundle(pairs, s.MaxPairs)
	req := llmclient.Request{
		Model:        s.Model,
		Temperature:  0.8,
		JSONResponse: true,
		SchemaName:   "patch_candidates",
		Messages: []llmclient.Message{
			{Role: llmclient.RoleSystem, Content: synthesizerSystemPrompt(count)},
			{Role: llmclient.RoleUser, Content: synthesizerUserPrompt(basePrompt, currentPatch, bundle)},
		},
	}
	resp, err := llmclient.CallWithTimeout(ctx, s.Timeout, s.Transport, req)
	if err != nil {
		return nil, err
	}

	var wire wireCandidateSet
	if err := json.Unmarshal([]byte(resp.Content), &wire); err != nil {
		return nil, errs.New(errs.KindValidation, "patchsynth.Synthesize", fmt.Errorf("parse candidate set: %w", err))
	}

	out := make([]PatchCandidate, 0, count)
	for i, c := range wire.Candidates {
		if i >= count {
			break
		}
		if strings.TrimSpace(c.Patch) == "" || strings.TrimSpace(c.TargetedIssue) == "" {
			continue
		}
		if err := ValidateSectionsStable(basePrompt, c.Patch); err != nil {
			continue
		}
		out = append(out, PatchCandidate{
			ID:            fmt.Sprintf("patch-%d", i),
			Patch:         c.Patch,
			Rationale:     c.Rationale,
			TargetedIssue: c.TargetedIssue,
		})
	}
	return out, nil
}

func synthesizerSystemPrompt(count int) string {
	return fmt.Sprintf(
		"You improve a prompt used to decompose business epics into user stories. "+
			"Given contrastive pairs of good and bad outputs on the same epic, propose %d distinct "+
			"textual rules that, if appended to the prompt, would push future generations toward the "+
			"good outcome. Respond with JSON: {\"candidates\": [{\"patch\": string, \"rationale\": string, "+
			"\"targetedIssue\": string}]}.", count)
}

func synthesizerUserPrompt(basePrompt, currentPatch string, bundle string) string {
	var b strings.Builder
	b.WriteString("BASE PROMPT:\n")
	b.WriteString(basePrompt)
	b.WriteString("\n\nCURRENT PATCH:\n")
	b.WriteString(currentPatch)
	b.WriteString("\n\nCONTRASTIVE PAIRS:\n")
	b.WriteString(bundle)
	return b.String()
}

type pairBlob struct {
	EpicID        string   `json:"epicId"`
	GoodScore     float64  `json:"goodScore"`
	BadScore      float64  `json:"badScore"`
	Similarity    float64  `json:"similarity"`
	Tier          string   `json:"tier"`
	ErrorAnalysis []string `json:"errorAnalysis"`
}

func buildPairBundle(pairs []pairmine.ContrastPair, maxPairs int) string {
	if maxPairs > 0 && len(pairs) > maxPairs {
		pairs = pairs[:maxPairs]
	}
	blobs := make([]pairBlob, 0, len(pairs))
	for _, p := range pairs {
		blobs = append(blobs, pairBlob{
			EpicID:        p.EpicID,
			GoodScore:     p.Good.Score,
			BadScore:      p.Bad.Score,
			Similarity:    p.Similarity,
			Tier:          string(p.Tier),
			ErrorAnalysis: p.ErrorAnalysis,
		})
	}
	b, err := json.Marshal(blobs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// ComposedPrompt is "effective prompt": textual concatenation of base
// and patch with a single newline separator (a blank patch yields the base
// unchanged). The separator is resolved here once and used by every caller
// (tournament re-evaluation, champion persistence).
func ComposedPrompt(base, patch string) string {
	if strings.TrimSpace(patch) == "" {
		return base
	}
	return base + "\n" + patch
}

var sectionHeadingPattern = regexp.MustCompile(`(?m)^##\s+([a-z0-9_]+)\s*$`)

// sectionIDs returns the ordered "## section_id" heading ids found in text.
// A prompt with no such headings (the common case for a free-form base
// prompt) yields an empty slice.
func sectionIDs(text string) []string {
	matches := sectionHeadingPattern.FindAllStringSubmatch(text, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// ValidateSectionsStable guards against a synthesized patch silently
// replacing the base prompt's structural sections instead of augmenting
// them. A base prompt with no "## section_id" headings has nothing to
// validate. A patch with no headings of its own is a pure addition and
// always passes. Only once the patch itself starts asserting section
// headings must every heading present in the base prompt still appear in
// the patch; dropping one is rejected as a structural regression rather
// than an incremental improvement.
func ValidateSectionsStable(base, patch string) error {
	baseSections := sectionIDs(base)
	if len(baseSections) == 0 {
		return nil
	}
	patchSections := sectionIDs(patch)
	if len(patchSections) == 0 {
		return nil
	}
	present := make(map[string]bool, len(patchSections))
	for _, id := range patchSections {
		present[id] = true
	}
	var missing []string
	for _, id := range baseSections {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("patch drops base prompt sections: %v", missing)
	}
	return nil
}
