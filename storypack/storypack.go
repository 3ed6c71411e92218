// Package storypack defines the data model shared by every component of the
// optimization engine: the immutable Epic input, the StoryPack the
// generator LLM is asked to produce, and the envelope (GenerateResult) that
// carries either a parsed pack or a recorded failure.
package storypack

import "strings"

// Epic is a coarse-grained business requirement, the input to decomposition.
// It is immutable once constructed.
type Epic struct {
	ID          string
	Title       string
	Description string
	Tags        []string
}

// UserStory is one story within a StoryPack.
type UserStory struct {
	Title              string
	Role               string
	Want               string
	Benefit            string
	AcceptanceCriteria []string
	ExternalFields     map[string]string
}

// StoryPack is the structured output the generator LLM is asked to produce
// for a given Epic. If EpicID is set it must equal the requesting epic's ID;
// UserStories order reflects the generator's raw output order.
type StoryPack struct {
	EpicID      string
	EpicTitle   string
	UserStories []UserStory
	Assumptions []string
	Risks       []string
	FollowUps   []string
}

// GenerateResult is the outcome of one generator call. StoryPack is nil iff
// Error is non-nil (the Generator Client's invariant).
type GenerateResult struct {
	Seed       int64
	StoryPack  *StoryPack
	RawText    string
	TokensUsed *int
	Error      error
}

// Valid reports whether this result carries a usable story pack.
func (r *GenerateResult) Valid() bool {
	return r != nil && r.Error == nil && r.StoryPack != nil
}

// ExtractText concatenates story titles, narratives, and acceptance
// criteria for similarity hashing. External fields and ancillary
// commentary (assumptions/risks/follow-ups) are deliberately excluded: they
// are not part of the generator's structural story content.
func (p *StoryPack) ExtractText() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for _, s := range p.UserStories {
		b.WriteString(s.Title)
		b.WriteByte('\n')
		b.WriteString(s.Role)
		b.WriteByte(' ')
		b.WriteString(s.Want)
		b.WriteByte(' ')
		b.WriteString(s.Benefit)
		b.WriteByte('\n')
		for _, ac := range s.AcceptanceCriteria {
			b.WriteString(ac)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Tokens splits s into lowercased tokens, dropping stop words and tokens of
// length <= 2, matching the keyword-coverage scorer's tokenization.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "day": true,
	"get": true, "has": true, "him": true, "his": true, "how": true,
	"man": true, "new": true, "now": true, "old": true, "see": true,
	"two": true, "way": true, "who": true, "boy": true, "did": true,
	"its": true, "let": true, "put": true, "say": true, "she": true,
	"too": true, "use": true, "with": true, "that": true, "this": true,
	"from": true, "they": true, "have": true, "will": true, "what": true,
	"when": true, "make": true, "like": true, "into": true, "than": true,
	"then": true, "them": true, "these": true, "some": true, "such": true,
	"being": true, "which": true, "their": true, "about": true, "there": true,
	"should": true, "shall": true, "would": true, "could": true,
}
