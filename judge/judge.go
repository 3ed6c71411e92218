// Package judge implements the Judge Panel: K diverse LLM judges
// independently score a story pack against the fixed rubric, and the panel
// reports the per-judge outputs plus the inter-judge congruence level.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/llmclient"
	"github.com/epicforge/promptopt/rubric"
	"github.com/epicforge/promptopt/storypack"
)

// Output is one judge's verdict: a per-criterion score/rationale plus the
// weight-normalized overall score.
type Output struct {
	JudgeID      string
	PerCriterion map[rubric.Criterion]CriterionScore
	Formality    rubric.FormalityLevel
	OverallScore float64
	LatencyMs    int64
	Timestamp    time.Time
}

// CriterionScore is one rubric axis's score and rationale.
type CriterionScore struct {
	Score     float64
	Rationale string
}

// PanelResult is the panel's aggregate output: surviving judge outputs and
// the derived congruence level.
type PanelResult struct {
	Outputs    []Output
	Congruence rubric.CongruenceLevel
	Failures   int
}

// Judge is a single panel member: a temperature and a transport to call.
type Judge struct {
	ID          string
	Transport   llmclient.Transport
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Panel runs the configured judges in parallel, one goroutine per judge, so
// it issues at most len(Judges) concurrent calls; it applies no further
// concurrency bound of its own.
type Panel struct {
	Judges []Judge
}

// DefaultTemperatures mirrors example diversity knobs.
var DefaultTemperatures = []float64{0.3, 0.5, 0.7}

// NewPanel builds a K-judge panel against one transport/model, sampling
// temperatures from DefaultTemperatures (cycling if K exceeds the list).
func NewPanel(transport llmclient.Transport, model string, k int, timeout time.Duration) *Panel {
	if k <= 0 {
		k = 3
	}
	judges := make([]Judge, 0, k)
	for i := 0; i < k; i++ {
		judges = append(judges, Judge{
			ID:          fmt.Sprintf("judge-%d", i),
			Transport:   transport,
			Model:       model,
			Temperature: DefaultTemperatures[i%len(DefaultTemperatures)],
			Timeout:     timeout,
		})
	}
	return &Panel{Judges: judges}
}

type wireJudgeOutput struct {
	PerCriterion map[string]wireCriterionScore `json:"perCriterion"`
	Formality    string                        `json:"formality"`
}

type wireCriterionScore struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// Run executes every configured judge concurrently against the given epic
// and story pack text, and aggregates survivors into a PanelResult. Per
// , the panel fails with a PanelError (KindPanel) only if every judge
// fails; otherwise it proceeds with survivors, requiring at least 2 for a
// congruence computation to be meaningful.
func (p *Panel) Run(ctx context.Context, pack *storypack.StoryPack, judgePromptText string) (*PanelResult, error) {
	type slot struct {
		out Output
		err error
	}
	slots := make([]slot, len(p.Judges))
	done := make(chan int, len(p.Judges))
	for i, j := range p.Judges {
		go func(i int, j Judge) {
			out, err := runOne(ctx, j, pack, judgePromptText)
			slots[i] = slot{out: out, err: err}
			done <- i
		}(i, j)
	}
	for range p.Judges {
		<-done
	}

	var merr *multierror.Error
	result := &PanelResult{}
	for _, s := range slots {
		if s.err != nil {
			merr = multierror.Append(merr, s.err)
			result.Failures++
			continue
		}
		result.Outputs = append(result.Outputs, s.out)
	}
	if len(result.Outputs) == 0 {
		return nil, errs.New(errs.KindPanel, "judge.Run", merr.ErrorOrNil())
	}
	result.Congruence = congruence(result.Outputs)
	return result, nil
}

func congruence(outputs []Output) rubric.CongruenceLevel {
	if len(outputs) < 2 {
		return rubric.CL0WeakGuess
	}
	maxScore, minScore := outputs[0].OverallScore, outputs[0].OverallScore
	for _, o := range outputs[1:] {
		if o.OverallScore > maxScore {
			maxScore = o.OverallScore
		}
		if o.OverallScore < minScore {
			minScore = o.OverallScore
		}
	}
	return rubric.CongruenceFromDelta(maxScore - minScore)
}

func runOne(ctx context.Context, j Judge, pack *storypack.StoryPack, judgePromptText string) (Output, error) {
	start := time.Now()
	req := llmclient.Request{
		Model:        j.Model,
		Temperature:  j.Temperature,
		JSONResponse: true,
		SchemaName:   "judge_output",
		Messages: []llmclient.Message{
			{Role: llmclient.RoleSystem, Content: judgePromptText},
			{Role: llmclient.RoleUser, Content: renderStoryPackForJudge(pack)},
		},
	}
	resp, err := llmclient.CallWithTimeout(ctx, j.Timeout, j.Transport, req)
	if err != nil {
		return Output{}, err
	}
	var wire wireJudgeOutput
	if err := json.Unmarshal([]byte(resp.Content), &wire); err != nil {
		return Output{}, errs.New(errs.KindValidation, "judge.runOne", fmt.Errorf("parse judge output: %w", err))
	}
	perCriterion := make(map[rubric.Criterion]CriterionScore, len(wire.PerCriterion))
	scores := make(map[rubric.Criterion]float64, len(wire.PerCriterion))
	for k, v := range wire.PerCriterion {
		c := rubric.Criterion(k)
		perCriterion[c] = CriterionScore{Score: v.Score, Rationale: v.Rationale}
		scores[c] = v.Score
	}
	overall := rubric.WeightedMean(scores, rubric.All)
	return Output{
		JudgeID:      j.ID,
		PerCriterion: perCriterion,
		Formality:    formalityFromString(wire.Formality),
		OverallScore: overall,
		LatencyMs:    time.Since(start).Milliseconds(),
		Timestamp:    start,
	}, nil
}

func formalityFromString(s string) rubric.FormalityLevel {
	switch s {
	case "F3", "F3ProofGrade", "proof_grade":
		return rubric.F3ProofGrade
	case "F2", "F2Formalizable", "formalizable":
		return rubric.F2Formalizable
	case "F1", "F1Structured", "structured":
		return rubric.F1Structured
	default:
		return rubric.F0Informal
	}
}

func renderStoryPackForJudge(pack *storypack.StoryPack) string {
	if pack == nil {
		return "{}"
	}
	b, err := json.Marshal(pack)
	if err != nil {
		return pack.ExtractText()
	}
	return string(b)
}
