// Package rubric defines the fixed set of scoring Criterion values shared by
// the Heuristic Scorer, Judge Panel, and Assurance Aggregator, along with
// the ordinal CongruenceLevel and FormalityLevel types. Keeping these as
// typed variants rather than plain numbers makes averaging an ordinal
// unrepresentable at the type level.
package rubric

// Criterion is one axis of the fixed INVEST + quality rubric.
type Criterion string

// The fixed set of criteria. Weights sum to 1.
const (
	Independent  Criterion = "independent"
	Negotiable   Criterion = "negotiable"
	Valuable     Criterion = "valuable"
	Estimable    Criterion = "estimable"
	Small        Criterion = "small"
	Testable     Criterion = "testable"
	GWTFormat    Criterion = "gwt_format"
	SchemaValid  Criterion = "schema_valid"
	Correctness  Criterion = "correctness"
	Completeness Criterion = "completeness"
	Safety       Criterion = "safety"
)

// Weights assigns each Criterion its fixed rational weight. The set sums to
// 1 (verified by rubric_test.go).
var Weights = map[Criterion]float64{
	Independent:  0.08,
	Negotiable:   0.06,
	Valuable:     0.12,
	Estimable:    0.08,
	Small:        0.08,
	Testable:     0.14,
	GWTFormat:    0.08,
	SchemaValid:  0.12,
	Correctness:  0.12,
	Completeness: 0.08,
	Safety:       0.04,
}

// All lists every recognized criterion in a stable order.
var All = []Criterion{
	Independent, Negotiable, Valuable, Estimable, Small,
	Testable, GWTFormat, SchemaValid, Correctness, Completeness, Safety,
}

// InvestCriteria lists the subset of All that form the INVEST composite used
// by the Heuristic Scorer's investComposite sub-score.
var InvestCriteria = []Criterion{Independent, Negotiable, Valuable, Estimable, Small, Testable}

// WeightedMean computes the weight-normalized sum of the supplied
// per-criterion scores over the given criteria, matching how JudgeOutput's
// overallScore and the heuristic investComposite are both defined.
func WeightedMean(scores map[Criterion]float64, over []Criterion) float64 {
	var sumW, sumWS float64
	for _, c := range over {
		w, ok := Weights[c]
		if !ok {
			continue
		}
		s, ok := scores[c]
		if !ok {
			continue
		}
		sumW += w
		sumWS += w * s
	}
	if sumW == 0 {
		return 0
	}
	return sumWS / sumW
}

// CongruenceLevel is an ordinal measure of inter-judge agreement. It is
// never averaged — only compared, mapped to a penalty via Phi, and reported.
type CongruenceLevel int

// Congruence levels, weakest to strongest agreement.
const (
	CL0WeakGuess CongruenceLevel = iota
	CL1Plausible
	CL2Validated
	CL3Verified
)

// String renders a human-readable label.
func (l CongruenceLevel) String() string {
	switch l {
	case CL0WeakGuess:
		return "CL0:WeakGuess"
	case CL1Plausible:
		return "CL1:Plausible"
	case CL2Validated:
		return "CL2:Validated"
	case CL3Verified:
		return "CL3:Verified"
	default:
		return "CL:Unknown"
	}
}

// CongruenceFromDelta maps the max pairwise delta of judges' overall scores
// to a CongruenceLevel using the fixed thresholds {0.10, 0.25, 0.40}.
// Smaller deltas (tighter agreement) map to higher congruence.
func CongruenceFromDelta(delta float64) CongruenceLevel {
	switch {
	case delta < 0.10:
		return CL3Verified
	case delta < 0.25:
		return CL2Validated
	case delta < 0.40:
		return CL1Plausible
	default:
		return CL0WeakGuess
	}
}

// FormalityLevel is an ordinal measure of structural rigor. Never averaged
// — only minimum'd across judges.
type FormalityLevel int

// Formality levels, low to high rigor.
const (
	F0Informal FormalityLevel = iota
	F1Structured
	F2Formalizable
	F3ProofGrade
)

// String renders a human-readable label.
func (f FormalityLevel) String() string {
	switch f {
	case F0Informal:
		return "F0:Informal"
	case F1Structured:
		return "F1:Structured"
	case F2Formalizable:
		return "F2:Formalizable"
	case F3ProofGrade:
		return "F3:ProofGrade"
	default:
		return "F:Unknown"
	}
}

// MinFormality returns the ordinal minimum of the supplied levels. Empty
// input returns F0Informal as a conservative default.
func MinFormality(levels []FormalityLevel) FormalityLevel {
	if len(levels) == 0 {
		return F0Informal
	}
	min := levels[0]
	for _, l := range levels[1:] {
		if l < min {
			min = l
		}
	}
	return min
}
