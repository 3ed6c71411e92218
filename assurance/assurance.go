// Package assurance implements the Assurance Aggregator: the
// weakest-link rule that turns a set of judge outputs and their congruence
// level into a single gated reliability verdict, never averaging the
// ordinal CongruenceLevel or FormalityLevel types.
package assurance

import (
	"fmt"

	"github.com/epicforge/promptopt/rubric"
)

// Gate is the coarse pass/degrade/block decision.
type Gate string

// Recognized gates.
const (
	GatePass    Gate = "pass"
	GateDegrade Gate = "degrade"
	GateBlock   Gate = "block"
	GateAbstain Gate = "abstain"
)

// Status mirrors Gate in the vocabulary the AssuranceTuple uses.
type Status string

// Recognized statuses.
const (
	StatusSatisfied    Status = "satisfied"
	StatusViolated     Status = "violated"
	StatusInconclusive Status = "inconclusive"
)

// Coverage is a set-coverage object rather than a scalar, so that future
// multi-type domains can extend it without changing the aggregator's shape
//. The present domain has a single claim
// type, "user_story".
type Coverage struct {
	CoveredTypes    []string
	CoveragePerType map[string]float64
	TotalCoverage   float64
}

// ImprovementPaths names which levers, if raised, would improve the
// verdict, populated from which component capped R_raw (the "cutset").
type ImprovementPaths struct {
	RaiseF  []string
	RaiseG  []string
	RaiseR  []string
	RaiseCL []string
}

// Tuple bundles a judge panel's result with its assurance gate.
type Tuple struct {
	F                rubric.FormalityLevel
	G                Coverage
	RRaw             float64
	REff             float64
	CL               rubric.CongruenceLevel
	PenaltyPhi       float64
	Gate             Gate
	Status           Status
	ImprovementPaths ImprovementPaths
	Citation         Citation
}

// Citation is an opaque audit record: the raw inputs that produced this
// Tuple, so a later reviewer can recompute it without re-running judges.
type Citation struct {
	JudgeScores    []float64
	JudgeFormality []rubric.FormalityLevel
	CutsetIDs      []string
}

// Phi maps a CongruenceLevel to its penalty. Monotone non-increasing in CL:
// Φ(CL3)=0 ≤ Φ(CL2)=0.05 ≤ Φ(CL1)=0.15 ≤ Φ(CL0)=0.30 — expressed here as
// the decreasing sequence per increasing CL, and validated by
// checkPhiMonotone at init so a typo becomes a fatal startup error rather
// than a silent invariant violation.
func Phi(cl rubric.CongruenceLevel) float64 {
	switch cl {
	case rubric.CL3Verified:
		return 0
	case rubric.CL2Validated:
		return 0.05
	case rubric.CL1Plausible:
		return 0.15
	default:
		return 0.30
	}
}

func init() {
	if err := checkPhiMonotone(); err != nil {
		panic(err)
	}
}

func checkPhiMonotone() error {
	levels := []rubric.CongruenceLevel{rubric.CL0WeakGuess, rubric.CL1Plausible, rubric.CL2Validated, rubric.CL3Verified}
	for i := 1; i < len(levels); i++ {
		if Phi(levels[i]) > Phi(levels[i-1]) {
			return fmt.Errorf("assurance: Phi is not monotone non-increasing in CL: Phi(%s)=%v > Phi(%s)=%v",
				levels[i], Phi(levels[i]), levels[i-1], Phi(levels[i-1]))
		}
	}
	return nil
}

// JudgeInput is the minimal per-judge data the aggregator needs: its
// overall score and formality level.
type JudgeInput struct {
	JudgeID      string
	OverallScore float64
	Formality    rubric.FormalityLevel
}

// Aggregate applies the weakest-link rule over the
// supplied judge inputs and the already-computed congruence level.
func Aggregate(judges []JudgeInput, cl rubric.CongruenceLevel) Tuple {
	scores := make([]float64, len(judges))
	formalities := make([]rubric.FormalityLevel, len(judges))
	for i, j := range judges {
		scores[i] = j.OverallScore
		formalities[i] = j.Formality
	}

	rRaw := minFloat(scores)
	phi := Phi(cl)
	rEff := rRaw - phi
	if rEff < 0 {
		rEff = 0
	}
	fEff := rubric.MinFormality(formalities)

	coverage := Coverage{CoveredTypes: []string{"user_story"}, CoveragePerType: map[string]float64{}}
	if rEff > 0.5 {
		coverage.TotalCoverage = 1
		coverage.CoveragePerType["user_story"] = 1
	} else {
		coverage.TotalCoverage = 0
		coverage.CoveragePerType["user_story"] = 0
	}

	gate, status := gateFor(rEff)
	paths := improvementPaths(rRaw, phi, cl, fEff, gate)

	cutset := cutsetIDs(judges, rRaw)

	return Tuple{
		F:                fEff,
		G:                coverage,
		RRaw:             rRaw,
		REff:             rEff,
		CL:               cl,
		PenaltyPhi:       phi,
		Gate:             gate,
		Status:           status,
		ImprovementPaths: paths,
		Citation: Citation{
			JudgeScores:    scores,
			JudgeFormality: formalities,
			CutsetIDs:      cutset,
		},
	}
}

func minFloat(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func gateFor(rEff float64) (Gate, Status) {
	switch {
	case rEff >= 0.7:
		return GatePass, StatusSatisfied
	case rEff <= 0.3:
		return GateBlock, StatusViolated
	default:
		return GateDegrade, StatusInconclusive
	}
}

// improvementPaths names which levers would most plausibly raise the
// verdict, given which component currently caps it.
func improvementPaths(rRaw, phi float64, cl rubric.CongruenceLevel, fEff rubric.FormalityLevel, gate Gate) ImprovementPaths {
	var p ImprovementPaths
	if gate == GatePass {
		return p
	}
	if cl < rubric.CL3Verified {
		p.RaiseCL = append(p.RaiseCL, "increase inter-judge agreement (tighter rubric, fewer ambiguous criteria)")
	}
	if rRaw < 0.7 {
		p.RaiseR = append(p.RaiseR, "improve the weakest judge's score (the floor, not the average, dominates)")
	}
	if fEff < rubric.F2Formalizable {
		p.RaiseF = append(p.RaiseF, "require more structural rigor in the generated output (explicit Given/When/Then)")
	}
	if phi > 0 {
		p.RaiseG = append(p.RaiseG, "expand claim-type coverage once congruence no longer caps R_eff")
	}
	return p
}

func cutsetIDs(judges []JudgeInput, rRaw float64) []string {
	var ids []string
	for _, j := range judges {
		if j.OverallScore == rRaw {
			ids = append(ids, j.JudgeID)
		}
	}
	return ids
}
