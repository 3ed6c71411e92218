package rubric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, c := range All {
		sum += Weights[c]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestCongruenceFromDeltaThresholds(t *testing.T) {
	assert.Equal(t, CL3Verified, CongruenceFromDelta(0.0))
	assert.Equal(t, CL3Verified, CongruenceFromDelta(0.09))
	assert.Equal(t, CL2Validated, CongruenceFromDelta(0.10))
	assert.Equal(t, CL2Validated, CongruenceFromDelta(0.24))
	assert.Equal(t, CL1Plausible, CongruenceFromDelta(0.25))
	assert.Equal(t, CL1Plausible, CongruenceFromDelta(0.39))
	assert.Equal(t, CL0WeakGuess, CongruenceFromDelta(0.40))
	assert.Equal(t, CL0WeakGuess, CongruenceFromDelta(0.45))
}

func TestMinFormality(t *testing.T) {
	require.Equal(t, F1Structured, MinFormality([]FormalityLevel{F2Formalizable, F1Structured, F3ProofGrade}))
	assert.Equal(t, F0Informal, MinFormality(nil))
}

func TestWeightedMean(t *testing.T) {
	scores := map[Criterion]float64{Independent: 1.0, Negotiable: 0.5, Valuable: 0.0}
	got := WeightedMean(scores, []Criterion{Independent, Negotiable, Valuable})
	// weighted mean over the three weights only, renormalized.
	w := Weights[Independent] + Weights[Negotiable] + Weights[Valuable]
	want := (Weights[Independent]*1.0 + Weights[Negotiable]*0.5 + Weights[Valuable]*0.0) / w
	assert.InDelta(t, want, got, 1e-9)
}
