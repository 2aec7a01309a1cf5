package matching

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialworks/venire/internal/types"
)

func TestBayesUniformWithoutEvidence(t *testing.T) {
	store := newFakeStore()
	store.addPersona("p1", "A", "a")
	store.addPersona("p2", "B", "b")
	store.addPersona("p3", "C", "c")

	updater := NewBayesianUpdater(store)
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", []string{"p1", "p2", "p3"}, nil)
	require.NoError(t, err)

	for _, id := range []string{"p1", "p2", "p3"} {
		assert.InDelta(t, 1.0/3.0, posterior.Probabilities[id], 1e-9)
	}
	// Uniform posterior means zero confidence
	assert.InDelta(t, 0, posterior.Confidence, 1e-9)
	assert.InDelta(t, math.Log2(3), posterior.Entropy, 1e-9)
}

func TestBayesShiftsTowardMatchingPersona(t *testing.T) {
	store := newFakeStore()
	store.addPersona("p1", "Skeptic", "")
	store.addPersona("p2", "Believer", "")
	store.addWeight("p1", "S1", 0.9, types.DirectionPositive)
	store.addWeight("p2", "S1", 0.9, types.DirectionNegative)
	store.observe("j1", "S1", types.BoolValue(true))

	updater := NewBayesianUpdater(store)
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", []string{"p1", "p2"}, nil)
	require.NoError(t, err)

	sum := posterior.Probabilities["p1"] + posterior.Probabilities["p2"]
	assert.InDelta(t, 1.0, sum, 1e-9)

	// likelihoods 0.9 vs 0.1 on a uniform prior
	assert.InDelta(t, 0.9, posterior.Probabilities["p1"], 1e-9)
	assert.InDelta(t, 0.1, posterior.Probabilities["p2"], 1e-9)
	assert.Greater(t, posterior.Confidence, 0.4)
}

func TestBayesFalsySignalInvertsLikelihood(t *testing.T) {
	store := newFakeStore()
	store.addPersona("p1", "A", "")
	store.addPersona("p2", "B", "")
	store.addWeight("p1", "S1", 0.8, types.DirectionPositive)
	store.observe("j1", "S1", types.BoolValue(false))

	updater := NewBayesianUpdater(store)
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", []string{"p1", "p2"}, nil)
	require.NoError(t, err)

	// p1 sees likelihood 0.2, p2 is neutral at 0.5
	assert.InDelta(t, 0.2/0.7, posterior.Probabilities["p1"], 1e-9)
	assert.InDelta(t, 0.5/0.7, posterior.Probabilities["p2"], 1e-9)
}

func TestBayesPriorFromPersistedMappings(t *testing.T) {
	store := newFakeStore()
	store.addPersona("p1", "A", "")
	store.addPersona("p2", "B", "")
	store.mappings["j1"] = []types.JurorPersonaMapping{
		{JurorID: "j1", PersonaID: "p1", Confidence: 0.99},
	}

	updater := NewBayesianUpdater(store)
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", []string{"p1", "p2"}, nil)
	require.NoError(t, err)

	// No new evidence: posterior is the renormalized prior, p2 floored
	assert.InDelta(t, 0.99/1.00, posterior.Probabilities["p1"], 1e-9)
	assert.InDelta(t, 0.01/1.00, posterior.Probabilities["p2"], 1e-9)
}

func TestBayesSignalSubsetFilter(t *testing.T) {
	store := newFakeStore()
	store.addPersona("p1", "A", "")
	store.addPersona("p2", "B", "")
	store.addWeight("p1", "S1", 0.9, types.DirectionPositive)
	store.addWeight("p1", "S2", 0.9, types.DirectionNegative)
	store.observe("j1", "S1", types.BoolValue(true))
	store.observe("j1", "S2", types.BoolValue(true))

	updater := NewBayesianUpdater(store)

	// Applying only S1 must ignore the contradicting S2
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", []string{"p1", "p2"}, []string{"S1"})
	require.NoError(t, err)

	assert.Greater(t, posterior.Probabilities["p1"], posterior.Probabilities["p2"])
}

func TestBayesSingleCandidate(t *testing.T) {
	store := newFakeStore()
	store.addPersona("p1", "A", "")

	updater := NewBayesianUpdater(store)
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", []string{"p1"}, nil)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, posterior.Probabilities["p1"], 1e-9)
	assert.InDelta(t, 1.0, posterior.Confidence, 1e-9)
}

func TestBayesEmptyCandidates(t *testing.T) {
	updater := NewBayesianUpdater(newFakeStore())
	posterior, err := updater.UpdateProbabilities(context.Background(), "j1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, posterior.Probabilities)
}

func TestLikelihood(t *testing.T) {
	weights := map[string]types.PersonaSignalWeight{
		"POS": {SignalID: "POS", Weight: 0.8, Direction: types.DirectionPositive},
		"NEG": {SignalID: "NEG", Weight: 0.7, Direction: types.DirectionNegative},
	}

	assert.InDelta(t, 0.8, likelihood(weights, "POS", true), 1e-9)
	assert.InDelta(t, 0.2, likelihood(weights, "POS", false), 1e-9)
	assert.InDelta(t, 0.3, likelihood(weights, "NEG", true), 1e-9)
	assert.InDelta(t, 0.7, likelihood(weights, "NEG", false), 1e-9)
	assert.InDelta(t, 0.5, likelihood(weights, "UNDEFINED", true), 1e-9)
}

func TestEntropyConfidenceMonotonic(t *testing.T) {
	// Sharper distributions must never score lower confidence
	sharp := shannonEntropy(map[string]float64{"a": 0.9, "b": 0.05, "c": 0.05})
	flat := shannonEntropy(map[string]float64{"a": 0.4, "b": 0.3, "c": 0.3})

	assert.Greater(t, entropyConfidence(sharp, 3), entropyConfidence(flat, 3))
	assert.InDelta(t, 0, entropyConfidence(math.Log2(3), 3), 1e-9)
}

func TestNormalizeCollapsedDistribution(t *testing.T) {
	dist := map[string]float64{"a": 0, "b": 0}
	normalize(dist, []string{"a", "b"})
	assert.InDelta(t, 0.5, dist["a"], 1e-9)
	assert.InDelta(t, 0.5, dist["b"], 1e-9)
}
