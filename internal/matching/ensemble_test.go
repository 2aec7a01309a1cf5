package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialworks/venire/internal/types"
)

func TestDetermineWeights(t *testing.T) {
	tests := []struct {
		name          string
		signalCount   int
		richNarrative bool
		check         func(t *testing.T, w MethodWeights)
	}{
		{
			name:        "base weights with moderate evidence",
			signalCount: 4,
			check: func(t *testing.T, w MethodWeights) {
				assert.InDelta(t, 0.35, w.Signal, 1e-9)
				assert.InDelta(t, 0.30, w.Embedding, 1e-9)
				assert.InDelta(t, 0.35, w.Bayesian, 1e-9)
			},
		},
		{
			name:          "rich narrative with many signals favors embedding",
			signalCount:   8,
			richNarrative: true,
			check: func(t *testing.T, w MethodWeights) {
				assert.Greater(t, w.Embedding, w.Signal)
				assert.InDelta(t, 0.40, w.Embedding, 1e-9)
			},
		},
		{
			name:        "sparse evidence favors bayesian",
			signalCount: 1,
			check: func(t *testing.T, w MethodWeights) {
				assert.InDelta(t, 0.45, w.Bayesian, 1e-9)
				assert.InDelta(t, 0.20, w.Embedding, 1e-9)
			},
		},
		{
			name:          "deep signal record without narrative favors signal method",
			signalCount:   12,
			richNarrative: false,
			check: func(t *testing.T, w MethodWeights) {
				assert.Greater(t, w.Signal, 0.35)
				assert.LessOrEqual(t, w.Embedding, 0.30)
			},
		},
		{
			name:          "rich narrative and deep record apply both shifts",
			signalCount:   12,
			richNarrative: true,
			check: func(t *testing.T, w MethodWeights) {
				// +0.10 embedding, -0.05/-0.05, then +0.05 signal, -0.05 bayes
				assert.InDelta(t, 0.35, w.Signal, 1e-9)
				assert.InDelta(t, 0.40, w.Embedding, 1e-9)
				assert.InDelta(t, 0.25, w.Bayesian, 1e-9)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := determineWeights(tt.signalCount, tt.richNarrative)
			assert.InDelta(t, 1.0, w.Signal+w.Embedding+w.Bayesian, 1e-9)
			tt.check(t, w)
		})
	}
}

func matcherFixture() (*fakeStore, *Matcher) {
	store := newFakeStore()
	store.jurors["j1"] = &types.Juror{ID: "j1", CaseID: "c1"}

	for i := 1; i <= 7; i++ {
		id := fmt.Sprintf("p%d", i)
		store.addPersona(id, fmt.Sprintf("Persona %d", i), "archetype description")
		store.addWeight(id, fmt.Sprintf("S%d", i), 0.8, types.DirectionPositive)
	}

	// j1 strongly matches p1
	store.observe("j1", "S1", types.BoolValue(true))

	matcher := NewMatcher(store, &fakeEmbedder{def: []float64{1, 0}}, &fakeGenerator{response: "generated rationale"})
	return store, matcher
}

func personaIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i+1)
	}
	return ids
}

func TestMatchJurorRanksByProbability(t *testing.T) {
	_, matcher := matcherFixture()

	matches, err := matcher.MatchJuror(context.Background(), "j1", personaIDs(7))
	require.NoError(t, err)
	require.Len(t, matches, 7)

	assert.Equal(t, "p1", matches[0].PersonaID)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Probability, matches[i].Probability)
	}

	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Probability, 0.0)
		assert.LessOrEqual(t, m.Probability, 1.0)
		assert.InDelta(t, 1.0, m.Weights.Signal+m.Weights.Embedding+m.Weights.Bayesian, 1e-9)
	}
}

func TestMatchJurorDetailSplit(t *testing.T) {
	_, matcher := matcherFixture()

	matches, err := matcher.MatchJuror(context.Background(), "j1", personaIDs(7))
	require.NoError(t, err)
	require.Len(t, matches, 7)

	for i, m := range matches {
		if i < topExplainedMatches {
			detail, ok := m.Detail.(WithExplanation)
			require.True(t, ok, "match %d should carry an explanation", i)
			assert.NotEmpty(t, detail.Rationale)
		} else {
			detail, ok := m.Detail.(ScoreOnly)
			require.True(t, ok, "match %d should carry the placeholder", i)
			assert.Contains(t, detail.Placeholder, "details available on request")
		}
	}
}

func TestMatchJurorUnknownJurorDegrades(t *testing.T) {
	_, matcher := matcherFixture()

	matches, err := matcher.MatchJuror(context.Background(), "ghost", personaIDs(7))
	require.NoError(t, err)
	assert.Len(t, matches, 7)
}

func TestMatchJurorEmptyCandidates(t *testing.T) {
	_, matcher := matcherFixture()

	matches, err := matcher.MatchJuror(context.Background(), "j1", nil)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestMatchJurorSkipsPersonasOnScorerFailure(t *testing.T) {
	store := newFakeStore()
	store.jurors["j1"] = &types.Juror{ID: "j1"}
	store.addPersona("p1", "A", "desc")
	store.addPersona("p2", "B", "desc")
	store.observe("j1", "S1", types.BoolValue(true))

	// The narrative builder needs the signal catalog; failing it fails the
	// embedding scorer for every persona, which skips them all rather than
	// failing the match pass.
	store.errOn["GetSignals"] = fmt.Errorf("catalog unavailable")

	matcher := NewMatcher(store, &fakeEmbedder{def: []float64{1}}, nil)

	matches, err := matcher.MatchJuror(context.Background(), "j1", []string{"p1", "p2"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestNearestRival(t *testing.T) {
	matches := []EnsembleMatch{{PersonaID: "a"}, {PersonaID: "b"}, {PersonaID: "c"}}

	assert.Equal(t, 1, nearestRival(matches, 0))
	assert.Equal(t, 0, nearestRival(matches, 1))
	assert.Equal(t, 0, nearestRival(matches, 2))
	assert.Equal(t, -1, nearestRival(matches[:1], 0))
}
