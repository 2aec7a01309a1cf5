package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialworks/venire/internal/types"
)

func TestAmbiguousPairs(t *testing.T) {
	matches := []EnsembleMatch{
		{PersonaID: "p1", Probability: 0.46},
		{PersonaID: "p2", Probability: 0.45},
		{PersonaID: "p3", Probability: 0.09},
		{PersonaID: "p4", Probability: 0.08},
	}

	pairs := ambiguousPairs(matches)

	// p1/p2 differ by 0.01; p3 is 0.36+ away from both; p4 is outside the
	// top three entirely.
	require.Len(t, pairs, 1)
	assert.Equal(t, "p1", pairs[0].PersonaA)
	assert.Equal(t, "p2", pairs[0].PersonaB)
}

func TestAmbiguousPairsAllClose(t *testing.T) {
	matches := []EnsembleMatch{
		{PersonaID: "p1", Probability: 0.35},
		{PersonaID: "p2", Probability: 0.33},
		{PersonaID: "p3", Probability: 0.32},
	}

	pairs := ambiguousPairs(matches)
	assert.Len(t, pairs, 3)
}

func TestAmbiguousPairsDecisiveLeader(t *testing.T) {
	matches := []EnsembleMatch{
		{PersonaID: "p1", Probability: 0.80},
		{PersonaID: "p2", Probability: 0.15},
		{PersonaID: "p3", Probability: 0.05},
	}

	pairs := ambiguousPairs(matches)

	// Only p2/p3 sit within the ambiguity margin of each other
	require.Len(t, pairs, 1)
	assert.Equal(t, "p2", pairs[0].PersonaA)
	assert.Equal(t, "p3", pairs[0].PersonaB)
}

func TestPairBinaryEntropy(t *testing.T) {
	assert.InDelta(t, 1.0, pairBinaryEntropy(0.45, 0.45), 1e-9)
	assert.InDelta(t, 0.0, pairBinaryEntropy(0.5, 0.0), 1e-9)
	assert.InDelta(t, 0.0, pairBinaryEntropy(0, 0), 1e-9)

	// Entropy shrinks as the pair separates
	assert.Greater(t, pairBinaryEntropy(0.46, 0.45), pairBinaryEntropy(0.6, 0.2))
}

func TestParseGeneratedQuestions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantN   int
		wantErr bool
	}{
		{
			name:  "plain array",
			raw:   `[{"question":"How do you feel about experts?","follow_ups":["Why?"]}]`,
			wantN: 1,
		},
		{
			name:  "fenced array with prose",
			raw:   "Here you go:\n```json\n[{\"question\":\"Q1\"},{\"question\":\"Q2\"}]\n```",
			wantN: 2,
		},
		{
			name:    "no array",
			raw:     "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `[{"question": }]`,
			wantErr: true,
		},
		{
			name:    "empty array",
			raw:     `[]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parseGeneratedQuestions(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, parsed, tt.wantN)
		})
	}
}

func TestTemplateQuestions(t *testing.T) {
	questions := templateQuestions(
		[]string{"OCCUPATION_BLUE_COLLAR", "MEDIA_CABLE_NEWS", "CUSTOM_SIGNAL"},
		[]string{"blue collar work", "cable news habit", "Custom Signal"},
	)

	require.Len(t, questions, 3)
	assert.Contains(t, questions[0].Question, "your work")
	assert.Contains(t, questions[1].Question, "news")
	assert.Contains(t, questions[2].Question, "custom signal")
}

func TestTemplateQuestionsDeduplicate(t *testing.T) {
	questions := templateQuestions(
		[]string{"MEDIA_TV", "MEDIA_RADIO"},
		[]string{"tv", "radio"},
	)
	assert.Len(t, questions, 1)
}

func TestResponseInterpretations(t *testing.T) {
	group := []discriminatingSignal{
		{SignalID: "S1", PersonaA: "p1", PersonaB: "p2", WeightA: 0.9, WeightB: -0.9},
	}

	interps := responseInterpretations(group)
	require.Len(t, interps, 2)

	affirmative := interps[0]
	assert.Equal(t, "affirmative", affirmative.Answer)
	require.Len(t, affirmative.Shifts, 2)
	assert.Equal(t, ProbabilityShift{PersonaID: "p1", Direction: "up"}, affirmative.Shifts[0])
	assert.Equal(t, ProbabilityShift{PersonaID: "p2", Direction: "down"}, affirmative.Shifts[1])

	negative := interps[1]
	assert.Equal(t, "negative", negative.Answer)
	assert.Contains(t, negative.Shifts, ProbabilityShift{PersonaID: "p1", Direction: "down"})
	assert.Contains(t, negative.Shifts, ProbabilityShift{PersonaID: "p2", Direction: "up"})
}

// questionFixture builds a store where all personas score identically, so
// every top pair is ambiguous, with one strong unobserved discriminator.
func questionFixture() (*fakeStore, *QuestionGenerator) {
	store := newFakeStore()
	store.jurors["j1"] = &types.Juror{ID: "j1", CaseID: "c1"}
	store.addPersona("p1", "Skeptic", "distrusts institutions")
	store.addPersona("p2", "Believer", "trusts experts")

	store.signals["AUTHORITY_TRUST"] = types.Signal{
		ID: "AUTHORITY_TRUST", Name: "trust in authority", Category: types.CategoryAttitudinal,
	}
	store.addWeight("p1", "AUTHORITY_TRUST", 0.9, types.DirectionNegative)
	store.addWeight("p2", "AUTHORITY_TRUST", 0.9, types.DirectionPositive)

	matcher := NewMatcher(store, &fakeEmbedder{def: []float64{1, 0}}, nil)
	qg := NewQuestionGenerator(store, matcher, nil)
	return store, qg
}

func TestGenerateForJuror(t *testing.T) {
	_, qg := questionFixture()

	questions, err := qg.GenerateForJuror(context.Background(), "j1")
	require.NoError(t, err)
	require.NotEmpty(t, questions)

	q := questions[0]
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, types.CategoryAttitudinal, q.Category)
	assert.Contains(t, q.SignalIDs, "AUTHORITY_TRUST")
	require.Len(t, q.Targets, 1)

	// Equal probabilities: full binary entropy times the assumed reduction
	assert.InDelta(t, assumedEntropyReduction, q.Priority, 1e-9)
	assert.Len(t, q.Interpretations, 2)
	assert.Empty(t, q.JurorIDs)
}

func TestGenerateForJurorSinglePersona(t *testing.T) {
	store := newFakeStore()
	store.jurors["j1"] = &types.Juror{ID: "j1"}
	store.addPersona("p1", "Only", "sole archetype")

	matcher := NewMatcher(store, &fakeEmbedder{def: []float64{1}}, nil)
	qg := NewQuestionGenerator(store, matcher, nil)

	questions, err := qg.GenerateForJuror(context.Background(), "j1")
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestGenerateForJurorDecisiveDistribution(t *testing.T) {
	store, qg := questionFixture()

	// Answering the discriminator separates the personas past the ambiguity
	// margin: no question is worth asking anymore
	store.observe("j1", "AUTHORITY_TRUST", types.BoolValue(true))

	questions, err := qg.GenerateForJuror(context.Background(), "j1")
	require.NoError(t, err)
	assert.Empty(t, questions)
}

func TestGenerateForJurorUsesGeneratorOutput(t *testing.T) {
	store, _ := questionFixture()

	gen := &fakeGenerator{response: `[{"question":"How much do you trust official experts?","follow_ups":["Can you give an example?"]}]`}
	matcher := NewMatcher(store, &fakeEmbedder{def: []float64{1, 0}}, gen)
	qg := NewQuestionGenerator(store, matcher, gen)

	questions, err := qg.GenerateForJuror(context.Background(), "j1")
	require.NoError(t, err)
	require.NotEmpty(t, questions)

	assert.Equal(t, "How much do you trust official experts?", questions[0].Question)
	assert.Equal(t, []string{"Can you give an example?"}, questions[0].FollowUps)
}

func TestGenerateForJurorFallsBackOnGeneratorFailure(t *testing.T) {
	store, _ := questionFixture()

	gen := &fakeGenerator{err: fmt.Errorf("backend down")}
	matcher := NewMatcher(store, &fakeEmbedder{def: []float64{1, 0}}, gen)
	qg := NewQuestionGenerator(store, matcher, gen)

	questions, err := qg.GenerateForJuror(context.Background(), "j1")
	require.NoError(t, err)
	require.NotEmpty(t, questions)
	assert.NotEmpty(t, questions[0].Question)
}

func TestGenerateForPanel(t *testing.T) {
	store, qg := questionFixture()

	jurors := []types.Juror{
		{ID: "j1", CaseID: "c1"},
		{ID: "j2", CaseID: "c1"},
		{ID: "j3", CaseID: "c1"},
	}
	store.byCase["c1"] = jurors
	for _, j := range jurors {
		juror := j
		store.jurors[j.ID] = &juror
	}

	questions, err := qg.GenerateForPanel(context.Background(), "c1")
	require.NoError(t, err)
	require.NotEmpty(t, questions)
	assert.LessOrEqual(t, len(questions), maxPanelQuestions)

	q := questions[0]
	// All three jurors share the ambiguity, so the single-juror priority is
	// boosted threefold and the jurors recorded.
	assert.Len(t, q.JurorIDs, 3)
	assert.InDelta(t, 3*assumedEntropyReduction, q.Priority, 1e-9)
}

func TestGenerateForPanelEmptyCase(t *testing.T) {
	_, qg := questionFixture()

	questions, err := qg.GenerateForPanel(context.Background(), "empty-case")
	require.NoError(t, err)
	assert.Empty(t, questions)
}
