package matching

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialworks/venire/internal/types"
)

func TestNarrativeBuildFullProfile(t *testing.T) {
	store := newFakeStore()
	store.signals["AUTHORITY_DISTRUST"] = types.Signal{
		ID: "AUTHORITY_DISTRUST", Name: "distrust of authority", Category: types.CategoryAttitudinal,
	}
	store.signals["PRIOR_JURY"] = types.Signal{
		ID: "PRIOR_JURY", Name: "prior jury service", Category: types.CategoryExperiential,
	}
	store.observe("j1", "AUTHORITY_DISTRUST", types.BoolValue(true))
	store.observe("j1", "PRIOR_JURY", types.BoolValue(true))
	store.artifacts["j1"] = []types.ResearchArtifact{
		{JurorID: "j1", Summary: "Active in neighborhood watch group."},
	}
	store.voirDire["j1"] = []types.VoirDireEntry{
		{JurorID: "j1", Question: "Have you served before?", Answer: "Yes, once."},
		{JurorID: "j1", Question: "Unanswered question", Answer: ""},
	}

	juror := &types.Juror{
		ID:       "j1",
		CaseType: "criminal",
		Demographics: types.Demographics{
			AgeRange:   "45-54",
			Occupation: "accountant",
		},
	}

	text, err := NewNarrativeBuilder(store).Build(context.Background(), juror)
	require.NoError(t, err)

	// Sections appear in fixed order
	profileIdx := strings.Index(text, "Juror profile: age 45-54, works as accountant.")
	attitudinalIdx := strings.Index(text, "Observed attitudinal traits: distrust of authority.")
	experientialIdx := strings.Index(text, "Observed experiential traits: prior jury service.")
	researchIdx := strings.Index(text, "Research: Active in neighborhood watch group.")
	voirDireIdx := strings.Index(text, "Q: Have you served before? A: Yes, once.")
	caseIdx := strings.Index(text, "Serving on a criminal case.")

	for _, idx := range []int{profileIdx, attitudinalIdx, experientialIdx, researchIdx, voirDireIdx, caseIdx} {
		require.GreaterOrEqual(t, idx, 0, "missing section in narrative:\n%s", text)
	}
	assert.Less(t, profileIdx, attitudinalIdx)
	assert.Less(t, attitudinalIdx, experientialIdx) // categories sorted
	assert.Less(t, experientialIdx, researchIdx)
	assert.Less(t, researchIdx, voirDireIdx)
	assert.Less(t, voirDireIdx, caseIdx)

	// Unanswered exchanges never appear
	assert.NotContains(t, text, "Unanswered question")
}

func TestNarrativeDeterministic(t *testing.T) {
	store := newFakeStore()
	store.signals["A"] = types.Signal{ID: "A", Name: "alpha", Category: types.CategoryBehavioral}
	store.signals["B"] = types.Signal{ID: "B", Name: "beta", Category: types.CategoryBehavioral}
	store.observe("j1", "A", types.BoolValue(true))
	store.observe("j1", "B", types.BoolValue(true))

	juror := &types.Juror{ID: "j1"}
	builder := NewNarrativeBuilder(store)

	first, err := builder.Build(context.Background(), juror)
	require.NoError(t, err)
	second, err := builder.Build(context.Background(), juror)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, "Observed behavioral traits: alpha, beta.")
}

func TestNarrativeTruncatesArtifacts(t *testing.T) {
	store := newFakeStore()
	long := strings.Repeat("x", 500)
	for i := 0; i < 5; i++ {
		store.artifacts["j1"] = append(store.artifacts["j1"], types.ResearchArtifact{
			JurorID: "j1", Summary: long,
		})
	}

	text, err := NewNarrativeBuilder(store).Build(context.Background(), &types.Juror{ID: "j1"})
	require.NoError(t, err)

	assert.Equal(t, maxNarrativeArtifacts, strings.Count(text, "Research: "))
	for _, line := range strings.Split(text, "\n") {
		assert.LessOrEqual(t, len(line), len("Research: ")+artifactSummaryLimit)
	}
}

func TestNarrativeSkipsFalsySignals(t *testing.T) {
	store := newFakeStore()
	store.signals["A"] = types.Signal{ID: "A", Name: "alpha", Category: types.CategoryBehavioral}
	store.observe("j1", "A", types.BoolValue(false))

	text, err := NewNarrativeBuilder(store).Build(context.Background(), &types.Juror{ID: "j1"})
	require.NoError(t, err)
	assert.NotContains(t, text, "alpha")
}

func TestNarrativeEmptyJuror(t *testing.T) {
	store := newFakeStore()
	text, err := NewNarrativeBuilder(store).Build(context.Background(), &types.Juror{ID: "j1"})
	require.NoError(t, err)
	assert.Empty(t, text)
}
