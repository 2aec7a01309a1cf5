// Package matching implements the juror-persona ensemble matching engine:
// three independent scoring methods (discrete-evidence weighting, semantic
// similarity, sequential Bayesian inference) combined into one calibrated
// probability per persona, plus counterfactual analysis and discriminative
// voir dire question generation derived from the resulting distribution.
package matching

import (
	"context"

	"github.com/trialworks/venire/internal/types"
)

// Store is the read surface the engine needs from the persisted-data layer.
// The engine never writes; mapping persistence is the caller's job.
type Store interface {
	GetJuror(ctx context.Context, id string) (*types.Juror, error)
	GetPersona(ctx context.Context, id string) (*types.Persona, error)
	GetPersonas(ctx context.Context, ids []string) ([]types.Persona, error)
	ListPersonaIDs(ctx context.Context) ([]string, error)
	GetSignals(ctx context.Context, ids []string) (map[string]types.Signal, error)
	WeightsForPersona(ctx context.Context, personaID string) ([]types.PersonaSignalWeight, error)
	JurorSignals(ctx context.Context, jurorID string) ([]types.JurorSignal, error)
	ResearchArtifacts(ctx context.Context, jurorID string) ([]types.ResearchArtifact, error)
	VoirDireEntries(ctx context.Context, jurorID string) ([]types.VoirDireEntry, error)
	MappingsForJuror(ctx context.Context, jurorID string) ([]types.JurorPersonaMapping, error)
	ListJurorsByCase(ctx context.Context, caseID string) ([]types.Juror, error)
}

// SignalScore is the fully-explainable output of the signal-based scorer.
// Every contribution traces to a named signal, so this doubles as the audit
// trail surfaced to the end user.
type SignalScore struct {
	Score                float64  `json:"score"`
	Confidence           float64  `json:"confidence"`
	SupportingSignals    []string `json:"supporting_signals"`
	ContradictingSignals []string `json:"contradicting_signals"`
	MissingSignals       []string `json:"missing_signals"`
}

// EmbeddingScore is the semantic-similarity method's output.
type EmbeddingScore struct {
	Score           float64 `json:"score"`
	Confidence      float64 `json:"confidence"`
	NarrativeLength int     `json:"narrative_length"`
}

// BayesianPosterior maps persona IDs to normalized probabilities, with an
// entropy-derived confidence scalar. Probabilities sum to 1.
type BayesianPosterior struct {
	Probabilities map[string]float64 `json:"probabilities"`
	Confidence    float64            `json:"confidence"`
	Entropy       float64            `json:"entropy"`
}

// MethodWeights is the per-juror contribution share of each scoring method.
// The three weights always sum to 1 after determination.
type MethodWeights struct {
	Signal    float64 `json:"signal"`
	Embedding float64 `json:"embedding"`
	Bayesian  float64 `json:"bayesian"`
}

// MatchDetail is the explicit variant for per-match explanatory payloads:
// either the full rationale/counterfactual text (top-ranked matches) or a
// deterministic placeholder (the rest). Callers must type-switch.
type MatchDetail interface {
	isMatchDetail()
}

// WithExplanation carries generated rationale and counterfactual text.
type WithExplanation struct {
	Rationale      string `json:"rationale"`
	Counterfactual string `json:"counterfactual"`
}

func (WithExplanation) isMatchDetail() {}

// ScoreOnly carries the placeholder emitted for lower-ranked matches, kept so
// callers always receive a stable-length list.
type ScoreOnly struct {
	Placeholder string `json:"placeholder"`
}

func (ScoreOnly) isMatchDetail() {}

// EnsembleMatch is the per-persona result bundle: the combined probability
// and confidence plus the three raw method scores for audit.
type EnsembleMatch struct {
	PersonaID   string  `json:"persona_id"`
	PersonaName string  `json:"persona_name"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`

	SignalScore     SignalScore    `json:"signal_score"`
	EmbeddingScore  EmbeddingScore `json:"embedding_score"`
	BayesianScore   float64        `json:"bayesian_score"`
	BayesConfidence float64        `json:"bayes_confidence"`

	Weights MethodWeights `json:"weights"`
	Detail  MatchDetail   `json:"-"`
}

// PersonaPairTarget names an ambiguous persona pair a question addresses and
// the estimated information gain from asking it.
type PersonaPairTarget struct {
	PersonaA                string  `json:"persona_a"`
	PersonaB                string  `json:"persona_b"`
	ExpectedInformationGain float64 `json:"expected_information_gain"`
}

// ProbabilityShift describes how one answer moves one persona's probability.
type ProbabilityShift struct {
	PersonaID string `json:"persona_id"`
	Direction string `json:"direction"` // "up" or "down"
}

// ResponseInterpretation maps an answer pattern to its probability effects.
type ResponseInterpretation struct {
	Answer string             `json:"answer"`
	Shifts []ProbabilityShift `json:"shifts"`
}

// DiscriminativeQuestion is a ranked, human-phrasable voir dire question
// targeting one or more ambiguous persona pairs.
type DiscriminativeQuestion struct {
	ID              string                   `json:"id"`
	Question        string                   `json:"question"`
	Category        types.SignalCategory     `json:"category"`
	SignalIDs       []string                 `json:"signal_ids"`
	Targets         []PersonaPairTarget      `json:"targets"`
	Interpretations []ResponseInterpretation `json:"interpretations"`
	FollowUps       []string                 `json:"follow_ups,omitempty"`
	Priority        float64                  `json:"priority"`

	// Panel-wide fields: which jurors share the ambiguity this question
	// resolves. Empty for single-juror generation.
	JurorIDs []string `json:"juror_ids,omitempty"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
