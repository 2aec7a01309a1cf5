package types

import (
	"strconv"
	"time"
)

// SignalCategory groups signals for narrative assembly and question phrasing.
type SignalCategory string

const (
	CategoryDemographic  SignalCategory = "demographic"
	CategoryAttitudinal  SignalCategory = "attitudinal"
	CategoryExperiential SignalCategory = "experiential"
	CategoryBehavioral   SignalCategory = "behavioral"
)

// WeightDirection is the polarity of a persona-signal correlation.
type WeightDirection string

const (
	DirectionPositive WeightDirection = "POSITIVE"
	DirectionNegative WeightDirection = "NEGATIVE"
)

// SignalValueKind tags the value domain of an observed signal.
type SignalValueKind int

const (
	KindBool SignalValueKind = iota
	KindNumber
	KindString
)

// SignalValue is the tagged union for an observed signal value. Only the
// field matching Kind is meaningful.
type SignalValue struct {
	Kind   SignalValueKind `json:"kind"`
	Bool   bool            `json:"bool,omitempty"`
	Number float64         `json:"number,omitempty"`
	Str    string          `json:"string,omitempty"`
}

func BoolValue(v bool) SignalValue      { return SignalValue{Kind: KindBool, Bool: v} }
func NumberValue(v float64) SignalValue { return SignalValue{Kind: KindNumber, Number: v} }
func StringValue(v string) SignalValue  { return SignalValue{Kind: KindString, Str: v} }

// Truthy reports whether the observed value counts as "signal present".
// Booleans pass through, numbers are truthy above zero, and strings are
// truthy when non-empty (which covers the "true" literal).
func (v SignalValue) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Number > 0
	case KindString:
		return v.Str != ""
	default:
		return false
	}
}

// String renders the value for persistence and narrative text.
func (v SignalValue) String() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'f', -1, 64)
	default:
		return v.Str
	}
}

// Signal is a named discrete observable fact about a juror. Signals are
// defined once and shared across all personas.
type Signal struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category SignalCategory  `json:"category"`
	Kind     SignalValueKind `json:"kind"`
}

// PersonaSignalWeight ties a signal to a persona with a strength and polarity.
// Absence of a weight means the signal is uninformative for that persona.
type PersonaSignalWeight struct {
	PersonaID string          `json:"persona_id"`
	SignalID  string          `json:"signal_id"`
	Weight    float64         `json:"weight"` // in [0,1]
	Direction WeightDirection `json:"direction"`
}

// JurorSignal is the evidentiary record that a signal has been observed for a
// juror. Created by upstream extraction; read-only to the matching engine.
type JurorSignal struct {
	JurorID    string      `json:"juror_id"`
	SignalID   string      `json:"signal_id"`
	Value      SignalValue `json:"value"`
	Source     string      `json:"source,omitempty"`
	ObservedAt time.Time   `json:"observed_at"`
}

// Persona is a behavioral archetype. Its description is the semantic source
// text for the embedding scorer; it carries no mutable scoring state.
type Persona struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	Description           string            `json:"description"`
	CharacteristicPhrases []string          `json:"characteristic_phrases,omitempty"`
	Attributes            map[string]string `json:"attributes,omitempty"`
}

// Demographics holds the structured juror fields surfaced in the narrative.
type Demographics struct {
	AgeRange      string `json:"age_range,omitempty"`
	Occupation    string `json:"occupation,omitempty"`
	Education     string `json:"education,omitempty"`
	Location      string `json:"location,omitempty"`
	MaritalStatus string `json:"marital_status,omitempty"`
}

// ResearchArtifact is a summarized research finding about a juror.
type ResearchArtifact struct {
	ID        string    `json:"id"`
	JurorID   string    `json:"juror_id"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VoirDireEntry is a single question/answer exchange from voir dire.
type VoirDireEntry struct {
	ID       string    `json:"id"`
	JurorID  string    `json:"juror_id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer,omitempty"`
	AskedAt  time.Time `json:"asked_at"`
}

// Juror is the subject of a match pass.
type Juror struct {
	ID           string       `json:"id"`
	CaseID       string       `json:"case_id"`
	Name         string       `json:"name,omitempty"`
	CaseType     string       `json:"case_type,omitempty"`
	Demographics Demographics `json:"demographics"`
}

// JurorPersonaMapping is the persisted outcome of a match attempt. At most
// one mapping per juror may be confirmed at a time; confirming one unconfirms
// the others (enforced by the store, never by the scoring code).
type JurorPersonaMapping struct {
	ID             string    `json:"id"`
	JurorID        string    `json:"juror_id"`
	PersonaID      string    `json:"persona_id"`
	Confidence     float64   `json:"confidence"`
	Rank           int       `json:"rank"`
	Rationale      string    `json:"rationale,omitempty"`
	Counterfactual string    `json:"counterfactual,omitempty"`
	Confirmed      bool      `json:"confirmed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
