package matching

import (
	"context"

	"github.com/trialworks/venire/internal/types"
)

const (
	// weight above which a missing signal erodes confidence
	highWeightThreshold = 0.5

	contradictionPenalty    = 0.1
	contradictionPenaltyCap = 0.3
	missingPenalty          = 0.05
	missingPenaltyCap       = 0.2
)

// SignalScorer computes a weighted-evidence score per persona from directly
// observed signals.
type SignalScorer struct {
	store Store
}

// NewSignalScorer creates a signal-based scorer backed by the store
func NewSignalScorer(store Store) *SignalScorer {
	return &SignalScorer{store: store}
}

// Score computes the signal-based score for one (juror, persona) pair.
func (s *SignalScorer) Score(ctx context.Context, jurorID, personaID string) (*SignalScore, error) {
	weights, err := s.store.WeightsForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}

	observedList, err := s.store.JurorSignals(ctx, jurorID)
	if err != nil {
		return nil, err
	}

	observed := make(map[string]types.SignalValue, len(observedList))
	for _, js := range observedList {
		observed[js.SignalID] = js.Value
	}

	result := scoreSignals(weights, observed)
	return &result, nil
}

// scoreSignals is the pure scoring rule. Satisfied positive signals add
// weight^2 to the running score; observed signals add weight to the running
// max regardless of value; truthy negative signals subtract weight^2.
// Unobserved signals only count as missing.
func scoreSignals(weights []types.PersonaSignalWeight, observed map[string]types.SignalValue) SignalScore {
	var rawScore, maxPossible float64
	var supporting, contradicting, missing []string
	observedCount := 0

	for _, w := range weights {
		value, seen := observed[w.SignalID]
		if !seen {
			missing = append(missing, w.SignalID)
			continue
		}

		observedCount++
		maxPossible += w.Weight

		if !value.Truthy() {
			continue
		}

		switch w.Direction {
		case types.DirectionPositive:
			rawScore += w.Weight * w.Weight
			supporting = append(supporting, w.SignalID)
		case types.DirectionNegative:
			rawScore -= w.Weight * w.Weight
			contradicting = append(contradicting, w.SignalID)
		}
	}

	score := 0.0
	if maxPossible > 0 {
		score = clamp01(rawScore / maxPossible)
	}

	confidence := 0.0
	if len(weights) > 0 {
		confidence = float64(observedCount) / float64(len(weights))
	}

	contraPenalty := contradictionPenalty * float64(len(contradicting))
	if contraPenalty > contradictionPenaltyCap {
		contraPenalty = contradictionPenaltyCap
	}
	confidence -= contraPenalty

	missingHigh := 0
	missingSet := make(map[string]bool, len(missing))
	for _, id := range missing {
		missingSet[id] = true
	}
	for _, w := range weights {
		if missingSet[w.SignalID] && w.Weight > highWeightThreshold {
			missingHigh++
		}
	}
	missPenalty := missingPenalty * float64(missingHigh)
	if missPenalty > missingPenaltyCap {
		missPenalty = missingPenaltyCap
	}
	confidence -= missPenalty

	return SignalScore{
		Score:                score,
		Confidence:           clamp01(confidence),
		SupportingSignals:    supporting,
		ContradictingSignals: contradicting,
		MissingSignals:       missing,
	}
}
