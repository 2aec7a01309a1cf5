package matching

import (
	"context"
	"sort"

	"github.com/trialworks/venire/internal/types"
)

// discriminationThreshold is the minimum power for a signal to be worth
// asking about.
const discriminationThreshold = 0.3

// discriminatingSignal is an unobserved signal whose answer would materially
// shift the relative probabilities of a persona pair.
type discriminatingSignal struct {
	SignalID string
	PersonaA string
	PersonaB string
	Power    float64
	// signed weights (NEGATIVE direction flips sign); 0 when undefined
	WeightA float64
	WeightB float64
}

// signedWeight folds direction into the magnitude so that discrimination
// power is symmetric in its arguments.
func signedWeight(w types.PersonaSignalWeight) float64 {
	if w.Direction == types.DirectionNegative {
		return -w.Weight
	}
	return w.Weight
}

// discriminationPower computes how strongly one signal separates a persona
// pair. With both weights defined it is the absolute signed difference; with
// only one defined it is that weight's magnitude (the other persona is
// neutral, so the direction flip is implicit).
func discriminationPower(wA, wB *types.PersonaSignalWeight) float64 {
	switch {
	case wA != nil && wB != nil:
		diff := signedWeight(*wA) - signedWeight(*wB)
		if diff < 0 {
			diff = -diff
		}
		return diff
	case wA != nil:
		return wA.Weight
	case wB != nil:
		return wB.Weight
	default:
		return 0
	}
}

// discriminatingSignalsForPair scans every signal relevant to either persona
// that the juror has NOT yet been observed on, keeping those whose power
// clears the threshold, strongest first. Observed signals are never proposed
// as question candidates.
func discriminatingSignalsForPair(ctx context.Context, store Store, personaA, personaB string, observed map[string]bool) ([]discriminatingSignal, error) {
	weightsA, err := store.WeightsForPersona(ctx, personaA)
	if err != nil {
		return nil, err
	}
	weightsB, err := store.WeightsForPersona(ctx, personaB)
	if err != nil {
		return nil, err
	}

	byIDA := make(map[string]types.PersonaSignalWeight, len(weightsA))
	for _, w := range weightsA {
		byIDA[w.SignalID] = w
	}
	byIDB := make(map[string]types.PersonaSignalWeight, len(weightsB))
	for _, w := range weightsB {
		byIDB[w.SignalID] = w
	}

	relevant := make(map[string]bool, len(byIDA)+len(byIDB))
	for id := range byIDA {
		relevant[id] = true
	}
	for id := range byIDB {
		relevant[id] = true
	}

	var out []discriminatingSignal
	for signalID := range relevant {
		if observed[signalID] {
			continue
		}

		var wA, wB *types.PersonaSignalWeight
		if w, ok := byIDA[signalID]; ok {
			wA = &w
		}
		if w, ok := byIDB[signalID]; ok {
			wB = &w
		}

		power := discriminationPower(wA, wB)
		if power <= discriminationThreshold {
			continue
		}

		ds := discriminatingSignal{
			SignalID: signalID,
			PersonaA: personaA,
			PersonaB: personaB,
			Power:    power,
		}
		if wA != nil {
			ds.WeightA = signedWeight(*wA)
		}
		if wB != nil {
			ds.WeightB = signedWeight(*wB)
		}
		out = append(out, ds)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Power != out[j].Power {
			return out[i].Power > out[j].Power
		}
		return out[i].SignalID < out[j].SignalID
	})

	return out, nil
}

// observedSignalSet returns the IDs of every signal already observed for the
// juror.
func observedSignalSet(ctx context.Context, store Store, jurorID string) (map[string]bool, error) {
	signals, err := store.JurorSignals(ctx, jurorID)
	if err != nil {
		return nil, err
	}

	observed := make(map[string]bool, len(signals))
	for _, s := range signals {
		observed[s.SignalID] = true
	}
	return observed, nil
}
