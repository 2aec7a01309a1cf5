package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/trialworks/venire/internal/types"
)

// fakeStore is an in-memory Store for scorer tests.
type fakeStore struct {
	jurors    map[string]*types.Juror
	personas  map[string]*types.Persona
	signals   map[string]types.Signal
	weights   map[string][]types.PersonaSignalWeight
	observed  map[string][]types.JurorSignal
	artifacts map[string][]types.ResearchArtifact
	voirDire  map[string][]types.VoirDireEntry
	mappings  map[string][]types.JurorPersonaMapping
	byCase    map[string][]types.Juror

	// errOn triggers an error for a named method, to test degradation paths
	errOn map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jurors:    make(map[string]*types.Juror),
		personas:  make(map[string]*types.Persona),
		signals:   make(map[string]types.Signal),
		weights:   make(map[string][]types.PersonaSignalWeight),
		observed:  make(map[string][]types.JurorSignal),
		artifacts: make(map[string][]types.ResearchArtifact),
		voirDire:  make(map[string][]types.VoirDireEntry),
		mappings:  make(map[string][]types.JurorPersonaMapping),
		byCase:    make(map[string][]types.Juror),
		errOn:     make(map[string]error),
	}
}

func (f *fakeStore) addPersona(id, name, description string) {
	f.personas[id] = &types.Persona{ID: id, Name: name, Description: description}
}

func (f *fakeStore) addWeight(personaID, signalID string, weight float64, direction types.WeightDirection) {
	f.weights[personaID] = append(f.weights[personaID], types.PersonaSignalWeight{
		PersonaID: personaID,
		SignalID:  signalID,
		Weight:    weight,
		Direction: direction,
	})
}

func (f *fakeStore) observe(jurorID, signalID string, value types.SignalValue) {
	f.observed[jurorID] = append(f.observed[jurorID], types.JurorSignal{
		JurorID:  jurorID,
		SignalID: signalID,
		Value:    value,
	})
}

func (f *fakeStore) GetJuror(ctx context.Context, id string) (*types.Juror, error) {
	if err := f.errOn["GetJuror"]; err != nil {
		return nil, err
	}
	return f.jurors[id], nil
}

func (f *fakeStore) GetPersona(ctx context.Context, id string) (*types.Persona, error) {
	if err := f.errOn["GetPersona"]; err != nil {
		return nil, err
	}
	return f.personas[id], nil
}

func (f *fakeStore) GetPersonas(ctx context.Context, ids []string) ([]types.Persona, error) {
	if err := f.errOn["GetPersonas"]; err != nil {
		return nil, err
	}
	var out []types.Persona
	for _, id := range ids {
		if p, ok := f.personas[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListPersonaIDs(ctx context.Context) ([]string, error) {
	if err := f.errOn["ListPersonaIDs"]; err != nil {
		return nil, err
	}
	var ids []string
	for id := range f.personas {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) GetSignals(ctx context.Context, ids []string) (map[string]types.Signal, error) {
	if err := f.errOn["GetSignals"]; err != nil {
		return nil, err
	}
	out := make(map[string]types.Signal)
	for _, id := range ids {
		if s, ok := f.signals[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeStore) WeightsForPersona(ctx context.Context, personaID string) ([]types.PersonaSignalWeight, error) {
	if err := f.errOn["WeightsForPersona"]; err != nil {
		return nil, err
	}
	return f.weights[personaID], nil
}

func (f *fakeStore) JurorSignals(ctx context.Context, jurorID string) ([]types.JurorSignal, error) {
	if err := f.errOn["JurorSignals"]; err != nil {
		return nil, err
	}
	return f.observed[jurorID], nil
}

func (f *fakeStore) ResearchArtifacts(ctx context.Context, jurorID string) ([]types.ResearchArtifact, error) {
	if err := f.errOn["ResearchArtifacts"]; err != nil {
		return nil, err
	}
	return f.artifacts[jurorID], nil
}

func (f *fakeStore) VoirDireEntries(ctx context.Context, jurorID string) ([]types.VoirDireEntry, error) {
	if err := f.errOn["VoirDireEntries"]; err != nil {
		return nil, err
	}
	return f.voirDire[jurorID], nil
}

func (f *fakeStore) MappingsForJuror(ctx context.Context, jurorID string) ([]types.JurorPersonaMapping, error) {
	if err := f.errOn["MappingsForJuror"]; err != nil {
		return nil, err
	}
	return f.mappings[jurorID], nil
}

func (f *fakeStore) ListJurorsByCase(ctx context.Context, caseID string) ([]types.Juror, error) {
	if err := f.errOn["ListJurorsByCase"]; err != nil {
		return nil, err
	}
	return f.byCase[caseID], nil
}

// fakeEmbedder returns a fixed vector per known text substring, or a default.
type fakeEmbedder struct {
	vectors map[string][]float64
	def     []float64
	calls   int
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for key, vec := range f.vectors {
		if key != "" && strings.Contains(text, key) {
			return vec, nil
		}
	}
	return f.def, nil
}

// fakeGenerator returns a canned completion or an error.
type fakeGenerator struct {
	response string
	err      error
	calls    int
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", fmt.Errorf("generation: %w", f.err)
	}
	return f.response, nil
}
