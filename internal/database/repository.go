package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trialworks/venire/internal/types"
)

// Repository handles persisted reads and writes for the matching engine and
// its host. The scoring code only ever reads; mapping writes happen here on
// behalf of the engine's caller.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// --- signals ---

// CreateSignal inserts a catalog signal
func (r *Repository) CreateSignal(ctx context.Context, s types.Signal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signals (id, name, category, kind, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.ID, s.Name, s.Category, s.Kind, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create signal: %w", err)
	}
	return nil
}

// ListSignals returns the whole signal catalog
func (r *Repository) ListSignals(ctx context.Context) ([]types.Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, category, kind FROM signals ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var signals []types.Signal
	for rows.Next() {
		var s types.Signal
		if err := rows.Scan(&s.ID, &s.Name, &s.Category, &s.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// GetSignals returns catalog entries for the given IDs, keyed by ID
func (r *Repository) GetSignals(ctx context.Context, ids []string) (map[string]types.Signal, error) {
	out := make(map[string]types.Signal, len(ids))
	for _, id := range ids {
		var s types.Signal
		err := r.db.QueryRowContext(ctx, `
			SELECT id, name, category, kind FROM signals WHERE id = ?
		`, id).Scan(&s.ID, &s.Name, &s.Category, &s.Kind)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get signal %s: %w", id, err)
		}
		out[s.ID] = s
	}
	return out, nil
}

// --- personas ---

// CreatePersona inserts a persona archetype
func (r *Repository) CreatePersona(ctx context.Context, p types.Persona) error {
	phrases, err := json.Marshal(p.CharacteristicPhrases)
	if err != nil {
		return fmt.Errorf("failed to encode phrases: %w", err)
	}
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO personas (id, name, description, characteristic_phrases, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, string(phrases), string(attrs), now, now)
	if err != nil {
		return fmt.Errorf("failed to create persona: %w", err)
	}
	return nil
}

// GetPersona fetches one persona by ID
func (r *Repository) GetPersona(ctx context.Context, id string) (*types.Persona, error) {
	var p types.Persona
	var phrases, attrs sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, characteristic_phrases, attributes
		FROM personas WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Description, &phrases, &attrs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}

	if phrases.Valid && phrases.String != "" {
		if err := json.Unmarshal([]byte(phrases.String), &p.CharacteristicPhrases); err != nil {
			return nil, fmt.Errorf("failed to decode phrases: %w", err)
		}
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &p.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode attributes: %w", err)
		}
	}

	return &p, nil
}

// GetPersonas fetches personas for the given IDs, preserving input order and
// skipping unknown IDs
func (r *Repository) GetPersonas(ctx context.Context, ids []string) ([]types.Persona, error) {
	personas := make([]types.Persona, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetPersona(ctx, id)
		if err != nil {
			return nil, err
		}
		if p != nil {
			personas = append(personas, *p)
		}
	}
	return personas, nil
}

// ListPersonaIDs returns every persona ID in the catalog
func (r *Repository) ListPersonaIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM personas ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan persona id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- weights ---

// SetPersonaSignalWeight upserts a (persona, signal) weight
func (r *Repository) SetPersonaSignalWeight(ctx context.Context, w types.PersonaSignalWeight) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO persona_signal_weights (persona_id, signal_id, weight, direction)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(persona_id, signal_id) DO UPDATE SET weight = excluded.weight, direction = excluded.direction
	`, w.PersonaID, w.SignalID, w.Weight, w.Direction)
	if err != nil {
		return fmt.Errorf("failed to set weight: %w", err)
	}
	return nil
}

// WeightsForPersona returns all signal weights defined for one persona
func (r *Repository) WeightsForPersona(ctx context.Context, personaID string) ([]types.PersonaSignalWeight, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT persona_id, signal_id, weight, direction
		FROM persona_signal_weights WHERE persona_id = ?
	`, personaID)
	if err != nil {
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	defer rows.Close()

	var weights []types.PersonaSignalWeight
	for rows.Next() {
		var w types.PersonaSignalWeight
		if err := rows.Scan(&w.PersonaID, &w.SignalID, &w.Weight, &w.Direction); err != nil {
			return nil, fmt.Errorf("failed to scan weight: %w", err)
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

// --- jurors ---

// CreateJuror inserts a juror record
func (r *Repository) CreateJuror(ctx context.Context, j types.Juror) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jurors (id, case_id, name, case_type, age_range, occupation, education, location, marital_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.CaseID, j.Name, j.CaseType,
		j.Demographics.AgeRange, j.Demographics.Occupation, j.Demographics.Education,
		j.Demographics.Location, j.Demographics.MaritalStatus, now, now)
	if err != nil {
		return fmt.Errorf("failed to create juror: %w", err)
	}
	return nil
}

// GetJuror fetches one juror; returns nil without error when absent so the
// engine can degrade to defaults instead of failing the match pass
func (r *Repository) GetJuror(ctx context.Context, id string) (*types.Juror, error) {
	var j types.Juror
	err := r.db.QueryRowContext(ctx, `
		SELECT id, case_id, COALESCE(name, ''), COALESCE(case_type, ''),
		       COALESCE(age_range, ''), COALESCE(occupation, ''), COALESCE(education, ''),
		       COALESCE(location, ''), COALESCE(marital_status, '')
		FROM jurors WHERE id = ?
	`, id).Scan(&j.ID, &j.CaseID, &j.Name, &j.CaseType,
		&j.Demographics.AgeRange, &j.Demographics.Occupation, &j.Demographics.Education,
		&j.Demographics.Location, &j.Demographics.MaritalStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get juror: %w", err)
	}
	return &j, nil
}

// ListJurorsByCase returns every juror on a case's panel
func (r *Repository) ListJurorsByCase(ctx context.Context, caseID string) ([]types.Juror, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, case_id, COALESCE(name, ''), COALESCE(case_type, ''),
		       COALESCE(age_range, ''), COALESCE(occupation, ''), COALESCE(education, ''),
		       COALESCE(location, ''), COALESCE(marital_status, '')
		FROM jurors WHERE case_id = ? ORDER BY created_at
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jurors: %w", err)
	}
	defer rows.Close()

	var jurors []types.Juror
	for rows.Next() {
		var j types.Juror
		if err := rows.Scan(&j.ID, &j.CaseID, &j.Name, &j.CaseType,
			&j.Demographics.AgeRange, &j.Demographics.Occupation, &j.Demographics.Education,
			&j.Demographics.Location, &j.Demographics.MaritalStatus); err != nil {
			return nil, fmt.Errorf("failed to scan juror: %w", err)
		}
		jurors = append(jurors, j)
	}
	return jurors, rows.Err()
}

// --- juror signals ---

// AddJurorSignal upserts an observed signal for a juror
func (r *Repository) AddJurorSignal(ctx context.Context, js types.JurorSignal) error {
	observedAt := js.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO juror_signals (juror_id, signal_id, value_kind, value_bool, value_number, value_string, source, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(juror_id, signal_id) DO UPDATE SET
			value_kind = excluded.value_kind,
			value_bool = excluded.value_bool,
			value_number = excluded.value_number,
			value_string = excluded.value_string,
			source = excluded.source,
			observed_at = excluded.observed_at
	`, js.JurorID, js.SignalID, js.Value.Kind, js.Value.Bool, js.Value.Number, js.Value.Str, js.Source, observedAt)
	if err != nil {
		return fmt.Errorf("failed to add juror signal: %w", err)
	}
	return nil
}

// JurorSignals returns all observed signals for a juror
func (r *Repository) JurorSignals(ctx context.Context, jurorID string) ([]types.JurorSignal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT juror_id, signal_id, value_kind, COALESCE(value_bool, FALSE),
		       COALESCE(value_number, 0), COALESCE(value_string, ''), COALESCE(source, ''), observed_at
		FROM juror_signals WHERE juror_id = ? ORDER BY observed_at
	`, jurorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get juror signals: %w", err)
	}
	defer rows.Close()

	var signals []types.JurorSignal
	for rows.Next() {
		var js types.JurorSignal
		if err := rows.Scan(&js.JurorID, &js.SignalID, &js.Value.Kind,
			&js.Value.Bool, &js.Value.Number, &js.Value.Str, &js.Source, &js.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan juror signal: %w", err)
		}
		signals = append(signals, js)
	}
	return signals, rows.Err()
}

// --- research artifacts and voir dire ---

// AddResearchArtifact inserts a research summary for a juror
func (r *Repository) AddResearchArtifact(ctx context.Context, a types.ResearchArtifact) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO research_artifacts (id, juror_id, summary, source, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.JurorID, a.Summary, a.Source, createdAt)
	if err != nil {
		return fmt.Errorf("failed to add research artifact: %w", err)
	}
	return nil
}

// ResearchArtifacts returns a juror's research summaries, most recent first
func (r *Repository) ResearchArtifacts(ctx context.Context, jurorID string) ([]types.ResearchArtifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, juror_id, summary, COALESCE(source, ''), created_at
		FROM research_artifacts WHERE juror_id = ? ORDER BY created_at DESC
	`, jurorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get research artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []types.ResearchArtifact
	for rows.Next() {
		var a types.ResearchArtifact
		if err := rows.Scan(&a.ID, &a.JurorID, &a.Summary, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan research artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// AddVoirDireEntry inserts a question/answer exchange for a juror
func (r *Repository) AddVoirDireEntry(ctx context.Context, e types.VoirDireEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	askedAt := e.AskedAt
	if askedAt.IsZero() {
		askedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO voir_dire_entries (id, juror_id, question, answer, asked_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.JurorID, e.Question, e.Answer, askedAt)
	if err != nil {
		return fmt.Errorf("failed to add voir dire entry: %w", err)
	}
	return nil
}

// VoirDireEntries returns a juror's voir dire exchanges, most recent first
func (r *Repository) VoirDireEntries(ctx context.Context, jurorID string) ([]types.VoirDireEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, juror_id, question, COALESCE(answer, ''), asked_at
		FROM voir_dire_entries WHERE juror_id = ? ORDER BY asked_at DESC
	`, jurorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get voir dire entries: %w", err)
	}
	defer rows.Close()

	var entries []types.VoirDireEntry
	for rows.Next() {
		var e types.VoirDireEntry
		if err := rows.Scan(&e.ID, &e.JurorID, &e.Question, &e.Answer, &e.AskedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voir dire entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- mappings ---

// MappingsForJuror returns the persisted persona mappings for a juror,
// best rank first
func (r *Repository) MappingsForJuror(ctx context.Context, jurorID string) ([]types.JurorPersonaMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, juror_id, persona_id, confidence, rank, COALESCE(rationale, ''), COALESCE(counterfactual, ''), confirmed, created_at, updated_at
		FROM juror_persona_mappings WHERE juror_id = ? ORDER BY rank
	`, jurorID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mappings: %w", err)
	}
	defer rows.Close()

	var mappings []types.JurorPersonaMapping
	for rows.Next() {
		var m types.JurorPersonaMapping
		if err := rows.Scan(&m.ID, &m.JurorID, &m.PersonaID, &m.Confidence, &m.Rank,
			&m.Rationale, &m.Counterfactual, &m.Confirmed, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// SaveMapping upserts a match outcome for a (juror, persona) pair
func (r *Repository) SaveMapping(ctx context.Context, m types.JurorPersonaMapping) (*types.JurorPersonaMapping, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO juror_persona_mappings (id, juror_id, persona_id, confidence, rank, rationale, counterfactual, confirmed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(juror_id, persona_id) DO UPDATE SET
			confidence = excluded.confidence,
			rank = excluded.rank,
			rationale = excluded.rationale,
			counterfactual = excluded.counterfactual,
			updated_at = excluded.updated_at
	`, m.ID, m.JurorID, m.PersonaID, m.Confidence, m.Rank, m.Rationale, m.Counterfactual, m.Confirmed, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to save mapping: %w", err)
	}

	m.CreatedAt = now
	m.UpdatedAt = now
	return &m, nil
}

// ConfirmMapping marks one mapping confirmed and unconfirms every other
// mapping for the same juror, in one transaction. Exactly one mapping per
// juror may be confirmed at a time.
func (r *Repository) ConfirmMapping(ctx context.Context, mappingID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var jurorID string
	err = tx.QueryRowContext(ctx, `
		SELECT juror_id FROM juror_persona_mappings WHERE id = ?
	`, mappingID).Scan(&jurorID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("mapping %s not found", mappingID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up mapping: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE juror_persona_mappings SET confirmed = FALSE, updated_at = ? WHERE juror_id = ? AND id != ?
	`, now, jurorID, mappingID); err != nil {
		return fmt.Errorf("failed to unconfirm sibling mappings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE juror_persona_mappings SET confirmed = TRUE, updated_at = ? WHERE id = ?
	`, now, mappingID); err != nil {
		return fmt.Errorf("failed to confirm mapping: %w", err)
	}

	return tx.Commit()
}
