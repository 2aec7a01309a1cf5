package matching

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/trialworks/venire/internal/cache"
	"github.com/trialworks/venire/internal/capability"
	"github.com/trialworks/venire/internal/types"
)

// Narrative richness thresholds for the confidence model. Short narratives
// don't carry enough signal for the similarity number to be trustworthy,
// independent of what the similarity value says.
const (
	shortNarrativeChars = 200
	shortNarrativeWords = 30
	richNarrativeChars  = 2000

	narrativeCacheTTL = time.Hour
)

// EmbeddingScorer computes a semantic-similarity score between a juror's
// narrative and a persona's description. It owns two caches: juror
// narratives expire after an hour (voir dire sessions move fast but not that
// fast); persona embeddings never expire and must be invalidated explicitly
// when a persona is edited.
type EmbeddingScorer struct {
	store          Store
	embedder       capability.Embedder
	narrative      *NarrativeBuilder
	narrativeCache *cache.Cache
	personaCache   *cache.Cache
}

type cachedNarrative struct {
	text   string
	vector []float64
}

// NewEmbeddingScorer creates an embedding scorer with its caches
func NewEmbeddingScorer(store Store, embedder capability.Embedder) *EmbeddingScorer {
	return &EmbeddingScorer{
		store:          store,
		embedder:       embedder,
		narrative:      NewNarrativeBuilder(store),
		narrativeCache: cache.New(narrativeCacheTTL),
		personaCache:   cache.New(0),
	}
}

// InvalidatePersona drops a persona's cached embedding. Callers must invoke
// this on persona edits since the persona cache has no TTL.
func (e *EmbeddingScorer) InvalidatePersona(personaID string) {
	e.personaCache.Invalidate(personaID)
}

// InvalidateJuror drops a juror's cached narrative ahead of its TTL.
func (e *EmbeddingScorer) InvalidateJuror(jurorID string) {
	e.narrativeCache.Invalidate(jurorID)
}

// Score computes the embedding-based score for one (juror, persona) pair.
// Capability failures degrade to a zero score with zero confidence rather
// than erroring; only store failures propagate.
func (e *EmbeddingScorer) Score(ctx context.Context, juror *types.Juror, persona *types.Persona) (*EmbeddingScore, error) {
	narrative, err := e.jurorNarrative(ctx, juror)
	if err != nil {
		return nil, err
	}

	if narrative.vector == nil {
		// Embedding backend unavailable; abstain with an explanatory zero
		return &EmbeddingScore{Score: 0, Confidence: 0, NarrativeLength: len(narrative.text)}, nil
	}

	personaVec := e.personaEmbedding(ctx, persona)
	if personaVec == nil {
		return &EmbeddingScore{Score: 0, Confidence: 0, NarrativeLength: len(narrative.text)}, nil
	}

	sim := cosineSimilarity(narrative.vector, personaVec)
	score := clamp01((sim + 1) / 2)

	return &EmbeddingScore{
		Score:           score,
		Confidence:      narrativeConfidence(narrative.text),
		NarrativeLength: len(narrative.text),
	}, nil
}

func (e *EmbeddingScorer) jurorNarrative(ctx context.Context, juror *types.Juror) (cachedNarrative, error) {
	if cached, ok := e.narrativeCache.Get(juror.ID); ok {
		return cached.(cachedNarrative), nil
	}

	text, err := e.narrative.Build(ctx, juror)
	if err != nil {
		return cachedNarrative{}, err
	}

	entry := cachedNarrative{text: text}

	// No embedding backend configured: abstain without caching
	if e.embedder == nil {
		return entry, nil
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		slog.Warn("Narrative embedding failed, abstaining", "juror_id", juror.ID, "error", err)
	} else {
		entry.vector = vector
		// Only cache successful embeddings so a backend blip doesn't pin a
		// degraded result for the whole TTL
		e.narrativeCache.Set(juror.ID, entry)
	}

	return entry, nil
}

func (e *EmbeddingScorer) personaEmbedding(ctx context.Context, persona *types.Persona) []float64 {
	if cached, ok := e.personaCache.Get(persona.ID); ok {
		return cached.([]float64)
	}

	if e.embedder == nil {
		return nil
	}

	vector, err := e.embedder.Embed(ctx, personaDescription(persona))
	if err != nil {
		slog.Warn("Persona embedding failed, abstaining", "persona_id", persona.ID, "error", err)
		return nil
	}

	e.personaCache.Set(persona.ID, vector)
	return vector
}

// personaDescription renders the persona's semantic source text.
func personaDescription(persona *types.Persona) string {
	var sb strings.Builder

	sb.WriteString(persona.Name)
	sb.WriteString(": ")
	sb.WriteString(persona.Description)

	if len(persona.CharacteristicPhrases) > 0 {
		sb.WriteString(" Characteristic statements: ")
		sb.WriteString(strings.Join(persona.CharacteristicPhrases, "; "))
	}

	for key, value := range persona.Attributes {
		sb.WriteString(" ")
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(value)
	}

	return sb.String()
}

// narrativeConfidence scales with narrative richness only, never with the
// persona side. Thin narratives cap at 0.5; richer ones approach 1.0 as
// length approaches richNarrativeChars.
func narrativeConfidence(text string) float64 {
	chars := len(text)
	words := len(strings.Fields(text))

	if chars < shortNarrativeChars || words < shortNarrativeWords {
		charRatio := float64(chars) / float64(shortNarrativeChars)
		wordRatio := float64(words) / float64(shortNarrativeWords)
		ratio := math.Min(charRatio, wordRatio)
		return clamp01(0.5 * ratio)
	}

	extra := float64(chars-shortNarrativeChars) / float64(richNarrativeChars-shortNarrativeChars)
	return clamp01(0.5 + 0.5*extra)
}

// cosineSimilarity guards zero-magnitude vectors explicitly: degenerate or
// empty text yields 0, never NaN.
func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
