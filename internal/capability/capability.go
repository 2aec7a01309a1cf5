// Package capability wraps the two external model-backed capabilities the
// matching engine consumes: text embedding and text completion. All scoring
// math stays computable when either backend is down; callers convert failures
// into degraded-but-valid outputs.
package capability

import "context"

// Embedder converts text to a fixed-length numeric vector. Re-embedding
// identical text must yield the same vector (narrative and persona caches
// depend on it).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Generator produces a text completion for a prompt. It only affects prose
// quality (rationales, question phrasing), never score correctness.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
