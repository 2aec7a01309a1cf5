package capability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEmbedderEmbed(t *testing.T) {
	var gotReq embedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	embedder := NewHTTPEmbedder(server.URL, "secret", "embed-small")

	vector, err := embedder.Embed(context.Background(), "distrusts institutions")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, "embed-small", gotReq.Model)
	assert.Equal(t, "distrusts institutions", gotReq.Input)
}

func TestHTTPEmbedderRejectsEmptyVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer server.Close()

	_, err := NewHTTPEmbedder(server.URL, "", "").Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty vector")
}

func TestHTTPEmbedderClientErrorNotRetried(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewHTTPEmbedder(server.URL, "", "").Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestHTTPGeneratorComplete(t *testing.T) {
	var gotReq completeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/complete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(completeResponse{Text: "They likely distrust official narratives."})
	}))
	defer server.Close()

	generator := NewHTTPGenerator(server.URL, "", "gen-large")

	text, err := generator.Complete(context.Background(), "Explain the match.")
	require.NoError(t, err)
	assert.Equal(t, "They likely distrust official narratives.", text)
	assert.Equal(t, "gen-large", gotReq.Model)
	assert.Equal(t, "Explain the match.", gotReq.Prompt)
	assert.Equal(t, 1024, gotReq.MaxTokens)
}

func TestHTTPGeneratorServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewHTTPGenerator(server.URL, "", "").Complete(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
