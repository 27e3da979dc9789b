package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperverse/research-query-service/internal/domain"
)

func geminiTextResponse(text string) generateResponse {
	return generateResponse{
		Candidates: []geminiCandidate{
			{
				Content: geminiContent{
					Role:  "model",
					Parts: []geminiPart{{Text: text}},
				},
				FinishReason: "STOP",
			},
		},
	}
}

func TestGeminiProvider_Complete(t *testing.T) {
	var gotKey string
	var gotBody generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(geminiTextResponse(`{"base_url": "x", "params": {}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL, Model: "test-model"})
	out, err := p.Complete(context.Background(), "translate this", "secret-key")

	require.NoError(t, err)
	assert.Equal(t, `{"base_url": "x", "params": {}}`, out)
	assert.Equal(t, "secret-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	assert.Contains(t, gotBody.Contents[0].Parts[0].Text, "translate this")
}

func TestGeminiProvider_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), "q", "k")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *domain.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestGeminiProvider_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), "q", "k")

	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestGeminiProvider_BadRequestIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "API key not valid"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), "q", "k")

	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
}

func TestGeminiProvider_EmptyCandidatesIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{})
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), "q", "k")

	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestGeminiProvider_NetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), "q", "k")

	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestGeminiProvider_ContextCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server notices the client disconnect and
		// cancels r.Context(); otherwise srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Complete(ctx, "q", "k")

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || !domain.IsRetryable(err))
}
