package translate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/keypool"
	"github.com/paperverse/research-query-service/internal/retry"
)

// fakeProvider scripts provider responses per call.
type fakeProvider struct {
	calls    atomic.Int32
	respond  func(call int, apiKey string) (string, error)
	lastKeys []string
}

func (f *fakeProvider) Complete(_ context.Context, _ string, apiKey string) (string, error) {
	call := int(f.calls.Add(1))
	f.lastKeys = append(f.lastKeys, apiKey)
	return f.respond(call, apiKey)
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestTranslator(t *testing.T, provider Provider, keys ...string) *Translator {
	t.Helper()
	if len(keys) == 0 {
		keys = []string{"k1", "k2", "k3"}
	}
	pool, err := keypool.New(keys)
	require.NoError(t, err)

	return New(provider, pool, Config{
		RetryPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      2,
		},
	}, zerolog.Nop())
}

func TestTranslate_ValidJSONOutput(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return `{"base_url": "https://api.openalex.org/works", "params": {"search": "quantum computing", "filter": "publication_year:2024"}}`, nil
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "quantum computing in 2024")

	require.True(t, outcome.IsValid())
	req := outcome.Request()
	assert.Equal(t, "quantum computing", req.Params["search"])
	assert.Equal(t, "publication_year:2024", req.Params["filter"])
	assert.Equal(t, domain.DefaultSelect, req.Params["select"], "default projection applied")
}

func TestTranslate_StripsCodeFences(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return "```json\n{\"base_url\": \"https://api.openalex.org/works\", \"params\": {\"search\": \"crispr\"}}\n```", nil
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "crispr")

	require.True(t, outcome.IsValid())
	assert.Equal(t, "crispr", outcome.Request().Params["search"])
}

func TestTranslate_UnparsableOutputIsInvalid(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return "Sure! Here is the request you asked for: search for quantum computing.", nil
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "quantum computing")

	assert.False(t, outcome.IsValid())
	assert.Equal(t, ReasonUnparsable, outcome.Reason())
}

func TestTranslate_MissingFieldsAreInvalid(t *testing.T) {
	cases := map[string]string{
		"no params":   `{"base_url": "https://api.openalex.org/works"}`,
		"no base_url": `{"params": {"search": "ai"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			provider := &fakeProvider{respond: func(int, string) (string, error) { return body, nil }}
			outcome := newTestTranslator(t, provider).Translate(context.Background(), "ai")
			assert.False(t, outcome.IsValid())
			assert.Equal(t, ReasonMissingFields, outcome.Reason())
		})
	}
}

func TestTranslate_EmptySanitizedRequestIsInvalid(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return `{"base_url": "https://api.openalex.org/works", "params": {"bogus": "value"}}`, nil
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "ai")

	assert.False(t, outcome.IsValid())
	assert.Equal(t, ReasonEmptyRequest, outcome.Reason())
}

func TestTranslate_RotatesKeysBetweenAttempts(t *testing.T) {
	provider := &fakeProvider{respond: func(call int, _ string) (string, error) {
		if call < 3 {
			return "", domain.NewTransientError("fake", errors.New("connection refused"))
		}
		return `{"base_url": "https://api.openalex.org/works", "params": {"search": "ai"}}`, nil
	}}

	tr := newTestTranslator(t, provider, "k1", "k2", "k3")
	rotations := 0
	tr.OnRotate = func() { rotations++ }

	outcome := tr.Translate(context.Background(), "ai")

	require.True(t, outcome.IsValid())
	assert.Equal(t, []string{"k1", "k2", "k3"}, provider.lastKeys, "each attempt uses the next credential")
	assert.Equal(t, 2, rotations)
}

func TestTranslate_UnreachableProviderNeverThrows(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return "", domain.NewTransientError("fake", errors.New("dial tcp: connection refused"))
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "quantum computing 2024")

	assert.False(t, outcome.IsValid())
	assert.Equal(t, ReasonUnreachable, outcome.Reason())
	assert.Equal(t, int32(3), provider.calls.Load(), "bounded by min(3, pool size)")
}

func TestTranslate_AttemptsBoundedByPoolSize(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return "", domain.NewTransientError("fake", errors.New("timeout"))
	}}

	outcome := newTestTranslator(t, provider, "only-key").Translate(context.Background(), "ai")

	assert.False(t, outcome.IsValid())
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestTranslate_PermanentProviderErrorIsInvalidWithoutRetry(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return "", domain.NewUpstreamError("fake", 400, "invalid request", nil)
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "ai")

	assert.False(t, outcome.IsValid())
	assert.Equal(t, ReasonProviderRejected, outcome.Reason())
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestTranslate_RateLimitMarksCredentialExhausted(t *testing.T) {
	pool, err := keypool.New([]string{"k1", "k2"})
	require.NoError(t, err)

	provider := &fakeProvider{respond: func(call int, _ string) (string, error) {
		if call == 1 {
			return "", domain.NewRateLimitError("fake", time.Millisecond)
		}
		return `{"base_url": "https://api.openalex.org/works", "params": {"search": "ai"}}`, nil
	}}

	tr := New(provider, pool, Config{RetryPolicy: retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
	}}, zerolog.Nop())

	outcome := tr.Translate(context.Background(), "ai")

	require.True(t, outcome.IsValid())
	assert.Equal(t, keypool.HealthExhausted, findCred(t, pool, "k1").Health)
	assert.Equal(t, keypool.HealthHealthy, findCred(t, pool, "k2").Health)
}

func findCred(t *testing.T, pool *keypool.Pool, key string) keypool.Credential {
	t.Helper()
	for i := 0; i < pool.Size(); i++ {
		if c := pool.Rotate(); c.Key == key {
			return c
		}
	}
	t.Fatalf("credential %s not found", key)
	return keypool.Credential{}
}

func TestTranslate_OpenBreakerShortCircuits(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return "", domain.NewTransientError("fake", errors.New("down"))
	}}

	pool, err := keypool.New([]string{"k1", "k2", "k3"})
	require.NoError(t, err)

	tr := New(provider, pool, Config{
		RetryPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
		},
		BreakerConsecutiveFailures: 2,
		BreakerCooldown:            time.Minute,
	}, zerolog.Nop())

	// First invocation trips the breaker after two consecutive failures.
	outcome := tr.Translate(context.Background(), "ai")
	assert.False(t, outcome.IsValid())
	callsAfterFirst := provider.calls.Load()

	// Breaker is now open: no further provider calls are issued.
	outcome = tr.Translate(context.Background(), "ai")
	assert.False(t, outcome.IsValid())
	assert.Equal(t, ReasonUnreachable, outcome.Reason())
	assert.Equal(t, callsAfterFirst, provider.calls.Load())
}

func TestTranslate_FillsSearchFromQueryWhenFilterOnly(t *testing.T) {
	provider := &fakeProvider{respond: func(int, string) (string, error) {
		return `{"base_url": "https://api.openalex.org/works", "params": {"filter": "publication_year:2024"}}`, nil
	}}

	outcome := newTestTranslator(t, provider).Translate(context.Background(), "  papers from 2024  ")

	require.True(t, outcome.IsValid())
	assert.Equal(t, "papers from 2024", outcome.Request().Params["search"])
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced with hint", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"hint on own line", "```\njson\n{\"a\":1}\n```", `{"a":1}`},
		{"padded", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StripCodeFence(tc.in))
		})
	}
}
