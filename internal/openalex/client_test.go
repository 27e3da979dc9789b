package openalex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func worksResponse(count, page, perPage int, results string) string {
	body, _ := json.Marshal(map[string]any{
		"meta": map[string]any{
			"count":    count,
			"page":     page,
			"per_page": perPage,
		},
		"results": json.RawMessage(results),
	})
	return string(body)
}

func requestFor(t *testing.T, baseURL string, params map[string]string) domain.StructuredRequest {
	t.Helper()
	req := domain.NewStructuredRequest(baseURL)
	for k, v := range params {
		req.Params[k] = v
	}
	return req
}

func TestFetch_BuildsQueryFromParams(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(worksResponse(2, 1, 25, `[{"id": "W1"}, {"id": "W2"}]`)))
	}))
	defer srv.Close()

	client := New(Config{Mailto: "team@example.org", RetryPolicy: testPolicy()}, zerolog.Nop())
	result, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{
		"search": "quantum computing",
		"filter": "publication_year:2024",
		"sort":   "cited_by_count:desc",
	}))

	require.NoError(t, err)
	assert.Equal(t, []string{"quantum computing"}, gotQuery["search"])
	assert.Equal(t, []string{"publication_year:2024"}, gotQuery["filter"])
	assert.Equal(t, []string{"team@example.org"}, gotQuery["mailto"], "polite pool mailto appended")
	assert.JSONEq(t, `[{"id": "W1"}, {"id": "W2"}]`, string(result.Raw))
	assert.Equal(t, 2, result.Pagination.TotalCount)
}

func TestFetch_ComputesPagination(t *testing.T) {
	cases := []struct {
		name     string
		page     int
		perPage  int
		count    int
		wantNext *int
		wantPrev *int
	}{
		{"first of many", 1, 10, 35, ptr(2), nil},
		{"middle page", 2, 10, 35, ptr(3), ptr(1)},
		{"last page", 4, 10, 35, nil, ptr(3)},
		{"single page", 1, 10, 5, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(worksResponse(tc.count, tc.page, tc.perPage, `[]`)))
			}))
			defer srv.Close()

			client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
			result, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{
				"search":   "ai",
				"page":     itoa(tc.page),
				"per_page": itoa(tc.perPage),
			}))

			require.NoError(t, err)
			assert.Equal(t, tc.wantNext, result.Pagination.NextPage)
			assert.Equal(t, tc.wantPrev, result.Pagination.PrevPage)
			assert.Equal(t, tc.count, result.Pagination.TotalCount)
		})
	}
}

func TestFetch_RequestParamsOverrideMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Upstream echoes different pagination than requested.
		w.Write([]byte(worksResponse(100, 1, 25, `[]`)))
	}))
	defer srv.Close()

	client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
	result, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{
		"search":   "ai",
		"page":     "3",
		"per_page": "10",
	}))

	require.NoError(t, err)
	assert.Equal(t, 3, result.Pagination.Page)
	assert.Equal(t, 10, result.Pagination.PerPage)
	assert.Equal(t, ptr(4), result.Pagination.NextPage)
	assert.Equal(t, ptr(2), result.Pagination.PrevPage)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(worksResponse(1, 1, 25, `[{"id": "W1"}]`)))
	}))
	defer srv.Close()

	client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
	result, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{"search": "ai"}))

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, result.Pagination.TotalCount)
}

func TestFetch_ExhaustionSurfacesUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
	_, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{"search": "ai"}))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestFetch_BadRequestIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "Invalid filter"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
	_, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{"search": "ai"}))

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "permanent errors are not retried")
	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusForbidden, upstream.StatusCode)
}

func TestFetch_MissingResultsBecomesEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta": {"count": 0, "page": 1, "per_page": 25}}`))
	}))
	defer srv.Close()

	client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
	result, err := client.Fetch(context.Background(), requestFor(t, srv.URL, map[string]string{"search": "ai"}))

	require.NoError(t, err)
	assert.Equal(t, "[]", string(result.Raw))
}

func TestFetch_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := New(Config{RetryPolicy: testPolicy()}, zerolog.Nop())
	_, err := client.Fetch(ctx, requestFor(t, srv.URL, map[string]string{"search": "ai"}))

	require.Error(t, err)
}

func TestRateLimiter_AllowConsumesTokens(t *testing.T) {
	rl := NewRateLimiter(1, 1)

	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "burst of one is spent")
}

func ptr(n int) *int { return &n }

func itoa(n int) string { return strconv.Itoa(n) }
