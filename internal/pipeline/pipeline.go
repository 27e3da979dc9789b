// Package pipeline orchestrates a search from raw query to response:
// validation, AI translation with heuristic fallback, request caching, and
// the upstream fetch. Each invocation is an independent, stateless pass;
// state is shared only through the key pool and the request cache.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/paperverse/research-query-service/internal/cache"
	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/observability"
	"github.com/paperverse/research-query-service/internal/translate"
)

// Query length bounds after trimming.
const (
	MinQueryLen = 3
	MaxQueryLen = 500

	maxPerPage     = 200
	defaultPerPage = 10
)

// Request sources reported in responses and metrics.
const (
	SourceAI       = "ai"
	SourceFallback = "fallback"
)

// Translator converts a free-text query into a structured request outcome.
type Translator interface {
	Translate(ctx context.Context, query string) domain.TranslationOutcome
}

// Searcher executes a structured request against the works API.
type Searcher interface {
	Fetch(ctx context.Context, req domain.StructuredRequest) (*domain.SearchResult, error)
}

// Query is one inbound search invocation. Page and PerPage are optional;
// nil means "not supplied" and an explicit out-of-range value is rejected.
type Query struct {
	Text    string
	Page    *int
	PerPage *int
}

// Response is what the caller always receives: real results, or a clearly
// labeled degraded/empty body. Raw provider errors never appear here.
type Response struct {
	Results    json.RawMessage   `json:"results"`
	Source     string            `json:"source"`
	Degraded   bool              `json:"degraded"`
	Pagination domain.Pagination `json:"pagination"`
}

// Config holds pipeline settings.
type Config struct {
	// CacheTTL is how long cached search results stay fresh.
	CacheTTL time.Duration
}

// Service wires the translator, fallback builder, cache and search client
// into the per-query state machine. Safe for concurrent use.
type Service struct {
	translator Translator
	searcher   Searcher
	cache      *cache.Cache
	cacheTTL   time.Duration
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// New creates the pipeline service. metrics may be nil in tests.
func New(translator Translator, searcher Searcher, c *cache.Cache, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	if c == nil {
		c = cache.New(0)
	}
	return &Service{
		translator: translator,
		searcher:   searcher,
		cache:      c,
		cacheTTL:   ttl,
		metrics:    metrics,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Search runs the full pipeline for one query. The error return is non-nil
// only for input contract violations (ValidationError); upstream failures
// yield a degraded Response instead. Translation is never re-entered once
// fetching begins.
func (s *Service) Search(ctx context.Context, q Query) (*Response, error) {
	text, err := validateQuery(q)
	if err != nil {
		return nil, err
	}

	req, source := s.buildRequest(ctx, text)
	applyPagination(req, q)

	start := time.Now()
	fingerprint := cache.Fingerprint(req)
	if cached, cacheErr := s.cache.Get(fingerprint); cacheErr == nil {
		s.recordCache(true)
		s.recordSearch(source, start)
		return &Response{
			Results:    cached.Raw,
			Source:     source,
			Pagination: cached.Pagination,
		}, nil
	} else if !errors.Is(cacheErr, domain.ErrCacheMiss) {
		// Cache trouble is never fatal; treat as a miss.
		s.logger.Warn().Err(cacheErr).Msg("cache lookup failed")
	}
	s.recordCache(false)

	result, err := s.searcher.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		flog := observability.WithSearchContext(s.logger, text, source)
		flog.Error().
			Err(err).
			Msg("upstream fetch failed, returning degraded response")
		if s.metrics != nil {
			s.metrics.RecordSearchFailed()
		}
		page, perPage := effectivePagination(req)
		return &Response{
			Results:    json.RawMessage("[]"),
			Source:     source,
			Degraded:   true,
			Pagination: domain.ComputePagination(page, perPage, 0),
		}, nil
	}

	s.cache.Put(fingerprint, *result, s.cacheTTL)
	s.recordSearch(source, start)

	return &Response{
		Results:    result.Raw,
		Source:     source,
		Pagination: result.Pagination,
	}, nil
}

// buildRequest translates the query and falls back to the heuristic builder
// on any invalid outcome. A failed translation alone never degrades the
// response.
func (s *Service) buildRequest(ctx context.Context, text string) (domain.StructuredRequest, string) {
	start := time.Now()
	outcome := s.translator.Translate(ctx, text)

	if outcome.IsValid() {
		if s.metrics != nil {
			s.metrics.RecordTranslation("valid", time.Since(start).Seconds())
		}
		return outcome.Request(), SourceAI
	}

	if s.metrics != nil {
		s.metrics.RecordTranslation(outcome.Reason(), time.Since(start).Seconds())
		s.metrics.RecordFallback()
	}
	s.logger.Info().
		Str("reason", outcome.Reason()).
		Msg("translation invalid, building fallback request")
	return translate.BuildFallback(text), SourceFallback
}

// validateQuery enforces the inbound contract. Violations are rejected
// before anything downstream is invoked.
func validateQuery(q Query) (string, error) {
	text := collapseWhitespace(strings.TrimSpace(q.Text))
	if n := utf8.RuneCountInString(text); n < MinQueryLen || n > MaxQueryLen {
		return "", domain.NewValidationError("query",
			"query must be between 3 and 500 characters after trimming")
	}
	if q.Page != nil && *q.Page < 1 {
		return "", domain.NewValidationError("page", "page must be at least 1")
	}
	if q.PerPage != nil && (*q.PerPage < 1 || *q.PerPage > maxPerPage) {
		return "", domain.NewValidationError("per_page", "per_page must be between 1 and 200")
	}
	return text, nil
}

// applyPagination writes caller-supplied pagination over whatever the
// translation produced. The caller's values always win.
func applyPagination(req domain.StructuredRequest, q Query) {
	if q.Page != nil {
		req.Params["page"] = strconv.Itoa(*q.Page)
	} else if req.Params["page"] == "" {
		req.Params["page"] = "1"
	}
	if q.PerPage != nil {
		req.Params["per_page"] = strconv.Itoa(*q.PerPage)
	} else if req.Params["per_page"] == "" {
		req.Params["per_page"] = strconv.Itoa(defaultPerPage)
	}
}

// effectivePagination reads the request's own pagination for degraded
// responses, where no upstream meta is available.
func effectivePagination(req domain.StructuredRequest) (int, int) {
	page := 1
	if v, err := strconv.Atoi(req.Params["page"]); err == nil && v > 0 {
		page = v
	}
	perPage := defaultPerPage
	if v, err := strconv.Atoi(req.Params["per_page"]); err == nil && v > 0 {
		perPage = v
	}
	return page, perPage
}

// collapseWhitespace folds runs of internal whitespace into single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (s *Service) recordCache(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit()
	} else {
		s.metrics.RecordCacheMiss()
	}
}

func (s *Service) recordSearch(source string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSearch(source, time.Since(start).Seconds())
	}
}
