// Package translate turns free-text research queries into structured requests
// against the bibliographic search API, using an external AI provider as an
// untrusted collaborator. Translation failures never escape this package: the
// caller receives either a valid sanitized request or an Invalid outcome and
// decides whether to fall back.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/keypool"
	"github.com/paperverse/research-query-service/internal/retry"
)

// Invalid-outcome reasons reported for diagnostics.
const (
	// ReasonUnreachable is reported when the provider could not be reached
	// after all attempts, or the circuit breaker is open.
	ReasonUnreachable = "provider_unreachable"
	// ReasonUnparsable is reported when the provider's output is not the
	// requested JSON.
	ReasonUnparsable = "unparsable_output"
	// ReasonMissingFields is reported when the JSON lacks base_url or params.
	ReasonMissingFields = "missing_fields"
	// ReasonEmptyRequest is reported when sanitization leaves neither a
	// search nor a filter parameter.
	ReasonEmptyRequest = "empty_request"
	// ReasonProviderRejected is reported on permanent provider errors
	// (invalid key, bad request).
	ReasonProviderRejected = "provider_rejected"
)

// systemInstruction is the strict JSON-only instruction sent with every query.
const systemInstruction = "You translate natural language research questions into bibliographic works API calls. " +
	"Always respond with JSON only, no prose, containing base_url (string) and params (object). " +
	"Valid params keys are ONLY: search, filter, sort, per_page, page, select, cursor, group_by. " +
	"Use 'search' for keywords and topics. Use 'filter' for constraints as a comma-separated string. " +
	"Filter syntax examples: 'publication_year:2024', 'publication_year:2020-2023', 'cited_by_count:>50'. " +
	"Combine filters with commas: 'publication_year:2024,cited_by_count:>100'. " +
	"Do NOT emit publication_year as a separate parameter; it belongs inside the filter string. " +
	"Sort format: 'cited_by_count:desc' or 'publication_date:desc'. " +
	"Always include a 'search' parameter for the main topic."

// Provider performs a single completion call against the AI service using
// one credential. Implementations classify failures with the domain error
// taxonomy so the retry controller can tell transient from permanent.
type Provider interface {
	// Complete sends the prompt and returns the model's raw text output.
	Complete(ctx context.Context, prompt string, apiKey string) (string, error)

	// Name returns the provider name for logging and error context.
	Name() string
}

// Config holds translator settings.
type Config struct {
	// MaxAttempts bounds translation attempts; the effective bound is
	// min(MaxAttempts, pool size).
	MaxAttempts int

	// RetryPolicy shapes the backoff between attempts.
	RetryPolicy retry.Policy

	// BreakerConsecutiveFailures is the consecutive-failure count that opens
	// the circuit. Zero disables the breaker.
	BreakerConsecutiveFailures uint32

	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration
}

// Translator orchestrates provider calls, key rotation, output parsing and
// sanitization into a single TranslationOutcome per invocation.
type Translator struct {
	provider Provider
	pool     *keypool.Pool
	policy   retry.Policy
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger

	// OnRotate, when set, is invoked after each credential rotation.
	OnRotate func()
}

// New creates a Translator. The retry policy is bounded by the key pool size
// so every attempt can use a distinct credential.
func New(provider Provider, pool *keypool.Pool, cfg Config, logger zerolog.Logger) *Translator {
	policy := cfg.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	policy = policy.Bounded(pool.Size())

	t := &Translator{
		provider: provider,
		pool:     pool,
		policy:   policy,
		logger:   logger.With().Str("component", "translator").Logger(),
	}

	if cfg.BreakerConsecutiveFailures > 0 {
		cooldown := cfg.BreakerCooldown
		if cooldown == 0 {
			cooldown = 30 * time.Second
		}
		t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    provider.Name(),
			Timeout: cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerConsecutiveFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				t.logger.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("translation provider breaker state changed")
			},
		})
	}

	return t
}

// translation is the JSON document the provider is instructed to return.
type translation struct {
	BaseURL string         `json:"base_url"`
	Params  map[string]any `json:"params"`
}

// Translate converts the query into a TranslationOutcome. It never returns an
// error: provider unavailability, malformed output and empty sanitizer results
// all collapse into Invalid outcomes the pipeline resolves via the fallback
// builder.
func (t *Translator) Translate(ctx context.Context, query string) domain.TranslationOutcome {
	prompt := buildPrompt(query)

	raw, err := retry.Do(ctx, t.policy, func(ctx context.Context) (string, error) {
		cred := t.pool.Current()
		out, callErr := t.complete(ctx, prompt, cred.Key)
		if callErr != nil {
			if errors.Is(callErr, domain.ErrRateLimited) {
				t.pool.MarkExhausted(cred.Key)
			}
			return "", callErr
		}
		t.pool.MarkHealthy(cred.Key)
		return out, nil
	}, func(attempt int, attemptErr error) {
		t.pool.Rotate()
		if t.OnRotate != nil {
			t.OnRotate()
		}
		t.logger.Debug().
			Int("attempt", attempt).
			Err(attemptErr).
			Msg("rotating credential before retry")
	})
	if err != nil {
		return t.invalid(query, classifyFailure(err), err)
	}

	parsed, reason := parseTranslation(raw)
	if reason != "" {
		return t.invalid(query, reason, nil)
	}

	req, dropped := Sanitize(parsed.BaseURL, parsed.Params)
	if !req.Valid() {
		return t.invalid(query, ReasonEmptyRequest, nil)
	}

	if req.Params["search"] == "" {
		req.Params["search"] = strings.TrimSpace(query)
	}
	if req.Params["select"] == "" {
		req.Params["select"] = domain.DefaultSelect
	}

	if len(dropped) > 0 {
		t.logger.Debug().Strs("dropped_keys", dropped).Msg("sanitizer dropped parameters")
	}
	return domain.ValidOutcome(req, dropped)
}

// complete runs one provider call, through the circuit breaker when enabled.
func (t *Translator) complete(ctx context.Context, prompt, apiKey string) (string, error) {
	if t.breaker == nil {
		return t.provider.Complete(ctx, prompt, apiKey)
	}

	out, err := t.breaker.Execute(func() (interface{}, error) {
		return t.provider.Complete(ctx, prompt, apiKey)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", domain.NewUpstreamError(t.provider.Name(), 0, "circuit breaker open", err)
		}
		return "", err
	}
	return out.(string), nil
}

func (t *Translator) invalid(query, reason string, err error) domain.TranslationOutcome {
	evt := t.logger.Warn().Str("reason", reason)
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Str("query", query).Msg("translation failed, caller should fall back")
	return domain.InvalidOutcome(reason)
}

// classifyFailure maps a retry or provider error to an outcome reason.
func classifyFailure(err error) string {
	if errors.Is(err, domain.ErrUpstreamUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return ReasonUnreachable
	}
	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) && upstream.StatusCode == 0 {
		// Breaker open: no request was issued.
		return ReasonUnreachable
	}
	return ReasonProviderRejected
}

// buildPrompt assembles the full prompt: system instruction, a worked
// example, and the user's request.
func buildPrompt(query string) string {
	return systemInstruction +
		"\n\nTurn the following request into a works API call and return only the JSON object. " +
		`Example: {"base_url": "` + domain.DefaultWorksURL + `", "params": {"search": "quantum computing", "filter": "publication_year:2024", "sort": "cited_by_count:desc"}}.` +
		"\n\nRequest: " + query
}

// parseTranslation strips code fences and decodes the provider output.
// It returns a non-empty reason string on failure.
func parseTranslation(raw string) (translation, string) {
	var parsed translation
	payload := StripCodeFence(raw)

	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return translation{}, ReasonUnparsable
	}
	if parsed.BaseURL == "" || parsed.Params == nil {
		return translation{}, ReasonMissingFields
	}
	return parsed, ""
}

// StripCodeFence removes surrounding Markdown fences and an optional language
// hint from the model output. Providers routinely wrap JSON in ```json blocks
// despite instructions not to.
func StripCodeFence(raw string) string {
	stripped := strings.TrimSpace(raw)
	if !strings.HasPrefix(stripped, "```") {
		return stripped
	}

	lines := strings.Split(stripped, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.ToLower(strings.TrimSpace(lines[0])), "json") {
		lines = lines[1:]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
