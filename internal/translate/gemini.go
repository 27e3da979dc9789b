package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/retry"
)

// Default values for the Gemini provider.
const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"
	defaultGeminiModel   = "gemini-1.5-flash-latest"
	defaultGeminiTimeout = 10 * time.Second
	geminiMaxTokens      = 512
)

// generateRequest is the Gemini generateContent API request body.
type generateRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// geminiContent is a single conversational turn.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// geminiPart is one text fragment within a turn.
type geminiPart struct {
	Text string `json:"text"`
}

// generationConfig controls sampling. Temperature 0 keeps the translation
// deterministic enough to cache.
type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// generateResponse is the Gemini generateContent API response body.
type generateResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// geminiCandidate is one generated completion.
type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// GeminiConfig holds the parameters needed to create a Gemini provider.
// API keys are not part of the config; they come from the key pool per call.
type GeminiConfig struct {
	// Model is the model identifier (e.g., "gemini-1.5-flash-latest").
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// Temperature is the sampling temperature.
	Temperature float64
}

// GeminiProvider implements Provider using the Gemini generateContent API.
type GeminiProvider struct {
	httpClient  *http.Client
	model       string
	baseURL     string
	temperature float64
}

// NewGeminiProvider creates a new Gemini translation provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGeminiTimeout
	}

	return &GeminiProvider{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: cfg.Temperature,
	}
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Complete sends the prompt with the given API key and returns the model's
// text output. Errors are classified: network failures and 5xx/429 responses
// are retryable, other non-2xx responses are permanent.
func (p *GeminiProvider) Complete(ctx context.Context, prompt string, apiKey string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: prompt}},
			},
		},
		GenerationConfig: generationConfig{
			Temperature:     p.temperature,
			TopP:            0.9,
			MaxOutputTokens: geminiMaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, p.model, url.QueryEscape(apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", domain.NewTransientError(p.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.NewTransientError(p.Name(), fmt.Errorf("read response body: %w", err))
	}

	if statusErr := retry.ClassifyStatus(p.Name(), resp.StatusCode, resp.Header, truncate(string(respBody), 200)); statusErr != nil {
		return "", statusErr
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", domain.NewTransientError(p.Name(), fmt.Errorf("unmarshal response: %w", err))
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		// Unexpected envelope; another key often succeeds, so retry.
		return "", domain.NewTransientError(p.Name(), errors.New("response contains no candidates"))
	}

	return genResp.Candidates[0].Content.Parts[0].Text, nil
}

// truncate bounds upstream error messages included in our own errors.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
