package pdf

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/observability"
)

// arXiv identifier patterns. DOIs issued for arXiv preprints embed the id
// (10.48550/arxiv.2301.12345); work identifiers may carry the bare id.
var (
	arxivDOIPattern  = regexp.MustCompile(`arxiv\.(\d{4}\.\d{4,5})`)
	arxivBarePattern = regexp.MustCompile(`\b(\d{4}\.\d{4,5})(?:v\d+)?\b`)
)

// DefaultArxivBaseURL is where arXiv serves rendered PDFs.
const DefaultArxivBaseURL = "https://arxiv.org/pdf"

// ExtractArxivID pulls an arXiv identifier out of a work identifier or DOI.
// Returns the empty string when neither carries one.
func ExtractArxivID(workID, doi string) string {
	if m := arxivDOIPattern.FindStringSubmatch(strings.ToLower(doi)); m != nil {
		return m[1]
	}
	lowered := strings.ToLower(workID)
	if strings.Contains(lowered, "arxiv") {
		if m := arxivBarePattern.FindStringSubmatch(lowered); m != nil {
			return m[1]
		}
	}
	return ""
}

// Resolver maps paper identifiers to locally cached PDF documents.
type Resolver struct {
	store        *Store
	downloader   *Downloader
	arxivBaseURL string
	logger       zerolog.Logger

	// Metrics, when set, receives download and cache hit counts.
	Metrics *observability.Metrics
}

// NewResolver creates a Resolver backed by the given store and downloader.
// arxivBaseURL overrides the default arXiv endpoint; empty keeps the default.
func NewResolver(store *Store, downloader *Downloader, arxivBaseURL string, logger zerolog.Logger) *Resolver {
	if arxivBaseURL == "" {
		arxivBaseURL = DefaultArxivBaseURL
	}
	return &Resolver{
		store:        store,
		downloader:   downloader,
		arxivBaseURL: strings.TrimRight(arxivBaseURL, "/"),
		logger:       logger.With().Str("component", "pdf_resolver").Logger(),
	}
}

// Resolve returns the local path of the PDF for the given work. The cache is
// consulted first; on a miss, identifiers matching the arXiv pattern are
// downloaded and stored. Anything else returns ErrNotAvailable, which is an
// expected outcome and never retried.
func (r *Resolver) Resolve(ctx context.Context, workID, doi string) (string, error) {
	arxivID := ExtractArxivID(workID, doi)
	if arxivID == "" {
		return "", fmt.Errorf("%w: no open repository identifier for %q", domain.ErrNotAvailable, workID)
	}

	if path, ok := r.store.Get(arxivID); ok {
		r.logger.Debug().Str("arxiv_id", arxivID).Msg("pdf cache hit")
		if r.Metrics != nil {
			r.Metrics.RecordPDFCacheHit()
		}
		return path, nil
	}

	result, err := r.downloader.Download(ctx, r.arxivBaseURL+"/"+arxivID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if r.Metrics != nil {
			r.Metrics.RecordPDFDownload("error")
		}
		r.logger.Warn().Err(err).Str("arxiv_id", arxivID).Msg("pdf download failed")
		return "", fmt.Errorf("%w: %s", domain.ErrNotAvailable, arxivID)
	}
	if r.Metrics != nil {
		r.Metrics.RecordPDFDownload("ok")
	}

	path, err := r.store.Put(arxivID, result.Content)
	if err != nil {
		return "", fmt.Errorf("caching pdf %s: %w", arxivID, err)
	}

	r.logger.Info().
		Str("arxiv_id", arxivID).
		Int64("size_bytes", result.SizeBytes).
		Msg("pdf downloaded and cached")
	return path, nil
}
