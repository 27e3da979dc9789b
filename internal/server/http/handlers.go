package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/paperverse/research-query-service/internal/domain"
	"github.com/paperverse/research-query-service/internal/pipeline"
)

// maxRequestBodySize limits search request bodies to 1 MB.
const maxRequestBodySize = 1 << 20

// searchRequest is the JSON request body for POST /api/v1/search.
// Page and PerPage are pointers so an absent field defaults downstream while
// an explicit zero is rejected.
type searchRequest struct {
	Query   string `json:"query" validate:"required"`
	Page    *int   `json:"page,omitempty" validate:"omitempty,gte=1"`
	PerPage *int   `json:"per_page,omitempty" validate:"omitempty,gte=1,lte=200"`
}

// handleSearch handles POST /api/v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "query is required; page must be >= 1 and per_page between 1 and 200")
		return
	}

	resp, err := s.search.Search(r.Context(), pipeline.Query{
		Text:    req.Query,
		Page:    req.Page,
		PerPage: req.PerPage,
	})
	if err != nil {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusBadRequest, validationErr.Error())
			return
		}
		if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			return
		}
		s.logger.Error().Err(err).Msg("search failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if resp.Degraded && s.surfaceDegraded {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePDF handles GET /api/v1/pdf?work_id=...&doi=...
// It streams the cached PDF on success.
func (s *Server) handlePDF(w http.ResponseWriter, r *http.Request) {
	workID := strings.TrimSpace(r.URL.Query().Get("work_id"))
	doi := strings.TrimSpace(r.URL.Query().Get("doi"))
	if workID == "" && doi == "" {
		writeError(w, http.StatusBadRequest, "work_id or doi is required")
		return
	}

	path, err := s.resolver.Resolve(r.Context(), workID, doi)
	if err != nil {
		if errors.Is(err, domain.ErrNotAvailable) {
			writeError(w, http.StatusNotFound, "no open-access PDF available for this work")
			return
		}
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error().Err(err).Str("work_id", workID).Msg("pdf resolution failed")
		writeError(w, http.StatusBadGateway, "failed to fetch PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}
