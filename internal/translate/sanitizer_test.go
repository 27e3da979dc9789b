package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperverse/research-query-service/internal/domain"
)

func TestSanitize_WhitelistedKeysPassThrough(t *testing.T) {
	req, dropped := Sanitize("", map[string]any{
		"search":   "quantum computing",
		"sort":     "cited_by_count:desc",
		"per_page": float64(25),
		"page":     float64(2),
	})

	assert.Empty(t, dropped)
	assert.Equal(t, "quantum computing", req.Params["search"])
	assert.Equal(t, "cited_by_count:desc", req.Params["sort"])
	assert.Equal(t, "25", req.Params["per_page"])
	assert.Equal(t, "2", req.Params["page"])
	assert.Equal(t, domain.DefaultWorksURL, req.BaseURL)
}

func TestSanitize_OutputKeysAlwaysSubsetOfWhitelist(t *testing.T) {
	req, _ := Sanitize("", map[string]any{
		"search":           "ai",
		"publication_year": float64(2024),
		"author_name":      "smith",
		"concepts":         []any{"nlp"},
		"limit":            float64(5),
	})

	for key := range req.Params {
		assert.True(t, domain.IsWhitelistedParam(key), "non-whitelisted key %q reached the output", key)
	}
}

func TestSanitize_FoldsKnownKeysIntoFilter(t *testing.T) {
	req, dropped := Sanitize("", map[string]any{
		"publication_year": float64(2024),
	})

	assert.Equal(t, "publication_year:2024", req.Params["filter"])
	assert.NotContains(t, req.Params, "publication_year")
	assert.Equal(t, []string{"publication_year"}, dropped)
}

func TestSanitize_FoldedKeysAppendToExistingFilter(t *testing.T) {
	req, dropped := Sanitize("", map[string]any{
		"filter":         "is_oa:true",
		"cited_by_count": ">50",
	})

	assert.Equal(t, "is_oa:true,cited_by_count:>50", req.Params["filter"])
	assert.Equal(t, []string{"cited_by_count"}, dropped)
}

func TestSanitize_FlattensFilterObject(t *testing.T) {
	req, _ := Sanitize("", map[string]any{
		"search": "crispr",
		"filter": map[string]any{
			"publication_year":      float64(2023),
			"is_oa":                 true,
			"concepts.display_name": "Biology",
		},
	})

	assert.Equal(t, "is_oa:true,publication_year:2023", req.Params["filter"])
}

func TestSanitize_DropsConceptFragmentsFromFilterString(t *testing.T) {
	req, _ := Sanitize("", map[string]any{
		"search": "crispr",
		"filter": "concepts.display_name:Biology,publication_year:2023, ,cited_by_count:>10",
	})

	assert.Equal(t, "publication_year:2023,cited_by_count:>10", req.Params["filter"])
}

func TestSanitize_RecordsUnrecognizedKeys(t *testing.T) {
	_, dropped := Sanitize("", map[string]any{
		"search":  "ai",
		"authors": "smith",
		"venue":   "nature",
	})

	assert.Equal(t, []string{"authors", "venue"}, dropped)
}

func TestSanitize_ClampsPerPage(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"above max", float64(500), "200"},
		{"below min", float64(0), "1"},
		{"in range", float64(50), "50"},
		{"unparsable", "lots", "10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := Sanitize("", map[string]any{"search": "x", "per_page": tc.in})
			assert.Equal(t, tc.want, req.Params["per_page"])
		})
	}
}

func TestSanitize_EmptyInputYieldsEmptyRequest(t *testing.T) {
	req, dropped := Sanitize("", map[string]any{})

	require.NotNil(t, req.Params)
	assert.Empty(t, dropped)
	// Structurally sound, but the caller must treat it as an invalid
	// translation: no search, no filter.
	assert.False(t, req.Valid())
}

func TestSanitize_NeverPanicsOnOddValues(t *testing.T) {
	assert.NotPanics(t, func() {
		Sanitize("", map[string]any{
			"search":   nil,
			"filter":   []any{"not", "a", "filter"},
			"sort":     map[string]any{"by": "year"},
			"per_page": true,
		})
	})
}

func TestSanitize_CustomBaseURL(t *testing.T) {
	req, _ := Sanitize("https://api.openalex.org/authors", map[string]any{"search": "x"})
	assert.Equal(t, "https://api.openalex.org/authors", req.BaseURL)
}
