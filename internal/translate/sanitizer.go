package translate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/paperverse/research-query-service/internal/domain"
)

// Per-page bounds enforced on translated requests. Values outside the range
// are clamped rather than rejected; the model frequently hallucinates sizes.
const (
	minPerPage     = 1
	maxPerPage     = 200
	defaultPerPage = 10
)

// filterableKeys maps recognized non-whitelisted parameters to filter
// fragments. The model tends to emit these as top-level params even though
// the works API only accepts them inside the filter string.
var filterableKeys = map[string]struct{}{
	"publication_year":      {},
	"cited_by_count":        {},
	"is_oa":                 {},
	"from_publication_date": {},
	"to_publication_date":   {},
	"type":                  {},
}

// Sanitize validates and cleans raw translated parameters against the
// whitelist. Whitelisted keys pass through coerced to strings; recognized
// filterable keys are folded into the filter parameter as key:value fragments;
// everything else is dropped and recorded for diagnostics. Sanitize never
// fails: an empty input yields an empty (still structurally valid) request
// that the caller must treat as an invalid translation.
func Sanitize(baseURL string, raw map[string]any) (domain.StructuredRequest, []string) {
	req := domain.NewStructuredRequest(baseURL)
	var dropped []string

	// Deterministic processing order: whitelisted keys first so folded
	// fragments always append after any model-provided filter string.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]
		switch {
		case key == "filter":
			if f := flattenFilter(value); f != "" {
				req.Params["filter"] = f
			}
		case domain.IsWhitelistedParam(key):
			if s := coerceString(value); s != "" {
				req.Params[key] = s
			}
		}
	}

	for _, key := range keys {
		if _, ok := filterableKeys[key]; !ok {
			continue
		}
		if s := coerceString(raw[key]); s != "" {
			req.AppendFilter(key + ":" + s)
		}
		dropped = append(dropped, key)
	}

	for _, key := range keys {
		if key == "filter" || domain.IsWhitelistedParam(key) {
			continue
		}
		if _, ok := filterableKeys[key]; ok {
			continue
		}
		dropped = append(dropped, key)
	}

	clampPerPage(req.Params)

	sort.Strings(dropped)
	return req, dropped
}

// flattenFilter normalizes the filter value the model produced: an object
// becomes comma-joined key:value fragments, a string is cleaned fragment by
// fragment. Fragments for concepts.display_name are discarded; the works API
// does not support that filter and the search term already covers it.
func flattenFilter(value any) string {
	var parts []string

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "concepts.display_name" || v[k] == nil {
				continue
			}
			if s := coerceString(v[k]); s != "" {
				parts = append(parts, k+":"+s)
			}
		}
	case string:
		for _, segment := range strings.Split(v, ",") {
			piece := strings.TrimSpace(segment)
			if piece == "" || strings.HasPrefix(piece, "concepts.display_name:") {
				continue
			}
			parts = append(parts, piece)
		}
	}

	return strings.Join(parts, ",")
}

// coerceString converts a JSON-decoded scalar to its parameter string form.
// Non-scalar values coerce to "" and end up dropped.
func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// clampPerPage bounds per_page to the API limit, defaulting when unparsable.
func clampPerPage(params map[string]string) {
	raw, ok := params["per_page"]
	if !ok {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		params["per_page"] = strconv.Itoa(defaultPerPage)
		return
	}
	if n < minPerPage {
		n = minPerPage
	}
	if n > maxPerPage {
		n = maxPerPage
	}
	params["per_page"] = strconv.Itoa(n)
}
