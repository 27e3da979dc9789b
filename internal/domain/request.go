// Package domain defines the core types shared across the research query service.
package domain

import "strings"

// DefaultWorksURL is the bibliographic works endpoint used when a translation
// omits the base URL.
const DefaultWorksURL = "https://api.openalex.org/works"

// DefaultSelect is the field projection requested from the works API when the
// translation does not ask for one.
const DefaultSelect = "id,title,display_name,publication_year,cited_by_count,primary_location,open_access,doi"

// ParamWhitelist is the fixed set of parameter names permitted in any outbound
// structured request. No other key may ever reach the search client.
var ParamWhitelist = map[string]struct{}{
	"search":   {},
	"filter":   {},
	"sort":     {},
	"per_page": {},
	"page":     {},
	"select":   {},
	"cursor":   {},
	"group_by": {},
}

// IsWhitelistedParam reports whether name is an allowed request parameter.
func IsWhitelistedParam(name string) bool {
	_, ok := ParamWhitelist[name]
	return ok
}

// StructuredRequest is a fully sanitized request against the bibliographic
// search API. Params keys are always a subset of ParamWhitelist.
type StructuredRequest struct {
	// BaseURL is the endpoint the request targets.
	BaseURL string

	// Params holds the query parameters, keyed by whitelisted name.
	Params map[string]string
}

// NewStructuredRequest creates an empty request against the given base URL,
// falling back to DefaultWorksURL when baseURL is empty.
func NewStructuredRequest(baseURL string) StructuredRequest {
	if baseURL == "" {
		baseURL = DefaultWorksURL
	}
	return StructuredRequest{
		BaseURL: baseURL,
		Params:  make(map[string]string),
	}
}

// Valid reports whether the request satisfies the core invariant:
// a non-empty search or filter parameter.
func (r StructuredRequest) Valid() bool {
	return strings.TrimSpace(r.Params["search"]) != "" || strings.TrimSpace(r.Params["filter"]) != ""
}

// AppendFilter adds a fragment to the comma-joined filter parameter.
func (r StructuredRequest) AppendFilter(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	if existing := r.Params["filter"]; existing != "" {
		r.Params["filter"] = existing + "," + fragment
	} else {
		r.Params["filter"] = fragment
	}
}

// Clone returns a deep copy of the request. Outcomes hand out clones so the
// original translation is never mutated after it is produced.
func (r StructuredRequest) Clone() StructuredRequest {
	params := make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	return StructuredRequest{BaseURL: r.BaseURL, Params: params}
}

// TranslationOutcome is the result of one translator invocation. Exactly one
// of the two variants applies: a valid request, or an invalid outcome with a
// diagnostic reason. Outcomes are immutable once produced.
type TranslationOutcome struct {
	request *StructuredRequest
	reason  string

	// DroppedKeys records parameters the sanitizer discarded, for diagnostics.
	DroppedKeys []string
}

// ValidOutcome wraps a sanitized request in a valid outcome.
func ValidOutcome(req StructuredRequest, dropped []string) TranslationOutcome {
	return TranslationOutcome{request: &req, DroppedKeys: dropped}
}

// InvalidOutcome produces an invalid outcome with the given reason.
func InvalidOutcome(reason string) TranslationOutcome {
	return TranslationOutcome{reason: reason}
}

// IsValid reports whether the outcome carries a usable request.
func (o TranslationOutcome) IsValid() bool {
	return o.request != nil
}

// Request returns a copy of the translated request. It panics if the outcome
// is invalid; callers must check IsValid first.
func (o TranslationOutcome) Request() StructuredRequest {
	if o.request == nil {
		panic("domain: Request called on invalid TranslationOutcome")
	}
	return o.request.Clone()
}

// Reason returns the diagnostic reason for an invalid outcome, or "" when valid.
func (o TranslationOutcome) Reason() string {
	return o.reason
}
