package openalex

import "encoding/json"

// envelope is the works API response envelope. Results are kept as raw JSON
// and passed through to the caller untouched; only meta is interpreted.
type envelope struct {
	Meta    meta            `json:"meta"`
	Results json.RawMessage `json:"results"`
}

// meta is the pagination metadata block of a works response.
type meta struct {
	Count      int    `json:"count"`
	Page       int    `json:"page"`
	PerPage    int    `json:"per_page"`
	NextCursor string `json:"next_cursor,omitempty"`
}
