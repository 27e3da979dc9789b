package domain

import "encoding/json"

// Pagination describes the page position of a search result within the full
// upstream result set.
type Pagination struct {
	// Page is the 1-indexed current page.
	Page int `json:"page"`

	// PerPage is the number of results per page.
	PerPage int `json:"per_page"`

	// TotalCount is the total number of matching works reported upstream.
	TotalCount int `json:"total_count"`

	// NextPage is the next page number, or nil on the last page.
	NextPage *int `json:"next_page"`

	// PrevPage is the previous page number, or nil on the first page.
	PrevPage *int `json:"prev_page"`
}

// ComputePagination derives next/prev page numbers from the upstream total.
// nextPage = page+1 if page*perPage < totalCount, prevPage = page-1 if page > 1.
func ComputePagination(page, perPage, totalCount int) Pagination {
	p := Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalCount: totalCount,
	}
	if page*perPage < totalCount {
		next := page + 1
		p.NextPage = &next
	}
	if page > 1 {
		prev := page - 1
		p.PrevPage = &prev
	}
	return p
}

// SearchResult is the raw upstream payload plus derived pagination. It is
// transient: returned directly to the caller, never persisted.
type SearchResult struct {
	// Raw is the unmodified upstream response body.
	Raw json.RawMessage `json:"raw"`

	// Pagination is computed from the upstream metadata.
	Pagination Pagination `json:"pagination"`
}
