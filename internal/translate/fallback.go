package translate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paperverse/research-query-service/internal/domain"
)

// yearPattern matches plausible four-digit publication years.
var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// openAccessPattern matches the short open-access tokens as whole words, so
// "board" or "freedom" never trigger the filter.
var openAccessPattern = regexp.MustCompile(`\b(?:oa|free)\b`)

// citedTriggers are phrases that indicate the caller wants influential work.
var citedTriggers = []string{"highly cited", "most cited", "popular", "influential"}

// BuildFallback constructs a heuristic search request directly from the raw
// query. It is a pure function with no I/O, used whenever AI translation is
// unavailable or produced unusable output. For any non-empty input the result
// carries a non-empty search parameter and therefore satisfies the structured
// request invariant.
func BuildFallback(rawQuery string) domain.StructuredRequest {
	req := domain.NewStructuredRequest("")
	lower := strings.ToLower(rawQuery)

	if years := yearPattern.FindAllString(rawQuery, -1); len(years) > 0 {
		req.AppendFilter("publication_year:" + latestYear(years))
	}

	if strings.Contains(lower, "open access") || openAccessPattern.MatchString(lower) {
		req.AppendFilter("is_oa:true")
	}

	for _, trigger := range citedTriggers {
		if strings.Contains(lower, trigger) {
			req.AppendFilter("cited_by_count:>50")
			break
		}
	}

	req.Params["search"] = strings.TrimSpace(rawQuery)
	req.Params["sort"] = "cited_by_count:desc"
	req.Params["select"] = domain.DefaultSelect
	req.Params["per_page"] = strconv.Itoa(defaultPerPage)

	return req
}

// latestYear returns the lexicographically greatest year, which for
// four-digit years is also the numerically greatest.
func latestYear(years []string) string {
	latest := years[0]
	for _, y := range years[1:] {
		if y > latest {
			latest = y
		}
	}
	return latest
}
