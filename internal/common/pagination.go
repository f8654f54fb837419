package common

import (
	"net/url"
	"strconv"
	"strings"
)

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
}

// PageParams is a validated page request.
type PageParams struct {
	Page  int
	Limit int
}

// Skip is the offset of the first row of the page.
func (p PageParams) Skip() int {
	return (p.Page - 1) * p.Limit
}

// Meta builds response metadata for a page with total rows.
func (p PageParams) Meta(total int) Pagination {
	return Pagination{Page: p.Page, PerPage: p.Limit, TotalItems: total}
}

// ParsePageParams reads page and limit from the query. Missing values take the
// defaults; invalid or out-of-range values are rejected.
func ParsePageParams(values url.Values, defaultLimit, maxLimit int) (PageParams, error) {
	p := PageParams{Page: 1, Limit: defaultLimit}
	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return PageParams{}, BadRequest("page", "page must be a positive integer", err)
		}
		p.Page = v
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return PageParams{}, BadRequest("limit", "limit must be a positive integer", err)
		}
		if maxLimit > 0 && v > maxLimit {
			return PageParams{}, BadRequest("limit", "limit exceeds maximum", nil)
		}
		p.Limit = v
	}
	return p, nil
}
