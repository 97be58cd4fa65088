package pagination

import (
	"net/url"
	"strconv"

	"admin-starter/internal/common/errors"
)

// Params represents pagination parameters
type Params struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Offset is the row offset of the first item on the page
func (p Params) Offset() int {
	if p.Page < 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// ParseParams reads page and limit from a query string. Page defaults to 1.
// A missing or zero limit, or one above maxLimit, becomes maxLimit.
func ParseParams(q url.Values, maxLimit int) (Params, error) {
	page, err := intParam(q, "page", 1)
	if err != nil {
		return Params{}, err
	}
	if page < 1 {
		page = 1
	}

	limit, err := intParam(q, "limit", 0)
	if err != nil {
		return Params{}, err
	}
	if maxLimit > 0 && (limit == 0 || limit > maxLimit) {
		limit = maxLimit
	}

	return Params{Page: page, Limit: limit}, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.ValidationError(name+" must be a non-negative integer").
			WithCode("type").
			WithContext("field", name)
	}
	return n, nil
}

// CalculateTotalPages calculates the total number of pages. An unbounded
// limit puts everything on one page.
func CalculateTotalPages(totalResults, limit int) int {
	if limit <= 0 {
		return 1
	}
	pages := (totalResults + limit - 1) / limit
	if pages < 1 {
		return 1
	}
	return pages
}
