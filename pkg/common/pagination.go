package common

import (
	"net/http"
	"strconv"

	apperrors "github.com/demonfiddler/evidence-engine-sub000/pkg/errors"
)

// Page bounds
const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// PaginationParams represents limit/offset paging
type PaginationParams struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PaginationInfo contains pagination details
type PaginationInfo struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Count   int  `json:"count"`
	HasMore bool `json:"hasMore"`
}

// ExtractPaginationParams reads limit and offset from the query string
func ExtractPaginationParams(r *http.Request) (PaginationParams, error) {
	params := PaginationParams{Limit: DefaultPageSize}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return params, apperrors.NewValidationError("limit must be a non-negative integer")
		}
		params.Limit = min(n, MaxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return params, apperrors.NewValidationError("offset must be a non-negative integer")
		}
		params.Offset = n
	}
	return params, nil
}

// BuildPaginationMeta describes a page of count items. A full page may have more behind it.
func BuildPaginationMeta(p PaginationParams, count int) *PaginationInfo {
	return &PaginationInfo{
		Limit:   p.Limit,
		Offset:  p.Offset,
		Count:   count,
		HasMore: p.Limit > 0 && count == p.Limit,
	}
}
