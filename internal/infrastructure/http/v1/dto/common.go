// Package dto provides Data Transfer Objects for API requests/responses.
package dto

import (
	"wmsledger/internal/core/apperror"
	"wmsledger/internal/core/id"
)

// ListResponse wraps list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewListResponse builds a list response; a nil slice renders as [].
func NewListResponse[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// ParseID parses a required id field.
func ParseID(field, raw string) (id.ID, error) {
	if raw == "" {
		return id.ID{}, apperror.NewValidation(field + " is required").WithDetail("field", field)
	}
	v, err := id.Parse(raw)
	if err != nil {
		return id.ID{}, apperror.NewValidation("invalid " + field + " format").WithDetail("field", field)
	}
	return v, nil
}

// ParseOptionalID parses an optional id field; empty yields nil.
func ParseOptionalID(field, raw string) (*id.ID, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := ParseID(field, raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
