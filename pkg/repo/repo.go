// Package repo maps one Neo4j node label onto a Go type and provides the
// common reads and deletes over it.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no node has the requested key.
var ErrNotFound = errors.New("repo: not found")

// Repository reads and removes entities by id.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts pages a List. OrderBy names a node property; a leading "-"
// sorts descending.
type ListOpts struct {
	Offset  int
	Limit   int
	OrderBy string
}

// Schema describes how T is stored as node properties.
type Schema[T any] struct {
	Label  string
	Key    string // unique property holding the id; default "id"
	Encode func(T) map[string]any
	Decode func(props map[string]any) (T, error)
}
