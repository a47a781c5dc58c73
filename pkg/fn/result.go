// Package fn holds the small generic helpers the pipelines are built from:
// a Result type, composable Stages, retry, and bounded parallel map.
package fn

import (
	"errors"
	"fmt"
)

var errNoCause = errors.New("fn: failed result without a cause")

// Result is a value or the error that prevented it.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a failure. A nil err still produces a failed Result.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = errNoCause
	}
	return Result[T]{err: err}
}

// FromPair turns a (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Failure returns the error, or nil for an Ok result.
func (r Result[T]) Failure() error { return r.err }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// Collect gathers the values of results in order. The first failure is
// returned with its index.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, 0, len(results))
	for i, r := range results {
		if r.err != nil {
			return Err[[]T](fmt.Errorf("item %d: %w", i, r.err))
		}
		out = append(out, r.val)
	}
	return Ok(out)
}
