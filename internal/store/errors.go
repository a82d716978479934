package store

import (
	"errors"
	"fmt"

	"rerun-chunkstore/internal/component"
)

var (
	// ErrUnsortedChunk mirrors chunk.ErrUnsortedChunk at the store boundary;
	// re-declared here so callers of this package need not import chunk
	// just to compare errors.
	ErrUnsortedChunk = errors.New("store: chunk row-ids are not non-decreasing")
	// ErrEmptyComponentSet is the one precondition failure a query can
	// raise: every other miss is reported as an empty result, never an
	// error.
	ErrEmptyComponentSet = errors.New("store: query requires a non-empty component set")
)

// TypeMismatchError is returned when a chunk declares a datatype for a
// component identifier that conflicts with a datatype already seen in
// this store for the same identifier.
type TypeMismatchError struct {
	Component component.Identifier
	Expected  component.Datatype
	Got       component.Datatype
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("store: component %q: expected datatype %s, got %s", e.Component, e.Expected, e.Got)
}
