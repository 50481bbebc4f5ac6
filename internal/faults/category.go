// Package faults implements the error taxonomy of the processing engine:
// category classification, retryability, pattern aggregation, and the
// recovery-strategy handler that the pipeline consults on every failure.
package faults

import (
	"errors"
	"fmt"
)

// Category is the coarse classification of a processing error.
type Category string

const (
	CategoryFileSystem     Category = "FILE_SYSTEM"
	CategoryDatabase       Category = "DATABASE"
	CategoryNetwork        Category = "NETWORK"
	CategoryExternalSystem Category = "EXTERNAL_SYSTEM"
	CategoryResource       Category = "RESOURCE"
	CategoryApplication    Category = "APPLICATION"
	CategorySecurity       Category = "SECURITY"
	CategoryUnknown        Category = "UNKNOWN"
)

// Retryable reports whether errors of this category may be retried.
func (c Category) Retryable() bool {
	switch c {
	case CategoryFileSystem, CategoryDatabase, CategoryNetwork,
		CategoryExternalSystem, CategoryResource:
		return true
	default:
		return false
	}
}

// categorized wraps an error with an explicit category assignment.
// Processors use Categorize to tag errors at the source; Classify
// honors the tag before falling back to heuristics.
type categorized struct {
	err error
	cat Category
}

func (c *categorized) Error() string { return c.err.Error() }
func (c *categorized) Unwrap() error { return c.err }

// Categorize wraps err with an explicit category. A nil err returns nil.
func Categorize(err error, cat Category) error {
	if err == nil {
		return nil
	}
	return &categorized{err: err, cat: cat}
}

// New creates a categorized error from a format string.
func New(cat Category, format string, args ...any) error {
	return &categorized{err: fmt.Errorf(format, args...), cat: cat}
}

// explicitCategory returns the innermost explicit tag, if any.
func explicitCategory(err error) (Category, bool) {
	var c *categorized
	if errors.As(err, &c) {
		return c.cat, true
	}
	return "", false
}
