package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// Rejection reasons reported by the normalizer and the row source.
const (
	ReasonMissingField     = "missing_field"
	ReasonInvalidRating    = "invalid_rating"
	ReasonRatingOutOfRange = "rating_out_of_range"
	ReasonInvalidDate      = "invalid_date"
	ReasonMalformedRecord  = "malformed_record"
)

// ValidationError rejects a single input row. It is never fatal to a load.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
	Value  string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("line %d: %s: %s (%q)", e.Line, e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
}

// SourceUnavailableError means the row source could not be opened or read at all.
type SourceUnavailableError struct {
	Location string
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Location, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// StorageError wraps a backend failure with the operation and key that hit it.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s [%s]: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
