package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidRecord matches every validation failure of a class record,
// single or batched.
var ErrInvalidRecord = errors.New("invalid class record")

// ErrNoClasses is returned by DecodeSchedule when the document has no
// "classes" key at all.
var ErrNoClasses = errors.New("schedule has no classes key")

// ValidationError describes one invalid entry of a schedule or batch.
type ValidationError struct {
	// Index is the position of the entry in its batch.
	Index  int
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("record %d: %s", e.Index, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// BatchError lists every invalid entry of a rejected batch.
type BatchError struct {
	Errors []*ValidationError
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 1 {
		return "invalid batch: " + e.Errors[0].Error()
	}
	return fmt.Sprintf("invalid batch: %d invalid records, first: %s", len(e.Errors), e.Errors[0].Error())
}

func (e *BatchError) Unwrap() error { return ErrInvalidRecord }

// FieldErrors flattens the batch into "classes[i].field" → message pairs.
func (e *BatchError) FieldErrors() map[string]string {
	out := make(map[string]string)
	for _, ve := range e.Errors {
		for field, msg := range ve.Fields {
			out[fmt.Sprintf("classes[%d].%s", ve.Index, field)] = msg
		}
	}
	return out
}

// ValidateRecords validates every record and returns a *BatchError listing
// all invalid ones, or nil.
func ValidateRecords(recs []ClassRecord) error {
	var invalid []*ValidationError
	for i, rec := range recs {
		if fields := rec.Validate(); fields != nil {
			invalid = append(invalid, &ValidationError{Index: i, Fields: fields})
		}
	}
	if len(invalid) > 0 {
		return &BatchError{Errors: invalid}
	}
	return nil
}
