package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gymtable/gymtable-backend/internal/validator"
)

// Schedule is the interchange document passed between the extractor, the
// aggregator and the store: {"classes": [...]}.
type Schedule struct {
	Classes []ClassRecord `json:"classes"`
}

// classPayload mirrors ClassRecord with pointer fields so that missing keys
// can be told apart from zero values.
type classPayload struct {
	Date       *string    `json:"date" validate:"required"`
	DayOfWeek  *string    `json:"day_of_week" validate:"required"`
	Timeslot   *string    `json:"timeslot" validate:"required"`
	Activity   *string    `json:"activity" validate:"required"`
	Venue      *string    `json:"venue" validate:"required"`
	ClassType  *string    `json:"class_type" validate:"required"`
	Vacancy    *int       `json:"vacancy" validate:"required"`
	ModifiedAt *time.Time `json:"modified_at"`
}

func (p classPayload) record() ClassRecord {
	rec := ClassRecord{
		Date:      *p.Date,
		DayOfWeek: *p.DayOfWeek,
		Timeslot:  *p.Timeslot,
		Activity:  *p.Activity,
		Venue:     *p.Venue,
		ClassType: *p.ClassType,
		Vacancy:   *p.Vacancy,
	}
	if p.ModifiedAt != nil {
		rec.ModifiedAt = *p.ModifiedAt
	}
	return rec
}

// DecodeSchedule parses an interchange document strictly. Every entry must
// carry all business fields with the right JSON types and pass record
// validation; otherwise a *BatchError listing every bad entry is returned.
// A document without a "classes" key yields ErrNoClasses.
func DecodeSchedule(data []byte) (Schedule, error) {
	var doc struct {
		Classes *[]json.RawMessage `json:"classes"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Schedule{}, fmt.Errorf("decode schedule: %w", err)
	}
	if doc.Classes == nil {
		return Schedule{}, ErrNoClasses
	}

	raw := *doc.Classes
	classes := make([]ClassRecord, 0, len(raw))
	var invalid []*ValidationError

	for i, entry := range raw {
		rec, fields, err := decodeEntry(entry)
		if err != nil {
			fields = decodeFields(err)
		}
		if fields != nil {
			invalid = append(invalid, &ValidationError{Index: i, Fields: fields})
			continue
		}
		classes = append(classes, rec)
	}

	if len(invalid) > 0 {
		return Schedule{}, &BatchError{Errors: invalid}
	}
	return Schedule{Classes: classes}, nil
}

// DecodeRecord parses one class object with the same rules as an entry of
// DecodeSchedule. Malformed JSON is returned as the decoder error; a missing
// or mistyped field gives a *ValidationError.
func DecodeRecord(data []byte) (ClassRecord, error) {
	rec, fields, err := decodeEntry(data)
	if err != nil {
		return ClassRecord{}, fmt.Errorf("decode class: %w", err)
	}
	if fields != nil {
		return ClassRecord{}, &ValidationError{Index: 0, Fields: fields}
	}
	return rec, nil
}

// decodeEntry returns the record, or the invalid fields, or a syntax error.
func decodeEntry(data []byte) (ClassRecord, map[string]string, error) {
	var p classPayload
	if err := json.Unmarshal(data, &p); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return ClassRecord{}, nil, err
		}
		return ClassRecord{}, decodeFields(err), nil
	}
	if fields := validator.Struct(p); fields != nil {
		return ClassRecord{}, fields, nil
	}
	rec := p.record()
	if fields := rec.Validate(); fields != nil {
		return ClassRecord{}, fields, nil
	}
	return rec, nil, nil
}

func decodeFields(err error) map[string]string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return map[string]string{
			typeErr.Field: fmt.Sprintf("%s must be a %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value),
		}
	}
	return map[string]string{"detail": err.Error()}
}
