// Package model holds the schedule records shared by the extractor, the
// aggregator and the canonical store.
package model

import (
	"cmp"
	"fmt"
	"time"

	"github.com/gymtable/gymtable-backend/internal/validator"
)

// DateLayout is the canonical form of ClassRecord.Date.
const DateLayout = "2006-01-02"

// ClassRecord is one scheduled class occurrence read off a timetable screenshot.
type ClassRecord struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	DayOfWeek string `json:"day_of_week"`
	Timeslot  string `json:"timeslot" validate:"required"`
	Activity  string `json:"activity" validate:"required"`
	Venue     string `json:"venue"`
	ClassType string `json:"class_type"`
	Vacancy   int    `json:"vacancy" validate:"gte=0"`
	// ModifiedAt is stamped by the store on every write. Values supplied by
	// callers are ignored.
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// Key returns the identity of the occurrence.
func (r ClassRecord) Key() Key {
	return Key{Date: r.Date, Timeslot: r.Timeslot, Activity: r.Activity}
}

// Validate checks the record and returns field → message pairs, or nil.
func (r ClassRecord) Validate() map[string]string {
	return validator.Struct(r)
}

// Key identifies a class occurrence. Two records denote the same occurrence
// iff their keys are equal; Key is comparable and used directly as a map key.
type Key struct {
	Date     string `json:"date"`
	Timeslot string `json:"timeslot"`
	Activity string `json:"activity"`
}

// Compare orders keys by date, then timeslot, then activity.
func (k Key) Compare(o Key) int {
	return cmp.Or(
		cmp.Compare(k.Date, o.Date),
		cmp.Compare(k.Timeslot, o.Timeslot),
		cmp.Compare(k.Activity, o.Activity),
	)
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s %s", k.Date, k.Timeslot, k.Activity)
}

// ActivityCount is one row of the per-activity summary.
type ActivityCount struct {
	Activity string `json:"activity"`
	Count    int    `json:"count"`
}
