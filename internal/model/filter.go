package model

import (
	"cmp"
	"slices"
	"strings"
)

// Order selects the sort order of a query result.
type Order int

const (
	// OrderByDate sorts by (date, timeslot, activity).
	OrderByDate Order = iota
	// OrderByTimeslot sorts by (timeslot, date, activity).
	OrderByTimeslot
)

// Filter describes a read query against the store. Zero-valued fields do not
// filter. Activity and DayOfWeek are case-insensitive substring matches.
type Filter struct {
	Date       string
	Activity   string
	DayOfWeek  string
	MinVacancy *int
	Order      Order
}

// Match reports whether r passes every set condition of f.
func (f Filter) Match(r ClassRecord) bool {
	if f.Date != "" && r.Date != f.Date {
		return false
	}
	if f.Activity != "" && !ContainsFold(r.Activity, f.Activity) {
		return false
	}
	if f.DayOfWeek != "" && !ContainsFold(r.DayOfWeek, f.DayOfWeek) {
		return false
	}
	if f.MinVacancy != nil && r.Vacancy < *f.MinVacancy {
		return false
	}
	return true
}

// SortRecords sorts recs in place in the given order.
func SortRecords(recs []ClassRecord, o Order) {
	slices.SortFunc(recs, func(a, b ClassRecord) int {
		if o == OrderByTimeslot {
			return cmp.Or(
				cmp.Compare(a.Timeslot, b.Timeslot),
				cmp.Compare(a.Date, b.Date),
				cmp.Compare(a.Activity, b.Activity),
			)
		}
		return a.Key().Compare(b.Key())
	})
}

// ContainsFold reports whether sub is within s, ignoring Unicode case. Every
// store backend matches Activity and DayOfWeek with these semantics.
func ContainsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
