package service

import (
	"context"
	"fmt"

	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/store"
)

// ClassQuery is the read filter accepted by the query endpoints and the CLI.
// Only one filter applies: date, then activity, then day, then min_vacancy.
type ClassQuery struct {
	Date       string `form:"date" json:"date" binding:"omitempty,datetime=2006-01-02"`
	Activity   string `form:"activity" json:"activity" binding:"omitempty,max=100"`
	Day        string `form:"day" json:"day" binding:"omitempty,max=20"`
	MinVacancy *int   `form:"min_vacancy" json:"min_vacancy" binding:"omitempty,min=0"`
}

// Describe names the filter that Query will apply.
func (q ClassQuery) Describe() string {
	switch {
	case q.Date != "":
		return fmt.Sprintf("date = %s", q.Date)
	case q.Activity != "":
		return fmt.Sprintf("activity contains %q", q.Activity)
	case q.Day != "":
		return fmt.Sprintf("day contains %q", q.Day)
	case q.MinVacancy != nil:
		return fmt.Sprintf("vacancy >= %d", *q.MinVacancy)
	default:
		return "all classes"
	}
}

// ScheduleService handles schedule queries and imports.
type ScheduleService struct {
	store *store.Store
}

// NewScheduleService creates a new ScheduleService.
func NewScheduleService(st *store.Store) *ScheduleService {
	return &ScheduleService{store: st}
}

// Query returns the classes matching the highest-precedence filter of q.
func (s *ScheduleService) Query(ctx context.Context, q ClassQuery) ([]model.ClassRecord, error) {
	switch {
	case q.Date != "":
		return s.store.ByDate(ctx, q.Date)
	case q.Activity != "":
		return s.store.ByActivity(ctx, q.Activity)
	case q.Day != "":
		return s.store.ByDayOfWeek(ctx, q.Day)
	case q.MinVacancy != nil:
		return s.store.WithMinVacancy(ctx, *q.MinVacancy)
	default:
		return s.store.All(ctx)
	}
}

// Summary returns the number of classes per activity, busiest first.
func (s *ScheduleService) Summary(ctx context.Context) ([]model.ActivityCount, error) {
	return s.store.ActivityCounts(ctx)
}

// Import strictly decodes an interchange document and upserts it as one
// batch.
func (s *ScheduleService) Import(ctx context.Context, data []byte) (model.BatchStats, error) {
	sched, err := model.DecodeSchedule(data)
	if err != nil {
		return model.BatchStats{}, err
	}
	return s.store.UpsertBatch(ctx, sched.Classes)
}

// Upsert writes a single record.
func (s *ScheduleService) Upsert(ctx context.Context, rec model.ClassRecord) (model.UpsertResult, error) {
	return s.store.Upsert(ctx, rec)
}
