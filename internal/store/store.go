// Package store implements the canonical class store: at most one record per
// (date, timeslot, activity), last write wins, plus the read queries.
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/rs/zerolog"
)

// Backend persists class records. Implementations must order Find results
// as requested by the filter and match substrings case-insensitively.
type Backend interface {
	Begin(ctx context.Context) (Tx, error)
	Find(ctx context.Context, f model.Filter) ([]model.ClassRecord, error)
	Close() error
}

// Tx is a write transaction. Exists must observe earlier Puts of the same Tx.
type Tx interface {
	Exists(ctx context.Context, key model.Key) (bool, error)
	Put(ctx context.Context, rec model.ClassRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// activityCounter is implemented by backends that can aggregate natively.
type activityCounter interface {
	ActivityCounts(ctx context.Context) ([]model.ActivityCount, error)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for modified_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for write summaries.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log.With().Str("component", "store").Logger() }
}

// Store is the canonical, deduplicated set of class records.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	closed  bool
	now     func() time.Time
	last    time.Time
	log     zerolog.Logger
}

// New wraps backend in an open Store. The Store owns backend from now on.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert inserts rec or replaces the stored record with the same key.
func (s *Store) Upsert(ctx context.Context, rec model.ClassRecord) (model.UpsertResult, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	if fields := rec.Validate(); fields != nil {
		return 0, &model.ValidationError{Index: 0, Fields: fields}
	}

	var result model.UpsertResult
	_, err := s.apply(ctx, []model.ClassRecord{rec}, func(r model.UpsertResult) { result = r })
	if err != nil {
		return 0, err
	}
	return result, nil
}

// UpsertBatch applies recs in order inside one transaction. A batch holding
// any invalid record is rejected as a whole with a *model.BatchError and
// leaves the store untouched.
func (s *Store) UpsertBatch(ctx context.Context, recs []model.ClassRecord) (model.BatchStats, error) {
	if s.isClosed() {
		return model.BatchStats{}, ErrClosed
	}
	if err := model.ValidateRecords(recs); err != nil {
		return model.BatchStats{}, err
	}
	return s.apply(ctx, recs, nil)
}

// isClosed is a fast path so that a closed store reports ErrClosed ahead of
// validation errors. apply checks again under the write lock.
func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) apply(ctx context.Context, recs []model.ClassRecord, each func(model.UpsertResult)) (model.BatchStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats model.BatchStats
	if s.closed {
		return stats, ErrClosed
	}
	if len(recs) == 0 {
		return stats, nil
	}

	tx, err := s.backend.Begin(ctx)
	if err != nil {
		return stats, resourceErr("begin", err)
	}

	stamp := s.stamp()
	for _, rec := range recs {
		exists, err := tx.Exists(ctx, rec.Key())
		if err != nil {
			_ = tx.Rollback(ctx)
			return model.BatchStats{}, resourceErr("lookup", err)
		}

		rec.ModifiedAt = stamp
		if err := tx.Put(ctx, rec); err != nil {
			_ = tx.Rollback(ctx)
			return model.BatchStats{}, resourceErr("write", err)
		}

		result := model.Inserted
		if exists {
			result = model.Updated
		}
		stats.Add(result)
		if each != nil {
			each(result)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return model.BatchStats{}, resourceErr("commit", err)
	}
	s.last = stamp

	s.log.Debug().
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Msg("Batch applied")

	return stats, nil
}

// stamp returns the write time: UTC, microsecond precision, never earlier
// than the previous committed write.
func (s *Store) stamp() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if t.Before(s.last) {
		return s.last
	}
	return t
}

// All returns every record ordered by date, then timeslot.
func (s *Store) All(ctx context.Context) ([]model.ClassRecord, error) {
	return s.find(ctx, model.Filter{})
}

// ByDate returns the records of one date ordered by timeslot.
func (s *Store) ByDate(ctx context.Context, date string) ([]model.ClassRecord, error) {
	return s.find(ctx, model.Filter{Date: date})
}

// ByActivity returns records whose activity contains sub, ignoring case.
func (s *Store) ByActivity(ctx context.Context, sub string) ([]model.ClassRecord, error) {
	return s.find(ctx, model.Filter{Activity: sub})
}

// ByDayOfWeek returns records whose day_of_week contains sub, ignoring case,
// ordered by timeslot.
func (s *Store) ByDayOfWeek(ctx context.Context, sub string) ([]model.ClassRecord, error) {
	return s.find(ctx, model.Filter{DayOfWeek: sub, Order: model.OrderByTimeslot})
}

// WithMinVacancy returns records with at least n open spots.
func (s *Store) WithMinVacancy(ctx context.Context, n int) ([]model.ClassRecord, error) {
	return s.find(ctx, model.Filter{MinVacancy: &n})
}

// Find runs an arbitrary filter. The named query methods cover the usual cases.
func (s *Store) Find(ctx context.Context, f model.Filter) ([]model.ClassRecord, error) {
	return s.find(ctx, f)
}

func (s *Store) find(ctx context.Context, f model.Filter) ([]model.ClassRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	recs, err := s.backend.Find(ctx, f)
	if err != nil {
		return nil, resourceErr("find", err)
	}
	if recs == nil {
		recs = []model.ClassRecord{}
	}
	return recs, nil
}

// ActivityCounts returns how many classes each activity has, most frequent
// first and ties by name.
func (s *Store) ActivityCounts(ctx context.Context) ([]model.ActivityCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	if c, ok := s.backend.(activityCounter); ok {
		counts, err := c.ActivityCounts(ctx)
		if err != nil {
			return nil, resourceErr("count", err)
		}
		if counts == nil {
			counts = []model.ActivityCount{}
		}
		return counts, nil
	}

	recs, err := s.backend.Find(ctx, model.Filter{})
	if err != nil {
		return nil, resourceErr("count", err)
	}
	return CountActivities(recs), nil
}

// CountActivities tallies recs per activity in summary order.
func CountActivities(recs []model.ClassRecord) []model.ActivityCount {
	byName := make(map[string]int)
	for _, r := range recs {
		byName[r.Activity]++
	}

	counts := make([]model.ActivityCount, 0, len(byName))
	for name, n := range byName {
		counts = append(counts, model.ActivityCount{Activity: name, Count: n})
	}
	slices.SortFunc(counts, func(a, b model.ActivityCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Activity, b.Activity))
	})
	return counts
}

// Close releases the backend. Further operations return ErrClosed; calling
// Close again is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.backend.Close(); err != nil {
		return resourceErr("close", err)
	}
	return nil
}
