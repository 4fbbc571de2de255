package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS gym_classes (
		id BIGSERIAL PRIMARY KEY,
		date TEXT NOT NULL,
		day_of_week TEXT NOT NULL,
		timeslot TEXT NOT NULL,
		activity TEXT NOT NULL,
		venue TEXT NOT NULL,
		class_type TEXT NOT NULL,
		vacancy INTEGER NOT NULL CHECK (vacancy >= 0),
		modified_at TIMESTAMPTZ NOT NULL,
		UNIQUE (date, timeslot, activity)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_date ON gym_classes (date)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_activity ON gym_classes (activity)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_day_of_week ON gym_classes (day_of_week)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_timeslot ON gym_classes (timeslot)`,
}

// PostgresClassRepository stores class records in PostgreSQL.
type PostgresClassRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresClassRepository creates a new PostgresClassRepository.
func NewPostgresClassRepository(pool *pgxpool.Pool) *PostgresClassRepository {
	return &PostgresClassRepository{pool: pool}
}

// EnsureSchema creates the gym_classes table and its indexes if missing.
func (r *PostgresClassRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresClassRepository) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

func (r *PostgresClassRepository) Find(ctx context.Context, f model.Filter) ([]model.ClassRecord, error) {
	query, args := postgresDialect.buildFind(f)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	recs := make([]model.ClassRecord, 0)
	for rows.Next() {
		var rec model.ClassRecord
		if err := rows.Scan(&rec.Date, &rec.DayOfWeek, &rec.Timeslot, &rec.Activity,
			&rec.Venue, &rec.ClassType, &rec.Vacancy, &rec.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		rec.ModifiedAt = rec.ModifiedAt.UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *PostgresClassRepository) ActivityCounts(ctx context.Context) ([]model.ActivityCount, error) {
	rows, err := r.pool.Query(ctx, postgresDialect.countsSQL())
	if err != nil {
		return nil, fmt.Errorf("query activity counts: %w", err)
	}
	defer rows.Close()

	counts := make([]model.ActivityCount, 0)
	for rows.Next() {
		var c model.ActivityCount
		if err := rows.Scan(&c.Activity, &c.Count); err != nil {
			return nil, fmt.Errorf("scan activity count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Close closes the pool.
func (r *PostgresClassRepository) Close() error {
	r.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Exists(ctx context.Context, key model.Key) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, postgresDialect.existsSQL(), key.Date, key.Timeslot, key.Activity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return exists, nil
}

func (t *postgresTx) Put(ctx context.Context, rec model.ClassRecord) error {
	_, err := t.tx.Exec(ctx, postgresDialect.upsertSQL(),
		rec.Date, rec.DayOfWeek, rec.Timeslot, rec.Activity,
		rec.Venue, rec.ClassType, rec.Vacancy, rec.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
