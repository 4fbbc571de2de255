package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/store"
	"modernc.org/sqlite"
)

// sqliteTimeLayout is fixed-width so that modified_at sorts as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// containsFoldFunc is the SQL name of model.ContainsFold on every connection
// opened through the modernc driver.
const containsFoldFunc = "gym_contains_fold"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(containsFoldFunc, 2, containsFold); err != nil {
		panic(fmt.Sprintf("register %s: %v", containsFoldFunc, err))
	}
}

func containsFold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	s, ok1 := sqlText(args[0])
	sub, ok2 := sqlText(args[1])
	if !ok1 || !ok2 {
		return nil, nil
	}
	if model.ContainsFold(s, sub) {
		return int64(1), nil
	}
	return int64(0), nil
}

// sqlText reads a TEXT or BLOB argument. NULL reports false.
func sqlText(v driver.Value) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS gym_classes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		day_of_week TEXT NOT NULL,
		timeslot TEXT NOT NULL,
		activity TEXT NOT NULL,
		venue TEXT NOT NULL,
		class_type TEXT NOT NULL,
		vacancy INTEGER NOT NULL,
		modified_at TEXT NOT NULL,
		UNIQUE (date, timeslot, activity)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_date ON gym_classes (date)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_activity ON gym_classes (activity)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_day_of_week ON gym_classes (day_of_week)`,
	`CREATE INDEX IF NOT EXISTS idx_gym_classes_timeslot ON gym_classes (timeslot)`,
}

// SQLiteClassRepository stores class records in an embedded SQLite file.
type SQLiteClassRepository struct {
	db *sql.DB
}

// NewSQLiteClassRepository creates a new SQLiteClassRepository. The caller
// hands over ownership of db; Close closes it.
func NewSQLiteClassRepository(db *sql.DB) *SQLiteClassRepository {
	return &SQLiteClassRepository{db: db}
}

// EnsureSchema creates the gym_classes table and its indexes if missing.
func (r *SQLiteClassRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Begin starts a write transaction.
func (r *SQLiteClassRepository) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// Find lists records matching f in the requested order.
func (r *SQLiteClassRepository) Find(ctx context.Context, f model.Filter) ([]model.ClassRecord, error) {
	query, args := sqliteDialect.buildFind(f)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	defer rows.Close()

	recs := make([]model.ClassRecord, 0)
	for rows.Next() {
		var (
			rec        model.ClassRecord
			modifiedAt string
		)
		if err := rows.Scan(&rec.Date, &rec.DayOfWeek, &rec.Timeslot, &rec.Activity,
			&rec.Venue, &rec.ClassType, &rec.Vacancy, &modifiedAt); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		if rec.ModifiedAt, err = time.Parse(sqliteTimeLayout, modifiedAt); err != nil {
			return nil, fmt.Errorf("parse modified_at %q: %w", modifiedAt, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ActivityCounts groups records by activity, most frequent first.
func (r *SQLiteClassRepository) ActivityCounts(ctx context.Context) ([]model.ActivityCount, error) {
	rows, err := r.db.QueryContext(ctx, sqliteDialect.countsSQL())
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

// Close closes the underlying database.
func (r *SQLiteClassRepository) Close() error {
	return r.db.Close()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Exists(ctx context.Context, key model.Key) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, sqliteDialect.existsSQL(), key.Date, key.Timeslot, key.Activity).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", key, err)
	}
	return exists, nil
}

func (t *sqliteTx) Put(ctx context.Context, rec model.ClassRecord) error {
	_, err := t.tx.ExecContext(ctx, sqliteDialect.upsertSQL(),
		rec.Date, rec.DayOfWeek, rec.Timeslot, rec.Activity,
		rec.Venue, rec.ClassType, rec.Vacancy,
		rec.ModifiedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Key(), err)
	}
	return nil
}

func (t *sqliteTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
