package repository

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPostgresDialectFind(t *testing.T) {
	three := 3
	query, args := postgresDialect.buildFind(model.Filter{
		Activity:   "50%",
		MinVacancy: &three,
		Order:      model.OrderByTimeslot,
	})

	for _, want := range []string{
		`activity ILIKE $1 ESCAPE '\'`,
		"vacancy >= $2",
		`ORDER BY timeslot COLLATE "C", date COLLATE "C", activity COLLATE "C"`,
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query %q does not contain %q", query, want)
		}
	}
	if len(args) != 2 || args[0] != `%50\%%` || args[1] != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestSQLiteDialectFind(t *testing.T) {
	query, args := sqliteDialect.buildFind(model.Filter{})
	if strings.Contains(query, "WHERE") {
		t.Errorf("unfiltered query has WHERE: %q", query)
	}
	if !strings.HasSuffix(query, "ORDER BY date, timeslot, activity") {
		t.Errorf("query = %q", query)
	}
	if len(args) != 0 {
		t.Errorf("args = %v, want none", args)
	}

	query, args = sqliteDialect.buildFind(model.Filter{DayOfWeek: "50%"})
	if !strings.Contains(query, "WHERE gym_contains_fold(day_of_week, ?)") {
		t.Errorf("query = %q", query)
	}
	if len(args) != 1 || args[0] != "50%" {
		t.Errorf("args = %v, want the raw substring", args)
	}
}

// TestPostgresStore runs against a live database when TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	repo := NewPostgresClassRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("schema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE gym_classes`); err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}

	s := store.New(repo)
	defer s.Close()

	stats, err := s.UpsertBatch(ctx, []model.ClassRecord{
		rec("2024-01-16", "Tuesday", "10:00-11:00", "Yoga", 5),
		rec("2024-01-15", "Monday", "10:00-11:00", "Yoga", 5),
		rec("2024-01-15", "Monday", "10:00-11:00", "Yoga", 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats != (model.BatchStats{Inserted: 2, Updated: 1}) {
		t.Errorf("stats = %+v, want {2 1}", stats)
	}

	all, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Date != "2024-01-15" || all[0].Vacancy != 2 {
		t.Errorf("All = %+v", all)
	}
	if time.Since(all[0].ModifiedAt) > time.Minute {
		t.Errorf("modified_at = %v, want recent", all[0].ModifiedAt)
	}

	got, err := s.ByActivity(ctx, "YOGA")
	if err != nil || len(got) != 2 {
		t.Errorf("ByActivity = %+v, %v", got, err)
	}

	got, err = s.WithMinVacancy(ctx, 3)
	if err != nil || len(got) != 1 || got[0].Date != "2024-01-16" {
		t.Errorf("WithMinVacancy(3) = %+v, %v", got, err)
	}
}
