package repository

import (
	"fmt"
	"strings"

	"github.com/gymtable/gymtable-backend/internal/model"
)

const classColumns = `date, day_of_week, timeslot, activity, venue, class_type, vacancy, modified_at`

// dialect captures the few places SQLite and PostgreSQL SQL differ.
type dialect struct {
	// placeholder returns the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// contains renders a case-insensitive substring match of col against
	// the bind parameter ph; containsArg prepares the bound value.
	contains    func(col, ph string) string
	containsArg func(sub string) any
	// collate is appended to ORDER BY columns so text sorts bytewise.
	collate string
}

// SQLite LIKE folds ASCII only, so substring matches go through
// containsFoldFunc instead.
var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	contains: func(col, ph string) string {
		return containsFoldFunc + "(" + col + ", " + ph + ")"
	},
	containsArg: func(sub string) any { return sub },
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	contains: func(col, ph string) string {
		return col + " ILIKE " + ph + ` ESCAPE '\'`
	},
	containsArg: func(sub string) any { return "%" + escapeLike(sub) + "%" },
	collate:     ` COLLATE "C"`,
}

// escapeLike makes s match literally inside a LIKE pattern using '\' as escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// buildFind renders the SELECT for f.
func (d dialect) buildFind(f model.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, d.placeholder(len(args))))
	}
	contains := func(col, sub string) {
		args = append(args, d.containsArg(sub))
		where = append(where, d.contains(col, d.placeholder(len(args))))
	}

	if f.Date != "" {
		add("date = %s", f.Date)
	}
	if f.Activity != "" {
		contains("activity", f.Activity)
	}
	if f.DayOfWeek != "" {
		contains("day_of_week", f.DayOfWeek)
	}
	if f.MinVacancy != nil {
		add("vacancy >= %s", *f.MinVacancy)
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + classColumns + " FROM gym_classes")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	order := []string{"date", "timeslot", "activity"}
	if f.Order == model.OrderByTimeslot {
		order = []string{"timeslot", "date", "activity"}
	}
	for i := range order {
		order[i] += d.collate
	}
	sb.WriteString(" ORDER BY " + strings.Join(order, ", "))

	return sb.String(), args
}

func (d dialect) upsertSQL() string {
	ph := make([]string, 8)
	for i := range ph {
		ph[i] = d.placeholder(i + 1)
	}
	return `INSERT INTO gym_classes (` + classColumns + `)
		VALUES (` + strings.Join(ph, ", ") + `)
		ON CONFLICT (date, timeslot, activity) DO UPDATE SET
			day_of_week = excluded.day_of_week,
			venue = excluded.venue,
			class_type = excluded.class_type,
			vacancy = excluded.vacancy,
			modified_at = excluded.modified_at`
}

func (d dialect) existsSQL() string {
	return fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM gym_classes WHERE date = %s AND timeslot = %s AND activity = %s)`,
		d.placeholder(1), d.placeholder(2), d.placeholder(3))
}

func (d dialect) countsSQL() string {
	return `SELECT activity, COUNT(*) AS n FROM gym_classes
		GROUP BY activity
		ORDER BY n DESC, activity` + d.collate
}
