// Package aggregator concatenates per-image extraction files into one batch
// for the store. It never deduplicates; that happens at upsert time.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gymtable/gymtable-backend/internal/fsutil"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/rs/zerolog"
)

// AggregatedFileName is the file written into the aggregated directory.
const AggregatedFileName = "aggregated_schedule.json"

// Upserter is the part of the store the aggregator feeds.
type Upserter interface {
	UpsertBatch(ctx context.Context, recs []model.ClassRecord) (model.BatchStats, error)
}

// SourceError names a source file that was skipped and why.
type SourceError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result is the outcome of one aggregation pass.
type Result struct {
	Classes []model.ClassRecord `json:"classes"`
	// Sources lists the files that contributed, in read order.
	Sources []string      `json:"sources"`
	Skipped []SourceError `json:"skipped"`
}

// Report is the outcome of Load.
type Report struct {
	Stats   model.BatchStats `json:"stats"`
	Sources []string         `json:"sources"`
	Skipped []SourceError    `json:"skipped"`
}

// Aggregator reads a directory of interchange files.
type Aggregator struct {
	log zerolog.Logger
}

// New creates an Aggregator.
func New(log zerolog.Logger) *Aggregator {
	return &Aggregator{log: log.With().Str("component", "aggregator").Logger()}
}

// AggregateDir reads every *.json file of dir in name order and concatenates
// their classes. A file that cannot be read or decoded is logged, reported in
// Skipped and left out; the pass continues. A missing dir gives an empty
// result.
func (a *Aggregator) AggregateDir(dir string) (Result, error) {
	res := Result{Classes: []model.ClassRecord{}, Sources: []string{}, Skipped: []SourceError{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			a.log.Warn().Str("dir", dir).Msg("Directory does not exist")
			return res, nil
		}
		return res, fmt.Errorf("read dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		path := filepath.Join(dir, name)

		sched, err := LoadSchedule(path)
		switch {
		case errors.Is(err, model.ErrNoClasses):
			a.log.Debug().Str("file", path).Msg("No classes key, nothing to add")
			continue
		case err != nil:
			a.log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable source")
			res.Skipped = append(res.Skipped, SourceError{Path: path, Err: err.Error()})
			continue
		}

		res.Classes = append(res.Classes, sched.Classes...)
		res.Sources = append(res.Sources, path)
	}

	a.log.Info().
		Int("classes", len(res.Classes)).
		Int("sources", len(res.Sources)).
		Int("skipped", len(res.Skipped)).
		Msg("Aggregation finished")

	return res, nil
}

// Load aggregates dir and hands the whole batch to st in one call. The store
// is strict: an invalid batch fails as a whole.
func (a *Aggregator) Load(ctx context.Context, dir string, st Upserter) (Report, error) {
	res, err := a.AggregateDir(dir)
	if err != nil {
		return Report{}, err
	}

	report := Report{Sources: res.Sources, Skipped: res.Skipped}
	stats, err := st.UpsertBatch(ctx, res.Classes)
	if err != nil {
		return report, fmt.Errorf("upsert batch: %w", err)
	}
	report.Stats = stats
	return report, nil
}

// LoadFile decodes the interchange file at path and upserts it.
func LoadFile(ctx context.Context, path string, st Upserter) (model.BatchStats, error) {
	sched, err := LoadSchedule(path)
	if err != nil {
		return model.BatchStats{}, err
	}
	stats, err := st.UpsertBatch(ctx, sched.Classes)
	if err != nil {
		return model.BatchStats{}, fmt.Errorf("upsert batch: %w", err)
	}
	return stats, nil
}

// SaveSchedule writes {"classes": [...]} to path atomically.
func SaveSchedule(path string, classes []model.ClassRecord) error {
	if classes == nil {
		classes = []model.ClassRecord{}
	}
	data, err := json.MarshalIndent(model.Schedule{Classes: classes}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadSchedule reads and strictly decodes the interchange file at path.
func LoadSchedule(path string) (model.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("read %s: %w", path, err)
	}
	sched, err := model.DecodeSchedule(data)
	if err != nil {
		return model.Schedule{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return sched, nil
}
