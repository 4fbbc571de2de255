package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gymtable/gymtable-backend/internal/aggregator"
	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/extractor"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/gymtable/gymtable-backend/internal/websocket"
	"github.com/rs/zerolog"
)

// Pipeline errors.
var (
	ErrPipelineBusy       = errors.New("pipeline is already running")
	ErrExtractionDisabled = errors.New("extraction is disabled: no Gemini API key configured")
)

// pipelineLockTTL caps how long a crashed run can keep the pipeline locked.
const pipelineLockTTL = 30 * time.Minute

// RunOptions tunes a pipeline run.
type RunOptions struct {
	// Force re-extracts images whose JSON output is already up to date.
	Force bool `json:"force"`
}

// PipelineReport summarises one extract → aggregate → load run.
type PipelineReport struct {
	Extraction     *extractor.DirReport `json:"extraction,omitempty"`
	ExtractSkipped bool                 `json:"extract_skipped"`
	Aggregation    AggregateSummary     `json:"aggregation"`
	Stats          model.BatchStats     `json:"stats"`
	Duration       string               `json:"duration"`
}

// AggregateSummary is the part of an aggregation pass worth reporting.
type AggregateSummary struct {
	Output  string                   `json:"output"`
	Classes int                      `json:"classes"`
	Sources int                      `json:"sources"`
	Skipped []aggregator.SourceError `json:"skipped"`
}

// PipelineService drives screenshots through extraction, aggregation and
// the store.
type PipelineService struct {
	cfg        *config.Config
	extractor  *extractor.Extractor
	aggregator *aggregator.Aggregator
	store      *store.Store
	locker     Locker
	events     EventPublisher
	log        zerolog.Logger
}

// NewPipelineService creates a new PipelineService. ex may be nil, in which
// case runs skip extraction and only aggregate what is already on disk.
// events may be nil.
func NewPipelineService(
	cfg *config.Config,
	ex *extractor.Extractor,
	st *store.Store,
	locker Locker,
	events EventPublisher,
	log zerolog.Logger,
) *PipelineService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &PipelineService{
		cfg:        cfg,
		extractor:  ex,
		aggregator: aggregator.New(log),
		store:      st,
		locker:     locker,
		events:     events,
		log:        log.With().Str("component", "pipeline_service").Logger(),
	}
}

// ExtractionEnabled reports whether an extraction engine is configured.
func (s *PipelineService) ExtractionEnabled() bool {
	return s.extractor != nil
}

// AggregatedPath is where Aggregate writes the combined schedule.
func (s *PipelineService) AggregatedPath() string {
	return filepath.Join(s.cfg.AggregatedDir, aggregator.AggregatedFileName)
}

// Extract runs the extractor over the image directory.
func (s *PipelineService) Extract(ctx context.Context, force bool) (extractor.DirReport, error) {
	if s.extractor == nil {
		return extractor.DirReport{}, ErrExtractionDisabled
	}
	return s.extractor.ExtractDir(ctx, s.cfg.ImageDir, s.cfg.JSONDir, force)
}

// Aggregate concatenates the per-image JSON files and writes the aggregated
// file.
func (s *PipelineService) Aggregate(ctx context.Context) (AggregateSummary, []model.ClassRecord, error) {
	if err := ctx.Err(); err != nil {
		return AggregateSummary{}, nil, err
	}

	res, err := s.aggregator.AggregateDir(s.cfg.JSONDir)
	if err != nil {
		return AggregateSummary{}, nil, err
	}

	out := s.AggregatedPath()
	if err := aggregator.SaveSchedule(out, res.Classes); err != nil {
		return AggregateSummary{}, nil, err
	}

	return AggregateSummary{
		Output:  out,
		Classes: len(res.Classes),
		Sources: len(res.Sources),
		Skipped: res.Skipped,
	}, res.Classes, nil
}

// Load upserts the interchange file at path, or the aggregated file when
// path is empty.
func (s *PipelineService) Load(ctx context.Context, path string) (model.BatchStats, error) {
	if path == "" {
		path = s.AggregatedPath()
	}
	stats, err := aggregator.LoadFile(ctx, path, s.store)
	if err != nil {
		return model.BatchStats{}, err
	}
	s.log.Info().
		Str("file", path).
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Msg("Schedule loaded")
	return stats, nil
}

// Run executes extract, aggregate and load under the pipeline lock. Without
// an extraction engine the extract step is skipped.
func (s *PipelineService) Run(ctx context.Context, opts RunOptions) (*PipelineReport, error) {
	release, ok, err := s.locker.Acquire(ctx, config.CacheKey.PipelineLockKey(), pipelineLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPipelineBusy
	}
	defer release()

	start := time.Now()
	report := &PipelineReport{}

	if s.extractor == nil {
		s.log.Warn().Msg("No extraction engine, aggregating existing JSON only")
		report.ExtractSkipped = true
	} else {
		dir, err := s.Extract(ctx, opts.Force)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		report.Extraction = &dir
	}

	summary, classes, err := s.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	report.Aggregation = summary

	// The aggregated file on disk holds exactly these classes.
	stats, err := s.store.UpsertBatch(ctx, classes)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	report.Stats = stats
	report.Duration = time.Since(start).Round(time.Millisecond).String()

	s.log.Info().
		Int("classes", summary.Classes).
		Int("inserted", stats.Inserted).
		Int("updated", stats.Updated).
		Str("duration", report.Duration).
		Msg("Pipeline run finished")

	s.publish(ctx, websocket.JobEvent{Event: websocket.EventPipeline, Classes: summary.Classes, Stats: &stats})
	return report, nil
}

// ProcessImage extracts a single image into the JSON directory and upserts
// its classes. It returns the number of classes found.
func (s *PipelineService) ProcessImage(ctx context.Context, imagePath string) (int, model.BatchStats, error) {
	if s.extractor == nil {
		return 0, model.BatchStats{}, ErrExtractionDisabled
	}

	out, err := s.extractor.ExtractToFile(ctx, imagePath, s.cfg.JSONDir)
	if err != nil {
		return 0, model.BatchStats{}, err
	}

	sched, err := aggregator.LoadSchedule(out)
	if err != nil {
		return 0, model.BatchStats{}, err
	}
	stats, err := s.store.UpsertBatch(ctx, sched.Classes)
	if err != nil {
		return len(sched.Classes), model.BatchStats{}, fmt.Errorf("upsert batch: %w", err)
	}
	return len(sched.Classes), stats, nil
}

func (s *PipelineService) publish(ctx context.Context, ev websocket.JobEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.Event)).Msg("Failed to publish event")
	}
}
