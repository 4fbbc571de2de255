package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ScanScheduler runs the full pipeline over the image directory on a cron
// schedule.
type ScanScheduler struct {
	cron     *cron.Cron
	pipeline *service.PipelineService
	timeout  time.Duration
	ctx      context.Context
	log      zerolog.Logger
}

// NewScanScheduler parses spec (standard five-field cron or a descriptor
// such as "@hourly") and prepares the scheduler. timeout bounds one run.
func NewScanScheduler(spec string, pipeline *service.PipelineService, timeout time.Duration, log zerolog.Logger) (*ScanScheduler, error) {
	l := log.With().Str("component", "scan_scheduler").Logger()
	cl := cronLogger{log: l}

	s := &ScanScheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		pipeline: pipeline,
		timeout:  timeout,
		ctx:      context.Background(),
		log:      l,
	}

	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is done. Call in a goroutine.
func (s *ScanScheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.log.Info().Time("next", s.cron.Entries()[0].Next).Msg("Scheduler started")

	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopping...")
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

func (s *ScanScheduler) run() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.pipeline.Run(ctx, service.RunOptions{})
	switch {
	case errors.Is(err, service.ErrPipelineBusy):
		s.log.Info().Msg("Pipeline busy, skipping scheduled scan")
	case err != nil:
		s.log.Error().Err(err).Msg("Scheduled scan failed")
	default:
		s.log.Info().
			Int("classes", report.Aggregation.Classes).
			Int("inserted", report.Stats.Inserted).
			Int("updated", report.Stats.Updated).
			Msg("Scheduled scan finished")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
