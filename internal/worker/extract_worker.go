package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/model"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
	// busyDelay is the pause before retrying an image another worker holds.
	busyDelay = time.Second
)

// ExtractWorker consumes extract_image_queue, runs each screenshot through
// the extractor and upserts the classes it finds.
type ExtractWorker struct {
	rdb      *redis.Client
	queue    *service.JobQueue
	pipeline *service.PipelineService
	locker   service.Locker
	lockTTL  time.Duration
	log      zerolog.Logger
}

// NewExtractWorker creates a new ExtractWorker. lockTTL bounds how long one
// image stays locked and should exceed the extraction timeout.
func NewExtractWorker(
	rdb *redis.Client,
	queue *service.JobQueue,
	pipeline *service.PipelineService,
	locker service.Locker,
	lockTTL time.Duration,
	log zerolog.Logger,
) *ExtractWorker {
	return &ExtractWorker{
		rdb:      rdb,
		queue:    queue,
		pipeline: pipeline,
		locker:   locker,
		lockTTL:  lockTTL,
		log:      log.With().Str("component", "extract_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ExtractWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Extraction calls are slow and billed; pending jobs stay in Redis
			// for the next start instead of being drained here.
			if n, err := w.queue.Pending(context.Background()); err == nil && n > 0 {
				w.log.Info().Int64("pending", n).Msg("Jobs left in queue")
			}
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ExtractWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.WorkerKey.ExtractImageQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			sleep(ctx, retryDelay)
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var payload service.JobPayload
	if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	w.handle(ctx, payload, result[1])
}

func (w *ExtractWorker) handle(ctx context.Context, p service.JobPayload, raw string) {
	log := w.log.With().Str("job_id", p.JobID).Str("image", p.Image).Int("attempt", p.Attempt).Logger()

	release, ok, err := w.locker.Acquire(ctx, config.CacheKey.ImageLockKey(filepath.Base(p.Image)), w.lockTTL)
	if err != nil || !ok {
		if err != nil {
			log.Error().Err(err).Msg("Lock error, requeueing")
		} else {
			log.Debug().Msg("Image busy, requeueing")
		}
		w.rdb.RPush(context.Background(), config.WorkerKey.ExtractImageQueue, raw)
		sleep(ctx, busyDelay)
		return
	}
	defer release()

	w.publish(ctx, websocket.JobEvent{
		Event: websocket.EventStarted, JobID: p.JobID, Image: p.Image, Status: websocket.JobRunning,
	})

	classes, stats, err := w.pipeline.ProcessImage(ctx, p.Image)
	if err != nil {
		if ctx.Err() != nil {
			// Shutting down mid-extraction: keep the job for the next start.
			w.rdb.RPush(context.Background(), config.WorkerKey.ExtractImageQueue, raw)
			return
		}

		if retryable(err) && p.Attempt+1 < maxAttempts {
			log.Warn().Err(err).Msg("Extraction error, retrying in 5s")
			if qerr := w.queue.Requeue(ctx, p); qerr != nil {
				log.Error().Err(qerr).Msg("Requeue failed")
			}
			sleep(ctx, retryDelay)
			return
		}

		log.Error().Err(err).Msg("Extraction failed")
		w.publish(ctx, websocket.JobEvent{
			Event: websocket.EventFailed, JobID: p.JobID, Image: p.Image,
			Status: websocket.JobFailed, Error: err.Error(),
		})
		return
	}

	log.Info().Int("classes", classes).Int("inserted", stats.Inserted).Int("updated", stats.Updated).Msg("Job done")
	w.publish(ctx, websocket.JobEvent{
		Event: websocket.EventDone, JobID: p.JobID, Image: p.Image,
		Status: websocket.JobDone, Classes: classes, Stats: &stats,
	})
}

func (w *ExtractWorker) publish(ctx context.Context, ev websocket.JobEvent) {
	if err := w.queue.Publish(ctx, ev); err != nil {
		w.log.Warn().Err(err).Str("job_id", ev.JobID).Msg("Failed to publish job event")
	}
}

// retryable reports whether another attempt could succeed. Bad replies,
// missing files and a disabled engine fail the same way every time.
func retryable(err error) bool {
	switch {
	case errors.Is(err, model.ErrInvalidRecord),
		errors.Is(err, model.ErrNoClasses),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, service.ErrExtractionDisabled):
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
