package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// jobStatusTTL bounds how long a finished job can still be looked up.
const jobStatusTTL = 24 * time.Hour

// ErrJobNotFound is returned by Status for an unknown or expired job.
var ErrJobNotFound = errors.New("job not found")

// JobPayload is the queue item consumed by the extract worker.
type JobPayload struct {
	JobID   string `json:"job_id"`
	Image   string `json:"image"`
	Attempt int    `json:"attempt"`
}

// EventPublisher broadcasts job events to live listeners.
type EventPublisher interface {
	Publish(ctx context.Context, ev websocket.JobEvent) error
}

// JobQueue is the Redis-backed extraction queue.
type JobQueue struct {
	rdb *redis.Client
	now func() time.Time
	log zerolog.Logger
}

// NewJobQueue creates a new JobQueue.
func NewJobQueue(rdb *redis.Client, log zerolog.Logger) *JobQueue {
	return &JobQueue{
		rdb: rdb,
		now: time.Now,
		log: log.With().Str("component", "job_queue").Logger(),
	}
}

// Enqueue schedules imagePath for extraction and returns the job ID.
func (q *JobQueue) Enqueue(ctx context.Context, imagePath string) (string, error) {
	p := JobPayload{JobID: uuid.NewString(), Image: imagePath}
	if err := q.push(ctx, p); err != nil {
		return "", err
	}

	if err := q.Publish(ctx, websocket.JobEvent{
		Event:  websocket.EventQueued,
		JobID:  p.JobID,
		Image:  imagePath,
		Status: websocket.JobQueued,
	}); err != nil {
		q.log.Warn().Err(err).Str("job_id", p.JobID).Msg("Failed to publish queued event")
	}
	return p.JobID, nil
}

// Requeue pushes p back with its attempt counter bumped.
func (q *JobQueue) Requeue(ctx context.Context, p JobPayload) error {
	p.Attempt++
	return q.push(ctx, p)
}

func (q *JobQueue) push(ctx context.Context, p JobPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.rdb.RPush(ctx, config.WorkerKey.ExtractImageQueue, data).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Publish records the job state under its status key and broadcasts ev on
// the job events channel.
func (q *JobQueue) Publish(ctx context.Context, ev websocket.JobEvent) error {
	if ev.At == 0 {
		ev.At = q.now().Unix()
	}

	if ev.JobID != "" && ev.Status != "" {
		key := config.CacheKey.JobStatusKey(ev.JobID)
		pipe := q.rdb.TxPipeline()
		pipe.HSet(ctx, key,
			"status", string(ev.Status),
			"image", ev.Image,
			"classes", ev.Classes,
			"error", ev.Error,
			"updated_at", ev.At,
		)
		pipe.Expire(ctx, key, jobStatusTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store job status: %w", err)
		}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.rdb.Publish(ctx, config.CacheKey.JobEventsChannel(), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Status returns the stored state of a job.
func (q *JobQueue) Status(ctx context.Context, jobID string) (map[string]string, error) {
	fields, err := q.rdb.HGetAll(ctx, config.CacheKey.JobStatusKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job status: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return fields, nil
}

// Pending returns the number of queued jobs.
func (q *JobQueue) Pending(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, config.WorkerKey.ExtractImageQueue).Result()
}
