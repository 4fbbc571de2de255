package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ImageLockKey returns the lock key held while an image is being extracted.
func (r *CacheKeyStruct) ImageLockKey(imageName string) string {
	return fmt.Sprintf("lock:extract:%s", imageName)
}

// JobStatusKey returns the hash key holding the last known state of a job.
func (r *CacheKeyStruct) JobStatusKey(jobID string) string {
	return fmt.Sprintf("job:%s:status", jobID)
}

// PipelineLockKey returns the lock key held while the pipeline runs.
func (r *CacheKeyStruct) PipelineLockKey() string {
	return "lock:pipeline"
}

// JobEventsChannel returns the Redis PubSub channel for job events.
func (r *CacheKeyStruct) JobEventsChannel() string {
	return "jobs:events"
}

var CacheKey = NewCacheKeyStruct()
