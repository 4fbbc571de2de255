package store

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/gymtable/gymtable-backend/internal/model"
)

var errBackendClosed = errors.New("memory backend closed")

// MemoryBackend keeps records in a map keyed by model.Key. Nothing survives
// the process.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[model.Key]model.ClassRecord
	closed  bool
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[model.Key]model.ClassRecord)}
}

func (b *MemoryBackend) Begin(_ context.Context) (Tx, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errBackendClosed
	}
	return &memoryTx{backend: b, pending: make(map[model.Key]model.ClassRecord)}, nil
}

func (b *MemoryBackend) Find(_ context.Context, f model.Filter) ([]model.ClassRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errBackendClosed
	}

	out := make([]model.ClassRecord, 0)
	for _, r := range b.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	model.SortRecords(out, f.Order)
	return out, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.records = nil
	return nil
}

// memoryTx buffers writes until Commit.
type memoryTx struct {
	backend *MemoryBackend
	pending map[model.Key]model.ClassRecord
	done    bool
}

func (t *memoryTx) Exists(_ context.Context, key model.Key) (bool, error) {
	if _, ok := t.pending[key]; ok {
		return true, nil
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	if t.backend.closed {
		return false, errBackendClosed
	}
	_, ok := t.backend.records[key]
	return ok, nil
}

func (t *memoryTx) Put(_ context.Context, rec model.ClassRecord) error {
	t.pending[rec.Key()] = rec
	return nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	if t.backend.closed {
		return errBackendClosed
	}
	maps.Copy(t.backend.records, t.pending)
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	t.done = true
	t.pending = nil
	return nil
}
