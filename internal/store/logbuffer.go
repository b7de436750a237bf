package store

import (
	"context"
	"log"
	"sync"

	"github.com/fluidmcp/gateway/internal/model"
)

// LogBufferStats reports the health of the in-memory retry buffer that
// shields AppendLog callers from transient backend outages. Surfaced on
// GET /health per the supplemented log-buffer health check.
type LogBufferStats struct {
	Pending int  `json:"pending"`
	Dropped int  `json:"dropped"`
	Healthy bool `json:"healthy"`
}

// RetryBuffer wraps a LogRepo and retries failed AppendLog calls against a
// bounded in-memory queue instead of failing the caller: log delivery is
// best-effort, never blocking a tool call on a slow or down store.
type RetryBuffer struct {
	inner LogRepo
	cap   int

	mu      sync.Mutex
	pending []model.LogEntry
	dropped int
}

// NewRetryBuffer wraps inner with a retry queue bounded at capacity entries.
func NewRetryBuffer(inner LogRepo, capacity int) *RetryBuffer {
	if capacity <= 0 {
		capacity = 5000
	}
	return &RetryBuffer{inner: inner, cap: capacity}
}

// AppendLog attempts the write immediately; on failure the entry is queued
// for Flush and the error is swallowed -- logging must never block the
// caller's tool-call path.
func (b *RetryBuffer) AppendLog(ctx context.Context, entry model.LogEntry) error {
	if err := b.inner.AppendLog(ctx, entry); err == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.cap {
		b.pending = b.pending[1:]
		b.dropped++
	}
	b.pending = append(b.pending, entry)
	return nil
}

// TailLogs delegates directly; queued-but-unflushed entries are not visible
// until Flush succeeds.
func (b *RetryBuffer) TailLogs(ctx context.Context, serverID string, n int) ([]model.LogEntry, error) {
	return b.inner.TailLogs(ctx, serverID, n)
}

// Flush retries every queued entry against the backing store, stopping at
// the first failure (entries are ordered, so a gap must not be skipped).
func (b *RetryBuffer) Flush(ctx context.Context) {
	b.mu.Lock()
	pending := b.pending
	b.mu.Unlock()

	flushed := 0
	for _, entry := range pending {
		if err := b.inner.AppendLog(ctx, entry); err != nil {
			break
		}
		flushed++
	}
	if flushed == 0 {
		return
	}

	b.mu.Lock()
	b.pending = b.pending[flushed:]
	b.mu.Unlock()
	log.Printf("[RetryBuffer] flushed %d queued log entries", flushed)
}

// Stats reports the current queue depth and health.
func (b *RetryBuffer) Stats() LogBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return LogBufferStats{
		Pending: len(b.pending),
		Dropped: b.dropped,
		Healthy: len(b.pending) < b.cap,
	}
}
