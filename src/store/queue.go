// Package store buffers everything a call wants persisted. Nothing touches a
// database while audio is flowing: writes accumulate in memory and land in
// exactly one batch after the call ends.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/logger"
)

// Write kinds. The flusher decides where each kind lands.
const (
	KindTranscript  = "transcript"
	KindOutcome     = "outcome"
	KindLeadUpdate  = "lead_update"
	KindAppointment = "appointment"
)

// PendingWrite is one deferred persistence operation.
type PendingWrite struct {
	Kind    string
	Payload map[string]interface{}
	At      time.Time
}

// Flusher lands a call's buffered writes in one batch. Implementations own
// the actual storage; the queue never performs I/O itself.
type Flusher interface {
	Flush(ctx context.Context, callID string, writes []PendingWrite) error
}

// ErrAlreadyFlushed is returned by any queue operation after the terminal
// flush has run.
var ErrAlreadyFlushed = errors.New("write queue already flushed")

// WriteQueue collects a call's pending writes. Enqueue is cheap and
// lock-bounded; Flush runs at most once no matter how many teardown paths
// race to call it.
type WriteQueue struct {
	callID string
	log    *zap.Logger

	mu      sync.Mutex
	writes  []PendingWrite
	flushed bool

	flushOnce sync.Once
	flushErr  error
}

// NewWriteQueue creates an empty queue for one call.
func NewWriteQueue(callID string) *WriteQueue {
	return &WriteQueue{
		callID: callID,
		log:    logger.Call("store", callID),
	}
}

// Enqueue buffers one write. It performs no I/O and never blocks on storage;
// calling it after the terminal flush is a defect and is rejected.
func (q *WriteQueue) Enqueue(kind string, payload map[string]interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.flushed {
		q.log.Error("write enqueued after terminal flush, dropping",
			zap.String("kind", kind))
		return ErrAlreadyFlushed
	}
	q.writes = append(q.writes, PendingWrite{Kind: kind, Payload: payload, At: time.Now()})
	return nil
}

// Len returns the number of buffered writes.
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.writes)
}

// Flushed reports whether the terminal flush has run.
func (q *WriteQueue) Flushed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushed
}

// Flush hands the buffered writes to the flusher exactly once. Every
// teardown path calls this; only the first invocation does the work and all
// callers see its result.
func (q *WriteQueue) Flush(ctx context.Context, flusher Flusher) error {
	q.flushOnce.Do(func() {
		q.mu.Lock()
		q.flushed = true
		writes := q.writes
		q.writes = nil
		q.mu.Unlock()

		q.log.Info("flushing call writes", zap.Int("count", len(writes)))
		if len(writes) == 0 {
			return
		}
		q.flushErr = flusher.Flush(ctx, q.callID, writes)
		if q.flushErr != nil {
			q.log.Error("terminal flush failed", zap.Error(q.flushErr))
		}
	})
	return q.flushErr
}
