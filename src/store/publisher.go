package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/call"
	"github.com/square-key-labs/voicewire/src/logger"
)

// CallSummary is the post-call hand-off: everything a downstream consumer
// (CRM sync, follow-up scheduler, analytics) needs about a finished call.
type CallSummary struct {
	CallID     string
	BusinessID string
	LeadID     string
	Direction  call.Direction
	StartedAt  time.Time
	EndedAt    time.Time
	EndReason  string
	// RecordingRef points at the carrier-side recording; the offline
	// pipeline downloads and transcribes it, never the core.
	RecordingRef string
	Transcript   []call.TranscriptEntry
}

// PostCallPublisher receives the summary after the terminal flush. Publishing
// failures are logged, never retried by the core.
type PostCallPublisher interface {
	Publish(ctx context.Context, summary CallSummary) error
}

// LogFlusher writes every batch to the structured log. The default flusher in
// the runnable examples; real deployments supply their own.
type LogFlusher struct{}

func (LogFlusher) Flush(_ context.Context, callID string, writes []PendingWrite) error {
	log := logger.Call("store.flush", callID)
	for _, w := range writes {
		log.Info("persisting write",
			zap.String("kind", w.Kind),
			zap.Time("queued_at", w.At),
			zap.Any("payload", w.Payload))
	}
	return nil
}

// LogPublisher logs the post-call summary. Stands in for a real message bus
// in the examples.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, summary CallSummary) error {
	logger.Call("store.publish", summary.CallID).Info("call summary",
		zap.String("business_id", summary.BusinessID),
		zap.String("direction", summary.Direction.String()),
		zap.String("end_reason", summary.EndReason),
		zap.Duration("duration", summary.EndedAt.Sub(summary.StartedAt)),
		zap.Int("transcript_turns", len(summary.Transcript)))
	return nil
}
