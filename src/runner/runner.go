// Package runner assembles one call from an accepted carrier connection:
// handshake, context load, both channel legs, the engine, and the post-call
// flush. It is the only place that knows about every other package.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/call"
	"github.com/square-key-labs/voicewire/src/carrier"
	"github.com/square-key-labs/voicewire/src/config"
	"github.com/square-key-labs/voicewire/src/engine"
	"github.com/square-key-labs/voicewire/src/logger"
	"github.com/square-key-labs/voicewire/src/provider"
	"github.com/square-key-labs/voicewire/src/store"
)

// handshakeTimeout bounds the wait for the carrier's start envelope.
const handshakeTimeout = 10 * time.Second

// Runner builds and runs calls. One Runner serves many concurrent calls;
// everything per-call lives in the engine it assembles.
type Runner struct {
	cfg       *config.Config
	loader    call.ContextLoader
	flusher   store.Flusher
	publisher store.PostCallPublisher
	log       *zap.Logger
}

// New creates a runner. Nil flusher or publisher fall back to the logging
// implementations.
func New(cfg *config.Config, loader call.ContextLoader, flusher store.Flusher, publisher store.PostCallPublisher) *Runner {
	if flusher == nil {
		flusher = store.LogFlusher{}
	}
	if publisher == nil {
		publisher = store.LogPublisher{}
	}
	return &Runner{
		cfg:       cfg,
		loader:    loader,
		flusher:   flusher,
		publisher: publisher,
		log:       logger.Named("runner"),
	}
}

// HandleConnection owns one carrier connection for the lifetime of its call.
// Wire it into carrier.NewServer as the CallHandler.
func (r *Runner) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	start, err := r.awaitStart(conn)
	if err != nil {
		r.log.Warn("carrier handshake failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	callID := start.CallID
	if callID == "" {
		callID = uuid.NewString()
	}
	direction := call.Inbound
	if start.CustomParameters["direction"] == "outbound" {
		direction = call.Outbound
	}

	callCtx, err := r.loadContext(callID, start)
	if err != nil {
		r.log.Error("context load failed, refusing call",
			zap.String("call_id", callID), zap.Error(err))
		_ = conn.Close()
		return
	}

	session := call.NewSession(callID, start.StreamID, direction)
	queue := store.NewWriteQueue(callID)

	// The carrier channel needs the engine's watchdog hooks before the
	// engine exists, so both close over this pointer.
	var eng *engine.Engine
	carrierCh := carrier.NewChannel(conn, callID, start.StreamID,
		carrier.ChannelConfig{
			QueueFrames:     r.cfg.OutputQueueFrames,
			TransmitTimeout: r.cfg.TransmitTimeout,
		},
		func() bool { return eng != nil && eng.ResponseActive() },
		func(reason string, faultErr error) {
			if eng != nil {
				eng.Fatal(reason, faultErr)
			}
		})

	providerCh := provider.NewChannel(provider.Config{
		URL:               r.cfg.ProviderURL,
		APIKey:            r.cfg.ProviderAPIKey,
		Model:             r.cfg.ProviderModel,
		ConnectAttempts:   r.cfg.ConnectAttempts,
		ConnectBackoff:    r.cfg.ConnectBackoff,
		ConnectBackoffCap: r.cfg.ConnectBackoffCap,
	}, callID)

	eng = engine.New(r.cfg, session, callCtx, carrierCh, providerCh,
		r.finishCall(session, callCtx, queue, start.CustomParameters["recording_url"]))
	eng.SetToolInvoker(toolRecorder{queue: queue, log: r.log})

	voice := callCtx.VoiceID
	if voice == "" {
		voice = r.cfg.ProviderVoice
	}
	connectErr := providerCh.Connect(ctx, provider.SessionConfig{
		Instructions: eng.Instructions(),
		Voice:        voice,
	})

	carrierCh.Start(ctx)
	eng.StreamStarted()

	if connectErr != nil {
		// Degraded path: apologize over the carrier leg, then hang up.
		r.log.Error("provider unreachable, playing fallback",
			zap.String("call_id", callID), zap.Error(connectErr))
		eng.PlayFallback(r.cfg.FallbackAudioPath)
	}

	eng.Run(ctx)
}

// toolRecorder handles mid-call tool calls by buffering their results in the
// write queue: no I/O happens while audio is flowing, the booking lands with
// the terminal flush.
type toolRecorder struct {
	queue *store.WriteQueue
	log   *zap.Logger
}

func (tr toolRecorder) Invoke(_ context.Context, name, arguments string) error {
	switch name {
	case "schedule_appointment":
		return tr.queue.Enqueue(store.KindAppointment, map[string]interface{}{
			"tool":      name,
			"arguments": arguments,
		})
	default:
		tr.log.Info("unhandled tool call", zap.String("name", name))
		return nil
	}
}

// finishCall builds the engine's onDone hook: buffer the call outcome, run
// the exactly-once terminal flush, hand the summary downstream.
func (r *Runner) finishCall(session *call.Session, callCtx call.Context, queue *store.WriteQueue, recordingRef string) func(reason string) {
	return func(reason string) {
		transcript := session.Transcript()

		turns := make([]map[string]interface{}, 0, len(transcript))
		for _, entry := range transcript {
			turns = append(turns, map[string]interface{}{
				"role": entry.Role,
				"text": entry.Text,
				"at":   entry.At,
			})
		}
		_ = queue.Enqueue(store.KindTranscript, map[string]interface{}{"turns": turns})
		_ = queue.Enqueue(store.KindOutcome, map[string]interface{}{
			"end_reason": reason,
			"duration":   time.Since(session.StartedAt).String(),
		})
		if session.Direction == call.Outbound && callCtx.LeadID != "" {
			_ = queue.Enqueue(store.KindLeadUpdate, map[string]interface{}{
				"lead_id":    callCtx.LeadID,
				"end_reason": reason,
			})
		}

		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.Flush(flushCtx, r.flusher); err != nil {
			r.log.Error("post-call flush failed",
				zap.String("call_id", session.ID), zap.Error(err))
		}

		if err := r.publisher.Publish(flushCtx, store.CallSummary{
			CallID:       session.ID,
			BusinessID:   callCtx.BusinessID,
			LeadID:       callCtx.LeadID,
			Direction:    session.Direction,
			StartedAt:    session.StartedAt,
			EndedAt:      session.EndedAt(),
			EndReason:    reason,
			RecordingRef: recordingRef,
			Transcript:   transcript,
		}); err != nil {
			r.log.Error("post-call publish failed",
				zap.String("call_id", session.ID), zap.Error(err))
		}
	}
}

// awaitStart reads carrier messages until the start envelope arrives. The
// carrier sends a "connected" preamble first, which is skipped.
func (r *Runner) awaitStart(conn *websocket.Conn) (*carrier.StartPayload, error) {
	deadline := time.Now().Add(handshakeTimeout)
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for time.Now().Before(deadline) {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("carrier read during handshake: %w", err)
		}
		env, err := carrier.ParseEnvelope(message)
		if err != nil {
			r.log.Debug("skipping pre-start message", zap.Error(err))
			continue
		}
		if env.Event == carrier.EventStart && env.Start != nil {
			return env.Start, nil
		}
	}
	return nil, fmt.Errorf("no start envelope within %s", handshakeTimeout)
}

func (r *Runner) loadContext(callID string, start *carrier.StartPayload) (call.Context, error) {
	if r.loader == nil {
		return call.Context{
			BusinessID:   start.CustomParameters["business_id"],
			BusinessName: start.CustomParameters["business_name"],
		}, nil
	}
	return r.loader.LoadContext(callID,
		start.CustomParameters["business_id"],
		start.CustomParameters["lead_id"])
}
