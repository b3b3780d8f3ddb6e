package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/audio"
	"github.com/square-key-labs/voicewire/src/call"
	"github.com/square-key-labs/voicewire/src/carrier"
	"github.com/square-key-labs/voicewire/src/config"
	"github.com/square-key-labs/voicewire/src/filter"
	"github.com/square-key-labs/voicewire/src/logger"
	"github.com/square-key-labs/voicewire/src/prompt"
	"github.com/square-key-labs/voicewire/src/provider"
)

// CarrierLeg is what the engine needs from the carrier channel. Tests
// substitute a fake; production passes *carrier.Channel.
type CarrierLeg interface {
	Events() <-chan carrier.Event
	EnqueueOutbound(frame []byte) error
	Flush()
	SendMark(name string) error
	Drained() bool
	Close()
}

// ProviderLeg is what the engine needs from the provider channel.
type ProviderLeg interface {
	Events() <-chan provider.Event
	SendAudio(pcm []byte) error
	CreateResponse(instructions string) error
	CancelResponse(responseID string) error
	CancelAcked(responseID string) bool
	UpdateInstructions(instructions string) error
	Close()
}

const farewellMark = "farewell-played"

// ToolInvoker handles mid-call tool calls other than end_call. Mid-call tool
// dispatch destabilizes live audio easily, so the default is none: without an
// invoker every other tool call is logged and ignored.
type ToolInvoker interface {
	Invoke(ctx context.Context, name, arguments string) error
}

// tickInterval drives silence escalation, stuck-state recovery and the
// teardown drain check.
const tickInterval = 100 * time.Millisecond

// candidateTimeout reverts a barge candidate that never confirmed and never
// retreated, which happens when inbound media stops mid-candidate.
const candidateTimeout = time.Second

// closingPhrases end the call when the assistant's finished turn contains one.
var closingPhrases = []string{
	"להתראות",
	"ביי ביי",
	"goodbye",
	"יום נעים",
}

// Engine runs one call: it owns the FSM, bridges the two legs, decides
// barge-in, escalates silence, and tears the call down exactly once.
type Engine struct {
	cfg     *config.Config
	session *call.Session
	callCtx call.Context
	binder  *prompt.Binder

	carrier  CarrierLeg
	provider ProviderLeg

	active   call.ActiveResponse
	barge    *BargeDetector
	preRoll  *preRollRing
	greeting *greetingGate
	log      *zap.Logger

	// Assembly buffers for provider audio: raw PCM bytes awaiting an even
	// prefix, then mu-law bytes awaiting a full frame.
	pcmPending   []byte
	mulawPending []byte

	fatalCh chan fatalFault

	speakingSince  time.Time
	candidateSince time.Time
	lastActivity   time.Time
	silenceStage   int

	// Server-VAD speech boundaries for the current user turn; the distance
	// between them is the utterance duration fed to the acceptance filter.
	userSpeechStart time.Time
	userSpeechStop  time.Time

	greetingDone bool
	userEngaged  bool
	endPending   bool
	// farewellPending blocks the drain check between requesting the farewell
	// response and the provider creating it.
	farewellPending bool
	endStarted      time.Time
	endReason       string

	staleDropped int64

	tools ToolInvoker

	teardownOnce sync.Once
	onDone       func(reason string)
}

type fatalFault struct {
	reason string
	err    error
}

// New assembles an engine for one call. onDone runs exactly once after the
// session closes, with the teardown reason.
func New(cfg *config.Config, session *call.Session, callCtx call.Context, carrierLeg CarrierLeg, providerLeg ProviderLeg, onDone func(reason string)) *Engine {
	e := &Engine{
		cfg:      cfg,
		session:  session,
		callCtx:  callCtx,
		binder:   prompt.New(callCtx, session.Direction),
		carrier:  carrierLeg,
		provider: providerLeg,
		barge: NewBargeDetector(BargeParams{
			EnergyThreshold: cfg.VADEnergyThreshold,
			ZCRThreshold:    cfg.VADZeroCrossRate,
			CandidateFrames: cfg.CandidateFrames,
			ConfirmFrames:   cfg.ConfirmFrames,
			EchoGuardWindow: cfg.EchoGuardWindow,
		}),
		preRoll:      newPreRollRing(cfg.PreRollFrames),
		log:          logger.Call("engine", session.ID),
		fatalCh:      make(chan fatalFault, 4),
		lastActivity: time.Now(),
		onDone:       onDone,
	}
	e.greeting = newGreetingGate(e.dispatchGreeting)
	return e
}

// Instructions returns the bound session instructions for the provider.
func (e *Engine) Instructions() string {
	return e.binder.Bind()
}

// ResponseActive reports whether an AI response is currently streaming.
// Wired into the carrier channel's stall watchdog.
func (e *Engine) ResponseActive() bool {
	return e.active.Current() != nil
}

// StreamStarted tells the engine the carrier media stream is live. Runners
// that consume the start envelope during the handshake call this instead of
// re-injecting the event.
func (e *Engine) StreamStarted() {
	e.greeting.Request()
}

// Fatal reports an unrecoverable transport fault from another goroutine.
// Non-blocking; the run loop performs the actual teardown.
func (e *Engine) Fatal(reason string, err error) {
	select {
	case e.fatalCh <- fatalFault{reason: reason, err: err}:
	default:
	}
}

// PlayFallback queues the degraded-path audio and schedules teardown once it
// has drained. Used when the provider cannot be reached.
func (e *Engine) PlayFallback(path string) {
	for _, frame := range provider.FallbackFrames(path) {
		_ = e.carrier.EnqueueOutbound(frame)
	}
	e.beginEnd("provider_unreachable")
}

// Run drives the call until the session closes. It is the only goroutine
// that touches the FSM and the assembly buffers.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("call started",
		zap.String("direction", e.session.Direction.String()),
		zap.String("business_id", e.callCtx.BusinessID))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	carrierEvents := e.carrier.Events()
	providerEvents := e.provider.Events()

	for !e.session.Ended() {
		select {
		case <-ctx.Done():
			e.teardown("context_cancelled")
			return

		case fault := <-e.fatalCh:
			e.log.Error("fatal pipeline fault",
				zap.String("reason", fault.reason), zap.Error(fault.err))
			e.teardown(fault.reason)
			return

		case ev, ok := <-carrierEvents:
			if !ok {
				e.teardown("carrier_disconnected")
				return
			}
			e.handleCarrierEvent(ev)

		case ev, ok := <-providerEvents:
			if !ok {
				e.log.Warn("provider stream ended")
				e.PlayFallback("")
				providerEvents = nil
				continue
			}
			e.handleProviderEvent(ev)

		case <-ticker.C:
			e.tick()
		}
	}
	e.teardown("closed")
}

func (e *Engine) handleCarrierEvent(ev carrier.Event) {
	switch ev.Type {
	case carrier.EventTypeStart:
		e.log.Info("media stream started",
			zap.String("stream_id", ev.Start.StreamID))
		e.greeting.Request()

	case carrier.EventTypeMedia:
		e.handleCallerFrame(ev.Audio)

	case carrier.EventTypeMark:
		if ev.Mark == farewellMark {
			e.teardown(e.endReason)
		}

	case carrier.EventTypeStop:
		e.teardown("carrier_stop")
	}
}

// handleCallerFrame routes one inbound mu-law frame through the half-duplex
// gate: while the AI speaks the frame feeds the barge detector and the
// pre-roll ring; otherwise it is forwarded to the provider.
func (e *Engine) handleCallerFrame(mulaw []byte) {
	state := e.session.State()
	pcm := audio.MulawToPCMBytes(mulaw)

	if state.Speaking() {
		if state == call.StateBargeCandidate {
			// The mic gate is open: the provider hears the interruption while
			// the AI keeps the floor until confirmation.
			if err := e.provider.SendAudio(audio.CarrierToProvider(mulaw)); err != nil {
				e.log.Warn("failed to forward candidate audio", zap.Error(err))
			}
		} else {
			e.preRoll.Push(mulaw)
		}
		switch e.barge.Observe(pcm, time.Since(e.speakingSince)) {
		case BargeCandidate:
			e.toCandidate()
		case BargeConfirmed:
			e.confirmBarge()
		case BargeRetreat:
			e.retreatCandidate()
		}
		return
	}

	if state.Terminal() || e.endPending {
		return
	}

	if err := e.provider.SendAudio(audio.CarrierToProvider(mulaw)); err != nil {
		e.log.Warn("failed to forward caller audio", zap.Error(err))
	}
	if audio.HasVoice(pcm, e.cfg.VADEnergyThreshold, e.cfg.VADZeroCrossRate) {
		e.lastActivity = time.Now()
	}
}

// toCandidate opens the mic gate: the pre-roll is replayed first so the
// start of the interruption reaches the provider, then live frames follow.
func (e *Engine) toCandidate() {
	if err := e.session.Transition(call.StateBargeCandidate); err != nil {
		e.log.Warn("cannot open barge candidate", zap.Error(err))
		return
	}
	e.candidateSince = time.Now()
	e.log.Info("barge-in candidate opened",
		zap.Duration("ai_speaking_for", time.Since(e.speakingSince)),
		zap.Int("preroll_frames", e.preRoll.Len()))

	for _, frame := range e.preRoll.Drain() {
		if err := e.provider.SendAudio(audio.CarrierToProvider(frame)); err != nil {
			e.log.Warn("failed to forward pre-roll frame", zap.Error(err))
			break
		}
	}
}

func (e *Engine) retreatCandidate() {
	if e.session.State() != call.StateBargeCandidate {
		return
	}
	if err := e.session.Transition(call.StateAISpeaking); err != nil {
		e.log.Warn("cannot retreat barge candidate", zap.Error(err))
		return
	}
	e.log.Info("barge-in candidate retreated")
}

// confirmBarge cuts the AI off: cancel the live response, flush both playback
// buffers, hand the floor to the caller, and replay the pre-roll so the start
// of the interruption reaches the provider.
func (e *Engine) confirmBarge() {
	if err := e.session.Transition(call.StateBargeConfirmed); err != nil {
		e.log.Warn("cannot confirm barge-in", zap.Error(err))
		return
	}

	cancelledID := e.active.CancelCurrent()
	if cancelledID != "" {
		if err := e.provider.CancelResponse(cancelledID); err != nil {
			e.log.Warn("cancel request failed", zap.Error(err))
		}
		go e.awaitCancelAck(cancelledID)
	}
	e.carrier.Flush()

	if err := e.session.Transition(call.StateListening); err != nil {
		e.log.Error("cannot hand floor to caller", zap.Error(err))
	}
	e.log.Info("barge-in confirmed", zap.String("cancelled_response", cancelledID))

	e.barge.Reset()
	e.resetAssembly()
	e.lastActivity = time.Now()
}

// awaitCancelAck polls for the provider's cancel acknowledgment for a bounded
// window. Missing the ack is not fatal: stale audio is already dropped by
// response id, this only loses a diagnostic.
func (e *Engine) awaitCancelAck(responseID string) {
	deadline := time.Now().Add(e.cfg.CancelAckWait)
	for time.Now().Before(deadline) {
		if e.provider.CancelAcked(responseID) {
			e.log.Debug("cancel acknowledged", zap.String("response_id", responseID))
			return
		}
		time.Sleep(e.cfg.CancelAckPoll)
	}
	e.log.Warn("cancel never acknowledged",
		zap.String("response_id", responseID),
		zap.Duration("waited", e.cfg.CancelAckWait))
}

func (e *Engine) handleProviderEvent(ev provider.Event) {
	switch ev.Type {
	case provider.EventSessionReady:
		e.greeting.Ready()

	case provider.EventResponseCreated:
		e.onResponseCreated(ev.ResponseID)

	case provider.EventAudioDelta:
		e.onAudioDelta(ev)

	case provider.EventSpeechStarted:
		e.userSpeechStart = time.Now()
		e.userSpeechStop = time.Time{}
		// Server VAD heard speech. While a candidate is open it confirms the
		// barge-in immediately instead of waiting out the frame count.
		if e.session.State() == call.StateBargeCandidate {
			if e.barge.Confirm() == BargeConfirmed {
				e.confirmBarge()
			}
		} else if !e.session.State().Speaking() {
			e.lastActivity = time.Now()
		}

	case provider.EventSpeechStopped:
		e.userSpeechStop = time.Now()

	case provider.EventTranscriptDone:
		if ev.Text != "" {
			e.session.AppendTranscript("assistant", ev.Text)
			if e.containsClosingPhrase(ev.Text) && !e.endPending {
				e.log.Info("closing phrase detected, ending after playback")
				e.endPending = true
				e.endStarted = time.Now()
				e.endReason = "assistant_goodbye"
			}
		}

	case provider.EventUserTranscript:
		e.onUserTranscript(ev.Text)

	case provider.EventResponseDone:
		e.onResponseDone(ev.ResponseID)

	case provider.EventResponseCancelled:
		e.active.Finish(ev.ResponseID)

	case provider.EventFunctionCall:
		e.onFunctionCall(ev.Name, ev.Arguments)

	case provider.EventError:
		e.log.Error("provider error", zap.String("message", ev.Err))
		e.PlayFallback("")
	}
}

func (e *Engine) onResponseCreated(responseID string) {
	// Any response makes a later greeting a duplicate.
	e.greeting.Invalidate()
	// If a farewell was requested, this is it; the drain check may now track
	// its playback.
	e.farewellPending = false

	unit := call.NewResponseUnit(responseID)
	if err := e.active.Activate(unit); err != nil {
		// Two live responses is a protocol defect. Keep the first, kill the
		// newcomer.
		e.log.Error("second response while one is active",
			zap.String("live", e.active.CurrentID()),
			zap.String("rejected", responseID))
		_ = e.provider.CancelResponse(responseID)
		return
	}

	target := call.StateAISpeaking
	if !e.greetingDone {
		e.greetingDone = true
		target = call.StateGreetingPlaying
	}
	state := e.session.State()
	if state == call.StateSilenceWarning1 || state == call.StateSilenceWarning2 || state == call.StateHangup {
		// Warnings and the farewell play without leaving their state so the
		// escalation ladder keeps its position.
		target = 0
	}
	if target != 0 {
		if err := e.session.Transition(target); err != nil {
			e.log.Warn("response started in unexpected state",
				zap.String("state", state.String()), zap.Error(err))
		}
	}

	e.speakingSince = time.Now()
	e.barge.Reset()
	e.resetAssembly()
	e.log.Info("response started", zap.String("response_id", responseID))
}

// onAudioDelta converts provider PCM to carrier frames. Audio tagged with a
// stale response id is dropped, never reordered into the live response.
func (e *Engine) onAudioDelta(ev provider.Event) {
	if !e.active.Accepts(ev.ResponseID) {
		e.staleDropped++
		e.log.Debug("dropping stale audio delta",
			zap.String("response_id", ev.ResponseID),
			zap.Int64("stale_dropped", e.staleDropped))
		return
	}

	e.pcmPending = append(e.pcmPending, ev.Audio...)
	even := len(e.pcmPending) &^ 1
	if even == 0 {
		return
	}
	mulaw, err := audio.ProviderToCarrier(e.pcmPending[:even])
	if err != nil {
		e.log.Warn("bad provider audio", zap.Error(err))
		e.pcmPending = e.pcmPending[:0]
		return
	}
	e.pcmPending = append(e.pcmPending[:0], e.pcmPending[even:]...)

	e.mulawPending = append(e.mulawPending, mulaw...)
	for len(e.mulawPending) >= audio.CarrierFrameLen {
		frame := make([]byte, audio.CarrierFrameLen)
		copy(frame, e.mulawPending[:audio.CarrierFrameLen])
		e.mulawPending = e.mulawPending[audio.CarrierFrameLen:]
		if err := e.carrier.EnqueueOutbound(frame); err != nil {
			return
		}
	}
}

// takeSpeechDuration returns the span between the last server-VAD speech
// boundaries, consuming them. Zero when the boundaries were never seen; the
// filter then skips its duration check rather than reject blindly.
func (e *Engine) takeSpeechDuration() time.Duration {
	if e.userSpeechStart.IsZero() || !e.userSpeechStop.After(e.userSpeechStart) {
		return 0
	}
	d := e.userSpeechStop.Sub(e.userSpeechStart)
	e.userSpeechStart, e.userSpeechStop = time.Time{}, time.Time{}
	return d
}

func (e *Engine) onUserTranscript(text string) {
	utt := call.NewUtterance(text, e.takeSpeechDuration())
	verdict := filter.Accept(utt.Raw, utt.Duration, filter.Params{MinDuration: e.cfg.MinUtteranceDuration})
	utt.Accepted, utt.Reason = verdict.Accepted, verdict.Reason
	if !utt.Accepted {
		e.log.Info("utterance rejected",
			zap.String("reason", utt.Reason),
			zap.Int("length", len(utt.Normalized)))
		return
	}

	if e.suppressAsEcho(utt) {
		e.log.Info("utterance suppressed as probable echo",
			zap.Duration("ai_speaking_for", time.Since(e.speakingSince)))
		return
	}

	// An accepted recognition while the mic gate is open confirms the
	// barge-in without waiting out the frame count.
	if e.session.State() == call.StateBargeCandidate {
		if e.barge.Confirm() == BargeConfirmed {
			e.confirmBarge()
		}
	}

	e.greeting.Invalidate()
	e.session.AppendTranscript("user", utt.Raw)
	e.lastActivity = time.Now()
	e.silenceStage = 0

	state := e.session.State()
	if state == call.StateSilenceWarning1 || state == call.StateSilenceWarning2 {
		if err := e.session.Transition(call.StateListening); err != nil {
			e.log.Warn("cannot leave silence warning", zap.Error(err))
		}
	}

	if !e.userEngaged {
		e.userEngaged = true
		if instructions, ok := e.binder.Upgrade(); ok {
			e.log.Info("applying one-time prompt upgrade")
			if err := e.provider.UpdateInstructions(instructions); err != nil {
				e.log.Warn("prompt upgrade failed", zap.Error(err))
			}
		}
	}
}

// suppressAsEcho drops recognized "user speech" that is probably the line
// echoing the AI's own opening words: short, non-whitelisted text arriving
// right after the AI starts speaking, with no local voice evidence. A longer
// phrase, a whitelisted token, or an open barge candidate all pass through.
func (e *Engine) suppressAsEcho(utt *call.Utterance) bool {
	state := e.session.State()
	if !state.Speaking() || state == call.StateBargeCandidate {
		return false
	}
	if time.Since(e.speakingSince) >= e.cfg.EchoGuardWindow {
		return false
	}
	if utt.Reason == filter.ReasonWhitelisted {
		return false
	}
	return len(strings.Fields(utt.Normalized)) < 4
}

func (e *Engine) onResponseDone(responseID string) {
	e.active.Finish(responseID)
	e.lastActivity = time.Now()

	if e.session.State().Speaking() {
		if err := e.session.Transition(call.StateListening); err != nil {
			e.log.Warn("cannot return to listening", zap.Error(err))
		}
	}
	e.log.Info("response finished", zap.String("response_id", responseID))

	if e.endPending {
		// Let the farewell drain through the pacer, then close on the mark.
		if err := e.carrier.SendMark(farewellMark); err != nil {
			e.log.Warn("farewell mark failed", zap.Error(err))
		}
		if e.endStarted.IsZero() {
			e.endStarted = time.Now()
		}
	}
}

func (e *Engine) onFunctionCall(name, arguments string) {
	if !e.callCtx.ToolsEnabled {
		e.log.Warn("ignoring tool call, tools disabled", zap.String("name", name))
		return
	}
	e.log.Info("tool call", zap.String("name", name), zap.String("arguments", arguments))

	if name == "end_call" {
		e.endPending = true
		e.endStarted = time.Now()
		e.endReason = "tool_end_call"
		if e.active.Current() == nil {
			e.dispatchFarewell()
		}
		return
	}

	if e.tools == nil {
		e.log.Warn("no tool invoker installed", zap.String("name", name))
		return
	}
	if err := e.tools.Invoke(context.Background(), name, arguments); err != nil {
		e.log.Warn("tool invocation failed", zap.String("name", name), zap.Error(err))
	}
}

// SetToolInvoker installs the optional tool extension point. Must be called
// before Run.
func (e *Engine) SetToolInvoker(t ToolInvoker) {
	e.tools = t
}

// tick runs the time-driven duties: silence escalation, stuck barge
// candidates, and the teardown drain deadline.
func (e *Engine) tick() {
	state := e.session.State()
	now := time.Now()

	if state == call.StateBargeCandidate && now.Sub(e.candidateSince) > candidateTimeout {
		e.log.Warn("barge candidate stuck, reverting")
		e.retreatCandidate()
		e.barge.Reset()
	}

	// Barge flags must never outlive the response they were tracking.
	if !state.Speaking() && e.active.Current() == nil {
		e.barge.Reset()
	}

	if e.endPending {
		// A requested farewell has not been created yet; an empty queue here
		// means nothing, the goodbye is still upstream. Only the drain
		// deadline may close the call from this window.
		if e.farewellPending && now.Sub(e.endStarted) <= e.cfg.DrainTimeout {
			return
		}
		if e.active.Current() == nil && !e.endStarted.IsZero() &&
			(e.carrier.Drained() || now.Sub(e.endStarted) > e.cfg.DrainTimeout) {
			e.teardown(e.endReason)
		}
		return
	}

	if e.active.Current() != nil {
		return
	}
	idle := now.Sub(e.lastActivity)

	switch state {
	case call.StateListening:
		if e.silenceStage == 0 && idle > e.cfg.FirstSilenceWarning {
			e.escalateSilence(call.StateSilenceWarning1,
				"The caller has been silent. Ask briefly, in the call language, whether they are still there.")
		}
	case call.StateSilenceWarning1:
		if idle > e.cfg.SecondSilenceWarning {
			e.escalateSilence(call.StateSilenceWarning2,
				"Still no answer. Say that you will have to hang up soon if you cannot hear them.")
		}
	case call.StateSilenceWarning2:
		if idle > e.cfg.SilenceHangup {
			e.log.Info("silence hangup", zap.Duration("idle", idle))
			if err := e.session.Transition(call.StateHangup); err != nil {
				e.log.Warn("cannot enter hangup", zap.Error(err))
			}
			e.endPending = true
			e.endReason = "silence_hangup"
			e.dispatchFarewell()
		}
	}
}

func (e *Engine) escalateSilence(to call.State, instructions string) {
	if err := e.session.Transition(to); err != nil {
		e.log.Warn("cannot escalate silence", zap.Error(err))
		return
	}
	e.silenceStage++
	e.lastActivity = time.Now()
	e.log.Info("silence warning", zap.Int("stage", e.silenceStage))
	if err := e.provider.CreateResponse(instructions); err != nil {
		e.log.Warn("silence warning response failed", zap.Error(err))
	}
}

func (e *Engine) dispatchGreeting() {
	e.log.Info("dispatching greeting")
	if err := e.provider.CreateResponse(e.greetingInstructions()); err != nil {
		e.log.Error("greeting dispatch failed", zap.Error(err))
	}
}

func (e *Engine) greetingInstructions() string {
	if e.callCtx.GreetingText != "" {
		return fmt.Sprintf("Open the call by saying exactly: %q. Then wait for the caller to respond.", e.callCtx.GreetingText)
	}
	return "Greet the caller warmly in one short sentence and ask how you can help."
}

func (e *Engine) dispatchFarewell() {
	if e.endStarted.IsZero() {
		e.endStarted = time.Now()
	}
	e.farewellPending = true
	if err := e.provider.CreateResponse("Say a short, polite goodbye in the call language and nothing else."); err != nil {
		e.log.Warn("farewell response failed", zap.Error(err))
		// No goodbye is coming; let the drain check close the call.
		e.farewellPending = false
	}
}

// beginEnd schedules teardown after queued audio plays out, without asking
// the provider for anything more.
func (e *Engine) beginEnd(reason string) {
	e.endPending = true
	e.endReason = reason
	e.endStarted = time.Now()
}

func (e *Engine) containsClosingPhrase(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range closingPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func (e *Engine) resetAssembly() {
	e.pcmPending = e.pcmPending[:0]
	e.mulawPending = e.mulawPending[:0]
}

// teardown closes both legs and the session exactly once.
func (e *Engine) teardown(reason string) {
	e.teardownOnce.Do(func() {
		if reason == "" {
			reason = "unknown"
		}
		if id := e.active.CancelCurrent(); id != "" {
			_ = e.provider.CancelResponse(id)
		}
		_ = e.session.Transition(call.StateCallEnding)
		_ = e.session.Transition(call.StateClosed)

		e.provider.Close()
		e.carrier.Close()

		e.log.Info("call ended",
			zap.String("reason", reason),
			zap.Duration("duration", time.Since(e.session.StartedAt)),
			zap.Bool("greeting_played", e.greeting.Fired()),
			zap.Int64("stale_deltas_dropped", e.staleDropped),
			zap.Int("transcript_turns", len(e.session.Transcript())))

		if e.onDone != nil {
			e.onDone(reason)
		}
	})
}
