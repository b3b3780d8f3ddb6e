package engine

import (
	"time"

	"github.com/square-key-labs/voicewire/src/audio"
)

// BargeDecision is the detector's verdict for one inbound frame while the AI
// holds the floor.
type BargeDecision int

const (
	BargeNone      BargeDecision = iota
	BargeCandidate               // sustained voice, open the mic gate
	BargeConfirmed               // sustained long enough to cut the AI off
	BargeRetreat                 // voice stopped before confirmation
)

// BargeParams tunes the local voice detector that drives barge-in.
type BargeParams struct {
	EnergyThreshold float64
	ZCRThreshold    float64
	CandidateFrames int
	ConfirmFrames   int

	// Frames arriving within this window of the AI starting to speak need
	// extra energy to count as voice, since line echo of the AI's own audio
	// peaks right after playback begins.
	EchoGuardWindow time.Duration
	// Energy multiplier applied inside the echo guard window.
	EchoGuardFactor float64
}

// BargeDetector watches inbound caller frames while the AI is speaking and
// decides when sustained voice becomes a candidate and then a confirmed
// barge-in. It is advisory alongside the provider's server VAD; either
// signal can confirm, this one works even when the provider is slow.
type BargeDetector struct {
	params BargeParams

	voicedRun   int
	isCandidate bool
}

// NewBargeDetector creates a detector with the given tuning.
func NewBargeDetector(params BargeParams) *BargeDetector {
	if params.EchoGuardFactor <= 1 {
		params.EchoGuardFactor = 2.0
	}
	return &BargeDetector{params: params}
}

// Observe feeds one caller frame of PCM16 bytes. speakingFor is how long the
// AI has held the floor, used by the echo guard.
func (d *BargeDetector) Observe(pcm []byte, speakingFor time.Duration) BargeDecision {
	energy := d.params.EnergyThreshold
	if speakingFor >= 0 && speakingFor < d.params.EchoGuardWindow {
		energy *= d.params.EchoGuardFactor
	}

	if !audio.HasVoice(pcm, energy, d.params.ZCRThreshold) {
		wasCandidate := d.isCandidate
		d.voicedRun = 0
		d.isCandidate = false
		if wasCandidate {
			return BargeRetreat
		}
		return BargeNone
	}

	d.voicedRun++
	if d.voicedRun >= d.params.ConfirmFrames {
		d.voicedRun = 0
		d.isCandidate = false
		return BargeConfirmed
	}
	if d.voicedRun >= d.params.CandidateFrames && !d.isCandidate {
		d.isCandidate = true
		return BargeCandidate
	}
	return BargeNone
}

// Confirm short-circuits the frame count: the provider's server VAD reported
// speech while a candidate was open, which confirms the barge immediately.
func (d *BargeDetector) Confirm() BargeDecision {
	if !d.isCandidate {
		return BargeNone
	}
	d.voicedRun = 0
	d.isCandidate = false
	return BargeConfirmed
}

// Reset clears detector state, called on every floor change.
func (d *BargeDetector) Reset() {
	d.voicedRun = 0
	d.isCandidate = false
}
