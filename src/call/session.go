package call

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Direction indicates who initiated the call.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Session is the per-call record: one per carrier stream, created on the
// carrier "start" envelope and closed on "stop" or teardown.
type Session struct {
	ID        string
	StreamID  string
	Direction Direction
	StartedAt time.Time

	mu      sync.RWMutex
	state   State
	endedAt time.Time

	// Conversation log for the diagnostic dump and post-call hand-off.
	// The core never persists it.
	transcript []TranscriptEntry
}

// TranscriptEntry is one confirmed conversational turn.
type TranscriptEntry struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// NewSession creates a session in the initial FSM state for its direction.
func NewSession(id, streamID string, direction Direction) *Session {
	return &Session{
		ID:        id,
		StreamID:  streamID,
		Direction: direction,
		StartedAt: time.Now(),
		state:     StateGreetingPending,
	}
}

// State returns the current FSM state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ErrInvalidTransition is returned when an FSM edge is not legal. The newer
// operation is rejected; existing state is never overwritten.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition moves the session along a guarded FSM edge.
func (s *Session) Transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	if to == StateClosed {
		s.endedAt = time.Now()
	}
	return nil
}

// Ended reports whether the session reached a terminal state.
func (s *Session) Ended() bool {
	return s.State() == StateClosed
}

// EndedAt returns when the session closed, zero if still live.
func (s *Session) EndedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endedAt
}

// AppendTranscript records one confirmed turn.
func (s *Session) AppendTranscript(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, TranscriptEntry{Role: role, Text: text, At: time.Now()})
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}
