package call

// State is one node of the per-call turn-taking FSM.
type State int

const (
	StateGreetingPending State = iota + 1
	StateGreetingPlaying
	StateListening
	StateAISpeaking
	StateBargeCandidate
	StateBargeConfirmed
	StateSilenceWarning1
	StateSilenceWarning2
	StateHangup
	StateCallEnding
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreetingPending:
		return "greeting_pending"
	case StateGreetingPlaying:
		return "greeting_playing"
	case StateListening:
		return "listening"
	case StateAISpeaking:
		return "ai_speaking"
	case StateBargeCandidate:
		return "barge_candidate"
	case StateBargeConfirmed:
		return "barge_confirmed"
	case StateSilenceWarning1:
		return "silence_warning_1"
	case StateSilenceWarning2:
		return "silence_warning_2"
	case StateHangup:
		return "hangup"
	case StateCallEnding:
		return "call_ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions may leave this state.
func (s State) Terminal() bool {
	return s == StateClosed
}

// Speaking reports whether the AI holds the floor in this state.
func (s State) Speaking() bool {
	switch s {
	case StateGreetingPlaying, StateAISpeaking, StateBargeCandidate:
		return true
	default:
		return false
	}
}

// validTransitions maps each state to the states it may move to. Silence
// escalation and teardown are reachable from every live state, handled in
// CanTransition rather than enumerated here.
var validTransitions = map[State][]State{
	StateGreetingPending: {StateGreetingPlaying, StateListening, StateAISpeaking},
	StateGreetingPlaying: {StateListening, StateAISpeaking, StateBargeCandidate},
	StateListening:       {StateAISpeaking},
	StateAISpeaking:      {StateListening, StateBargeCandidate},
	StateBargeCandidate:  {StateBargeConfirmed, StateAISpeaking, StateListening},
	StateBargeConfirmed:  {StateListening},
	StateSilenceWarning1: {StateListening, StateAISpeaking, StateSilenceWarning2},
	StateSilenceWarning2: {StateListening, StateAISpeaking, StateHangup},
	StateHangup:          {StateCallEnding},
	StateCallEnding:      {StateClosed},
	StateClosed:          {},
}

// CanTransition reports whether from -> to is a legal FSM edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	// Any live state may escalate into silence handling or teardown.
	switch to {
	case StateSilenceWarning1, StateCallEnding:
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
