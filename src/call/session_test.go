package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionInitialState(t *testing.T) {
	s := NewSession("call-1", "stream-1", Inbound)
	assert.Equal(t, StateGreetingPending, s.State())
	assert.False(t, s.Ended())
}

func TestBargeInWalk(t *testing.T) {
	s := NewSession("call-1", "stream-1", Inbound)

	for _, next := range []State{
		StateGreetingPlaying,
		StateListening,
		StateAISpeaking,
		StateBargeCandidate,
		StateBargeConfirmed,
		StateListening,
	} {
		require.NoError(t, s.Transition(next), "to %s", next)
	}
	assert.Equal(t, StateListening, s.State())
}

func TestInvalidTransitionRejected(t *testing.T) {
	s := NewSession("call-1", "stream-1", Inbound)

	// Listening cannot jump straight to barge confirmation.
	require.NoError(t, s.Transition(StateListening))
	err := s.Transition(StateBargeConfirmed)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// The rejected operation must not have overwritten state.
	assert.Equal(t, StateListening, s.State())
}

func TestTerminalStateIsFinal(t *testing.T) {
	s := NewSession("call-1", "stream-1", Outbound)
	require.NoError(t, s.Transition(StateCallEnding))
	require.NoError(t, s.Transition(StateClosed))
	assert.True(t, s.Ended())
	assert.False(t, s.EndedAt().IsZero())

	err := s.Transition(StateListening)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSilenceEscalationFromAnyLiveState(t *testing.T) {
	s := NewSession("call-1", "stream-1", Inbound)
	require.NoError(t, s.Transition(StateSilenceWarning1))
	require.NoError(t, s.Transition(StateSilenceWarning2))
	require.NoError(t, s.Transition(StateHangup))
	require.NoError(t, s.Transition(StateCallEnding))
	require.NoError(t, s.Transition(StateClosed))
}

func TestSpeakingStates(t *testing.T) {
	assert.True(t, StateAISpeaking.Speaking())
	assert.True(t, StateGreetingPlaying.Speaking())
	assert.True(t, StateBargeCandidate.Speaking())
	assert.False(t, StateListening.Speaking())
	assert.False(t, StateBargeConfirmed.Speaking())
}

func TestTranscript(t *testing.T) {
	s := NewSession("call-1", "stream-1", Inbound)
	s.AppendTranscript("user", "שלום")
	s.AppendTranscript("assistant", "hello")

	entries := s.Transcript()
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "שלום", entries[0].Text)
}
