package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRejectEmpty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n", "..."} {
		v := Accept(raw, time.Second, Params{})
		assert.False(t, v.Accepted, "raw=%q", raw)
		assert.Equal(t, ReasonEmpty, v.Reason)
	}
}

func TestWhitelistBypassesDuration(t *testing.T) {
	// "הלו" lasts well under the minimum duration and must still pass.
	for _, raw := range []string{"הלו", "הלו?", "Hello", "כן", "yes", "OK."} {
		v := Accept(raw, 50*time.Millisecond, Params{MinDuration: 300 * time.Millisecond})
		assert.True(t, v.Accepted, "raw=%q reason=%s", raw, v.Reason)
		assert.Equal(t, ReasonWhitelisted, v.Reason)
	}
}

func TestRejectFillerOnly(t *testing.T) {
	for _, raw := range []string{"um", "uh um", "אה", "אה אממ"} {
		v := Accept(raw, time.Second, Params{})
		assert.False(t, v.Accepted, "raw=%q", raw)
		assert.Equal(t, ReasonFillerOnly, v.Reason)
	}
}

func TestRejectRepeatedToken(t *testing.T) {
	v := Accept("תודה תודה תודה תודה", time.Second, Params{})
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonRepeatedToken, v.Reason)

	// Twice is normal speech.
	v = Accept("תודה תודה", time.Second, Params{})
	assert.True(t, v.Accepted)
}

func TestRejectGarbled(t *testing.T) {
	v := Accept("1234 5678", time.Second, Params{})
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonGarbled, v.Reason)

	v = Accept("abcdefghijklmnopqrstuvwxyzabcdefghij", time.Second, Params{})
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonGarbled, v.Reason)
}

func TestRejectShortBurst(t *testing.T) {
	v := Accept("מחר בבוקר", 100*time.Millisecond, Params{MinDuration: 300 * time.Millisecond})
	assert.False(t, v.Accepted)
	assert.Equal(t, ReasonTooShort, v.Reason)

	// Same text with a real duration passes.
	v = Accept("מחר בבוקר", 600*time.Millisecond, Params{MinDuration: 300 * time.Millisecond})
	assert.True(t, v.Accepted)
	assert.Equal(t, ReasonAccepted, v.Reason)
}

func TestUnknownDurationAccepted(t *testing.T) {
	// A zero duration means the recognizer did not report one; content checks
	// alone decide.
	v := Accept("אני רוצה לקבוע תור", 0, Params{})
	assert.True(t, v.Accepted)
}

func TestPure(t *testing.T) {
	a := Accept("שלום לך", 500*time.Millisecond, Params{})
	b := Accept("שלום לך", 500*time.Millisecond, Params{})
	assert.Equal(t, a, b)
}
