package carrier

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStartEnvelope(t *testing.T) {
	raw := `{"event":"start","streamSid":"MZ123","start":{"streamSid":"MZ123","callSid":"CA456","customParameters":{"direction":"outbound"}}}`
	env, err := ParseEnvelope([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, EventStart, env.Event)
	require.NotNil(t, env.Start)
	assert.Equal(t, "CA456", env.Start.CallID)
	assert.Equal(t, "outbound", env.Start.CustomParameters["direction"])
}

func TestParseMediaEnvelope(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	raw := `{"event":"media","media":{"payload":"` + payload + `","timestamp":"1234"}}`

	env, err := ParseEnvelope([]byte(raw))
	require.NoError(t, err)

	mulaw, err := env.AudioPayload()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x7F, 0x00}, mulaw)
}

func TestParseMalformed(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"streamSid":"MZ123"}`))
	assert.Error(t, err, "missing event must be rejected")
}

func TestBadAudioPayload(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"media","media":{"payload":"!!!not-base64!!!"}}`))
	require.NoError(t, err)
	_, err = env.AudioPayload()
	assert.Error(t, err)
}

func TestMediaEnvelopeRoundTrip(t *testing.T) {
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = byte(i)
	}

	data, err := MediaEnvelope("MZ123", frame)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventMedia, env.Event)
	assert.Equal(t, "MZ123", env.StreamID)

	decoded, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestMarkAndClearEnvelopes(t *testing.T) {
	data, err := MarkEnvelope("MZ123", "farewell-done")
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventMark, env.Event)
	assert.Equal(t, "farewell-done", env.Mark.Name)

	data, err = ClearEnvelope("MZ123")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, EventClear, env.Event)
}

func TestFrameAligned(t *testing.T) {
	assert.True(t, FrameAligned(make([]byte, 160)))
	assert.True(t, FrameAligned(make([]byte, 320)))
	assert.False(t, FrameAligned(make([]byte, 100)))
	assert.False(t, FrameAligned(nil))
}
