// Package carrier handles the telephony provider's bidirectional media
// WebSocket: envelope parsing on the way in, fixed-cadence mu-law pacing on
// the way out.
package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Envelope event names on the carrier media stream.
const (
	EventStart = "start"
	EventMedia = "media"
	EventMark  = "mark"
	EventStop  = "stop"
	EventClear = "clear"
)

// Envelope is one carrier WebSocket message, inbound or outbound.
type Envelope struct {
	Event     string                 `json:"event"`
	StreamID  string                 `json:"streamSid,omitempty"`
	Media     *MediaPayload          `json:"media,omitempty"`
	Start     *StartPayload          `json:"start,omitempty"`
	Mark      *MarkPayload           `json:"mark,omitempty"`
	Stop      map[string]interface{} `json:"stop,omitempty"`
}

// MediaPayload carries one chunk of base64 mu-law audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"` // base64-encoded mu-law
}

// StartPayload opens a stream and identifies the call.
type StartPayload struct {
	StreamID         string            `json:"streamSid"`
	CallID           string            `json:"callSid"`
	AccountID        string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MarkPayload echoes a playback marker.
type MarkPayload struct {
	Name string `json:"name"`
}

// ParseEnvelope decodes one inbound carrier message.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed carrier envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("carrier envelope missing event")
	}
	return &env, nil
}

// AudioPayload decodes the media payload of a media envelope.
func (e *Envelope) AudioPayload() ([]byte, error) {
	if e.Media == nil {
		return nil, fmt.Errorf("media envelope missing media payload")
	}
	audio, err := base64.StdEncoding.DecodeString(e.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return audio, nil
}

// MediaEnvelope builds an outbound media message from raw mu-law bytes.
func MediaEnvelope(streamID string, mulaw []byte) ([]byte, error) {
	env := Envelope{
		Event:    EventMedia,
		StreamID: streamID,
		Media:    &MediaPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal media envelope: %w", err)
	}
	return data, nil
}

// MarkEnvelope builds an outbound playback marker.
func MarkEnvelope(streamID, name string) ([]byte, error) {
	env := Envelope{
		Event:    EventMark,
		StreamID: streamID,
		Mark:     &MarkPayload{Name: name},
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mark envelope: %w", err)
	}
	return data, nil
}

// ClearEnvelope builds the message that tells the carrier to drop any audio
// it has buffered for playback. Sent on barge-in.
func ClearEnvelope(streamID string) ([]byte, error) {
	env := Envelope{
		Event:    EventClear,
		StreamID: streamID,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal clear envelope: %w", err)
	}
	return data, nil
}
