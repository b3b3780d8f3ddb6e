// Package provider is the WebSocket client for the realtime speech-to-speech
// model. It forwards audio and session configuration upstream and surfaces
// provider events downstream without acting on them; all turn-taking
// decisions belong to the engine.
package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType classifies provider events the engine cares about.
type EventType int

const (
	EventSessionReady EventType = iota
	EventSpeechStarted           // advisory server VAD, not sole authority
	EventSpeechStopped
	EventResponseCreated
	EventAudioDelta
	EventTranscriptDelta // the AI's own speech, streamed
	EventTranscriptDone
	EventUserTranscript // recognized user speech
	EventResponseDone
	EventResponseCancelled
	EventFunctionCall
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSessionReady:
		return "session_ready"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventResponseCreated:
		return "response_created"
	case EventAudioDelta:
		return "audio_delta"
	case EventTranscriptDelta:
		return "transcript_delta"
	case EventTranscriptDone:
		return "transcript_done"
	case EventUserTranscript:
		return "user_transcript"
	case EventResponseDone:
		return "response_done"
	case EventResponseCancelled:
		return "response_cancelled"
	case EventFunctionCall:
		return "function_call"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one decoded provider event, surfaced in arrival order.
type Event struct {
	Type       EventType
	ResponseID string
	Audio      []byte // decoded PCM16 for audio deltas
	Text       string // transcript text
	Name       string // function call name
	Arguments  string // function call arguments, raw JSON
	Err        string
}

// serverEvent is the wire shape of provider messages. Only the fields the
// engine consumes are mapped; everything else is ignored.
type serverEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id,omitempty"`
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	CallID     string `json:"call_id,omitempty"`

	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// decodeServerEvent maps one raw provider message to an Event.
// ok=false means the event type carries nothing the engine acts on.
func decodeServerEvent(data []byte) (Event, bool, error) {
	var raw serverEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, false, fmt.Errorf("malformed provider event: %w", err)
	}

	switch raw.Type {
	case "session.created", "session.updated":
		return Event{Type: EventSessionReady}, true, nil

	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true, nil

	case "input_audio_buffer.speech_stopped":
		return Event{Type: EventSpeechStopped}, true, nil

	case "response.created":
		if raw.Response == nil {
			return Event{}, false, fmt.Errorf("response.created missing response")
		}
		return Event{Type: EventResponseCreated, ResponseID: raw.Response.ID}, true, nil

	case "response.audio.delta", "response.output_audio.delta":
		audio, err := base64.StdEncoding.DecodeString(raw.Delta)
		if err != nil {
			return Event{}, false, fmt.Errorf("bad audio delta: %w", err)
		}
		return Event{Type: EventAudioDelta, ResponseID: raw.ResponseID, Audio: audio}, true, nil

	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return Event{Type: EventTranscriptDelta, ResponseID: raw.ResponseID, Text: raw.Delta}, true, nil

	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return Event{Type: EventTranscriptDone, ResponseID: raw.ResponseID, Text: raw.Transcript}, true, nil

	case "conversation.item.input_audio_transcription.completed":
		return Event{Type: EventUserTranscript, Text: raw.Transcript}, true, nil

	case "response.done":
		if raw.Response == nil {
			return Event{}, false, fmt.Errorf("response.done missing response")
		}
		if raw.Response.Status == "cancelled" {
			return Event{Type: EventResponseCancelled, ResponseID: raw.Response.ID}, true, nil
		}
		return Event{Type: EventResponseDone, ResponseID: raw.Response.ID}, true, nil

	case "response.cancelled":
		id := raw.ResponseID
		if id == "" && raw.Response != nil {
			id = raw.Response.ID
		}
		return Event{Type: EventResponseCancelled, ResponseID: id}, true, nil

	case "response.function_call_arguments.done":
		return Event{Type: EventFunctionCall, Name: raw.Name, Arguments: raw.Arguments}, true, nil

	case "error":
		msg := "unknown provider error"
		if raw.Error != nil {
			msg = raw.Error.Message
		}
		return Event{Type: EventError, Err: msg}, true, nil

	default:
		// Lifecycle chatter the engine does not act on.
		return Event{}, false, nil
	}
}

// Client event payloads.

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Instructions            string            `json:"instructions,omitempty"`
	Voice                   string            `json:"voice,omitempty"`
	InputAudioFormat        string            `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string            `json:"output_audio_format,omitempty"`
	Modalities              []string          `json:"modalities,omitempty"`
	TurnDetection           *turnDetection    `json:"turn_detection,omitempty"`
	InputAudioTranscription *transcriptionCfg `json:"input_audio_transcription,omitempty"`
}

type turnDetection struct {
	Type      string  `json:"type"`
	Threshold float64 `json:"threshold,omitempty"`
}

type transcriptionCfg struct {
	Model string `json:"model"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16
}

type responseCancelEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
}

type responseCreateEvent struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}
