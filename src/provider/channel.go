package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/logger"
)

// Config holds the provider connection settings.
type Config struct {
	URL    string
	APIKey string
	Model  string

	ConnectAttempts   int
	ConnectBackoff    time.Duration
	ConnectBackoffCap time.Duration
}

// SessionConfig is the one-time session setup, sent right after connecting.
// Instructions may be replaced at most once more via UpdateInstructions.
type SessionConfig struct {
	Instructions   string
	Voice          string
	VADSensitivity float64 // server VAD threshold, 0 keeps the provider default
}

// Channel is the WebSocket client for one call's provider leg.
type Channel struct {
	cfg  Config
	log  *zap.Logger
	dial func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, error)

	// conn is guarded by writeMu: a mid-call reconnect swaps it while other
	// goroutines are sending.
	conn    *websocket.Conn
	writeMu sync.Mutex

	// session is resent verbatim after a reconnect, upgraded instructions
	// included.
	sessionMu sync.Mutex
	session   SessionConfig

	events chan Event

	ackMu     sync.Mutex
	cancelAck map[string]bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel creates an unconnected provider channel.
func NewChannel(cfg Config, callID string) *Channel {
	if cfg.ConnectAttempts <= 0 {
		cfg.ConnectAttempts = 3
	}
	if cfg.ConnectBackoff <= 0 {
		cfg.ConnectBackoff = time.Second
	}
	if cfg.ConnectBackoffCap <= 0 {
		cfg.ConnectBackoffCap = 4 * time.Second
	}
	return &Channel{
		cfg: cfg,
		log: logger.Call("provider", callID),
		dial: func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, header)
			return conn, err
		},
		events:    make(chan Event, 256),
		cancelAck: make(map[string]bool),
		closed:    make(chan struct{}),
	}
}

// Connect dials the provider with bounded retries and capped backoff, then
// sends the session configuration and starts the event reader. On failure
// after all attempts the caller is expected to play the fallback message and
// end the call rather than leave silence.
func (c *Channel) Connect(ctx context.Context, session SessionConfig) error {
	c.sessionMu.Lock()
	c.session = session
	c.sessionMu.Unlock()

	backoff := c.cfg.ConnectBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		conn, err := c.dial(ctx, c.endpoint(), c.authHeader())
		if err == nil {
			c.setConn(conn)
			if err := c.sendSessionUpdate(session); err != nil {
				_ = conn.Close()
				return fmt.Errorf("failed to configure session: %w", err)
			}
			go c.readLoop(ctx)
			c.log.Info("provider connected", zap.Int("attempt", attempt))
			return nil
		}

		lastErr = err
		c.log.Warn("provider connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.ConnectAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if attempt == c.cfg.ConnectAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.ConnectBackoffCap {
			backoff = c.cfg.ConnectBackoffCap
		}
	}
	return fmt.Errorf("provider unreachable after %d attempts: %w", c.cfg.ConnectAttempts, lastErr)
}

// reconnect re-dials a socket that dropped mid-call, with the same bounded
// retry policy as Connect, and reconfigures the session on the new socket.
// The caller surfaces a fault only after exhaustion.
func (c *Channel) reconnect(ctx context.Context) error {
	backoff := c.cfg.ConnectBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return fmt.Errorf("provider channel closed")
		default:
		}

		conn, err := c.dial(ctx, c.endpoint(), c.authHeader())
		if err == nil {
			old := c.currentConn()
			c.setConn(conn)
			if old != nil {
				_ = old.Close()
			}
			c.sessionMu.Lock()
			session := c.session
			c.sessionMu.Unlock()
			if err = c.sendSessionUpdate(session); err == nil {
				c.log.Info("provider reconnected", zap.Int("attempt", attempt))
				return nil
			}
		}

		lastErr = err
		c.log.Warn("provider reconnect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.ConnectAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		if attempt == c.cfg.ConnectAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.ConnectBackoffCap {
			backoff = c.cfg.ConnectBackoffCap
		}
	}
	return fmt.Errorf("provider reconnect failed after %d attempts: %w", c.cfg.ConnectAttempts, lastErr)
}

func (c *Channel) endpoint() string {
	if c.cfg.Model != "" {
		return fmt.Sprintf("%s?model=%s", c.cfg.URL, c.cfg.Model)
	}
	return c.cfg.URL
}

func (c *Channel) authHeader() http.Header {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")
	return header
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
}

func (c *Channel) currentConn() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

// Events surfaces decoded provider events in arrival order.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// SendAudio forwards one frame of PCM16 mic audio.
func (c *Channel) SendAudio(pcm []byte) error {
	return c.send(audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateResponse asks the provider to speak. Optional per-response
// instructions override the session instructions for this turn only (used
// for the greeting and the silence warnings).
func (c *Channel) CreateResponse(instructions string) error {
	ev := responseCreateEvent{Type: "response.create"}
	if instructions != "" {
		ev.Response = &responseParams{Instructions: instructions}
	}
	return c.send(ev)
}

// CancelResponse requests cancellation of the active response. The
// acknowledgment arrives asynchronously; poll CancelAcked.
func (c *Channel) CancelResponse(responseID string) error {
	c.log.Info("cancelling response", zap.String("response_id", responseID))
	return c.send(responseCancelEvent{Type: "response.cancel", ResponseID: responseID})
}

// CancelAcked reports whether the provider has acknowledged cancellation of
// the given response id.
func (c *Channel) CancelAcked(responseID string) bool {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.cancelAck[responseID]
}

// UpdateInstructions performs the one-time mid-call prompt upgrade. The new
// instructions survive a reconnect.
func (c *Channel) UpdateInstructions(instructions string) error {
	c.sessionMu.Lock()
	c.session.Instructions = instructions
	c.sessionMu.Unlock()

	c.log.Info("upgrading session instructions", zap.Int("length", len(instructions)))
	return c.send(sessionUpdateEvent{
		Type:    "session.update",
		Session: sessionConfig{Instructions: instructions},
	})
}

// Close shuts the provider leg down. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if conn := c.currentConn(); conn != nil {
			_ = conn.Close()
		}
	})
}

func (c *Channel) sendSessionUpdate(session SessionConfig) error {
	cfg := sessionConfig{
		Instructions:            session.Instructions,
		Voice:                   session.Voice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		Modalities:              []string{"audio", "text"},
		InputAudioTranscription: &transcriptionCfg{Model: "whisper-1"},
	}
	td := &turnDetection{Type: "server_vad"}
	if session.VADSensitivity > 0 {
		td.Threshold = session.VADSensitivity
	}
	cfg.TurnDetection = td

	return c.send(sessionUpdateEvent{Type: "session.update", Session: cfg})
}

func (c *Channel) send(payload interface{}) error {
	select {
	case <-c.closed:
		return fmt.Errorf("provider channel closed")
	default:
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal provider event: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("provider not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("provider write failed: %w", err)
	}
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.events)
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		_, message, err := c.currentConn().ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			case <-ctx.Done():
				return
			default:
			}

			c.log.Warn("provider read error, attempting reconnect", zap.Error(err))
			if rerr := c.reconnect(ctx); rerr != nil {
				c.log.Error("provider reconnect exhausted", zap.Error(rerr))
				// Surface the transport fault as an event so the engine can
				// run its fallback path.
				select {
				case c.events <- Event{Type: EventError, Err: rerr.Error()}:
				default:
				}
				return
			}
			continue
		}

		event, ok, err := decodeServerEvent(message)
		if err != nil {
			// Protocol fault: log and skip the event, never crash the loop.
			c.log.Warn("skipping malformed provider event", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		if event.Type == EventResponseCancelled {
			c.ackMu.Lock()
			c.cancelAck[event.ResponseID] = true
			c.ackMu.Unlock()
		}

		select {
		case c.events <- event:
		case <-ctx.Done():
			return
		}
	}
}
