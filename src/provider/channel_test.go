package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-process realtime endpoint: it records everything the
// client sends and lets tests push server events back.
type fakeProvider struct {
	upgrader websocket.Upgrader
	server   *httptest.Server

	mu       sync.Mutex
	received []map[string]interface{}

	connCh chan *websocket.Conn
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{connCh: make(chan *websocket.Conn, 1)}
	fp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := fp.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fp.connCh <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var decoded map[string]interface{}
			if json.Unmarshal(msg, &decoded) == nil {
				fp.mu.Lock()
				fp.received = append(fp.received, decoded)
				fp.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) url() string {
	return "ws" + strings.TrimPrefix(fp.server.URL, "http")
}

func (fp *fakeProvider) sent(eventType string) []map[string]interface{} {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	var out []map[string]interface{}
	for _, m := range fp.received {
		if m["type"] == eventType {
			out = append(out, m)
		}
	}
	return out
}

func (fp *fakeProvider) waitFor(t *testing.T, eventType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := fp.sent(eventType); len(got) > 0 {
			return got[len(got)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client never sent %s", eventType)
	return nil
}

func connectedChannel(t *testing.T, fp *fakeProvider) (*Channel, *websocket.Conn) {
	t.Helper()
	ch := NewChannel(Config{URL: fp.url(), APIKey: "test-key"}, "call-1")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, ch.Connect(ctx, SessionConfig{Instructions: "be brief", Voice: "alloy"}))
	t.Cleanup(ch.Close)

	select {
	case conn := <-fp.connCh:
		return ch, conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the connection")
		return nil, nil
	}
}

func TestConnectSendsSessionConfig(t *testing.T) {
	fp := newFakeProvider(t)
	_, _ = connectedChannel(t, fp)

	update := fp.waitFor(t, "session.update")
	session, ok := update["session"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "be brief", session["instructions"])
	assert.Equal(t, "alloy", session["voice"])
	assert.Equal(t, "pcm16", session["input_audio_format"])
	assert.Equal(t, "pcm16", session["output_audio_format"])
}

func TestSendAudioAndResponseControl(t *testing.T) {
	fp := newFakeProvider(t)
	ch, _ := connectedChannel(t, fp)

	require.NoError(t, ch.SendAudio([]byte{0x01, 0x02}))
	fp.waitFor(t, "input_audio_buffer.append")

	require.NoError(t, ch.CreateResponse(""))
	create := fp.waitFor(t, "response.create")
	_, hasOverride := create["response"]
	assert.False(t, hasOverride, "plain response.create carries no override")

	require.NoError(t, ch.CreateResponse("greet the caller"))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fp.sent("response.create")) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	creates := fp.sent("response.create")
	require.Len(t, creates, 2)
	override, ok := creates[1]["response"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "greet the caller", override["instructions"])

	require.NoError(t, ch.CancelResponse("resp_9"))
	cancelEv := fp.waitFor(t, "response.cancel")
	assert.Equal(t, "resp_9", cancelEv["response_id"])
}

func TestCancelAckTracking(t *testing.T) {
	fp := newFakeProvider(t)
	ch, serverConn := connectedChannel(t, fp)

	assert.False(t, ch.CancelAcked("resp_1"))

	ack := `{"type":"response.done","response":{"id":"resp_1","status":"cancelled"}}`
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte(ack)))

	var got Event
	select {
	case got = <-ch.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel ack never surfaced")
	}
	assert.Equal(t, EventResponseCancelled, got.Type)
	assert.Equal(t, "resp_1", got.ResponseID)
	assert.True(t, ch.CancelAcked("resp_1"))
}

func TestConnectRetriesThenFails(t *testing.T) {
	attempts := 0
	ch := NewChannel(Config{
		URL:             "ws://127.0.0.1:1",
		ConnectAttempts: 3,
		ConnectBackoff:  time.Millisecond,
	}, "call-1")
	ch.dial = func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	err := ch.Connect(context.Background(), SessionConfig{})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestReconnectAfterMidCallDrop(t *testing.T) {
	fp := newFakeProvider(t)
	ch, first := connectedChannel(t, fp)

	// Make sure the initial session.update has been read off the socket
	// before killing it; a reset would discard it unread.
	fp.waitFor(t, "session.update")

	// Kill the socket server-side; the client must re-dial on its own and
	// reconfigure the session on the new socket.
	_ = first.Close()

	select {
	case <-fp.connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("client never re-dialed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fp.sent("session.update")) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, len(fp.sent("session.update")), 2,
		"session must be reconfigured after the reconnect")

	// The channel stays usable for the rest of the call.
	require.NoError(t, ch.SendAudio([]byte{0x01, 0x02}))
	fp.waitFor(t, "input_audio_buffer.append")
}

func TestReconnectExhaustionSurfacesError(t *testing.T) {
	fp := newFakeProvider(t)
	ch, serverConn := connectedChannel(t, fp)

	ch.cfg.ConnectAttempts = 2
	ch.cfg.ConnectBackoff = time.Millisecond
	ch.cfg.ConnectBackoffCap = time.Millisecond
	ch.dial = func(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, error) {
		return nil, errors.New("connection refused")
	}
	_ = serverConn.Close()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatal("events closed without surfacing the fault")
			}
			if ev.Type == EventError {
				assert.Contains(t, ev.Err, "reconnect failed after 2 attempts")
				return
			}
		case <-timeout:
			t.Fatal("reconnect exhaustion never surfaced")
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	fp := newFakeProvider(t)
	ch, _ := connectedChannel(t, fp)
	ch.Close()
	assert.Error(t, ch.SendAudio([]byte{0x01}))
}
