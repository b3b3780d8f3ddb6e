package carrier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory Conn: inbound messages are fed through a channel,
// outbound writes are recorded with timestamps.
type fakeConn struct {
	in chan []byte

	mu         sync.Mutex
	writes     [][]byte
	writeTimes []time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-f.in:
		if !ok {
			return 0, nil, errors.New("connection closed")
		}
		return 1, msg, nil
	case <-f.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("connection closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	f.writeTimes = append(f.writeTimes, time.Now())
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) mediaWrites() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, w := range f.writes {
		var env Envelope
		if json.Unmarshal(w, &env) == nil && env.Event == EventMedia {
			out = append(out, w)
		}
	}
	return out
}

func testChannel(t *testing.T, conn Conn, queueFrames int, responseActive func() bool, onFatal func(string, error)) *Channel {
	t.Helper()
	return NewChannel(conn, "call-1", "MZ1", ChannelConfig{QueueFrames: queueFrames}, responseActive, onFatal)
}

func TestInboundEventsInArrivalOrder(t *testing.T) {
	conn := newFakeConn()
	ch := testChannel(t, conn, 10, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Close()

	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	conn.in <- []byte(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	conn.in <- []byte(`{"event":"media","media":{"payload":"` + payload + `"}}`)
	conn.in <- []byte(`this is not json`) // protocol fault: skipped, loop survives
	conn.in <- []byte(`{"event":"mark","mark":{"name":"m1"}}`)
	conn.in <- []byte(`{"event":"stop"}`)

	var got []EventType
	for ev := range ch.Events() {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []EventType{EventTypeStart, EventTypeMedia, EventTypeMark, EventTypeStop}, got)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	conn := newFakeConn()
	ch := testChannel(t, conn, 3, nil, nil)
	// Not started: nothing drains the queue.

	frame := make([]byte, 160)
	for i := 0; i < 5; i++ {
		require.NoError(t, ch.EnqueueOutbound(frame))
	}

	assert.Equal(t, 3, ch.QueueDepth())
	assert.Equal(t, int64(2), ch.FramesDropped())
}

func TestPacerRate(t *testing.T) {
	conn := newFakeConn()
	ch := testChannel(t, conn, 150, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Close()

	// Burst 10 frames at once; they must leave one per tick, not in a burst.
	frame := make([]byte, 160)
	for i := 0; i < 10; i++ {
		require.NoError(t, ch.EnqueueOutbound(frame))
	}

	deadline := time.Now().Add(2 * time.Second)
	for ch.FramesSent() < 10 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, int64(10), ch.FramesSent())

	writes := conn.mediaWrites()
	require.Len(t, writes, 10)

	// 10 frames need at least 9 inter-frame gaps of one tick each; allow
	// generous scheduler jitter but reject bursting.
	conn.mu.Lock()
	var mediaTimes []time.Time
	for i, w := range conn.writes {
		var env Envelope
		if json.Unmarshal(w, &env) == nil && env.Event == EventMedia {
			mediaTimes = append(mediaTimes, conn.writeTimes[i])
		}
	}
	conn.mu.Unlock()
	elapsed := mediaTimes[len(mediaTimes)-1].Sub(mediaTimes[0])
	assert.GreaterOrEqual(t, elapsed, 9*PaceInterval/2, "frames must be paced, not burst")
}

func TestFlushEmptiesQueueAndSendsClear(t *testing.T) {
	conn := newFakeConn()
	ch := testChannel(t, conn, 150, nil, nil)

	frame := make([]byte, 160)
	for i := 0; i < 100; i++ {
		require.NoError(t, ch.EnqueueOutbound(frame))
	}
	require.Equal(t, 100, ch.QueueDepth())

	started := time.Now()
	ch.Flush()
	assert.Less(t, time.Since(started), PaceInterval, "flush must complete within one tick")
	assert.Equal(t, 0, ch.QueueDepth())
	assert.True(t, ch.Drained())

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.NotEmpty(t, conn.writes)
	var env Envelope
	require.NoError(t, json.Unmarshal(conn.writes[len(conn.writes)-1], &env))
	assert.Equal(t, EventClear, env.Event)
}

func TestWatchdogFiresOnStall(t *testing.T) {
	conn := newFakeConn()

	var fatalMu sync.Mutex
	var fatalReason string
	onFatal := func(reason string, err error) {
		fatalMu.Lock()
		defer fatalMu.Unlock()
		if fatalReason == "" {
			fatalReason = reason
		}
	}

	// A response is active for the whole test but no audio ever arrives:
	// zero throughput while active is fatal within ~2 heartbeats.
	ch := testChannel(t, conn, 10, func() bool { return true }, onFatal)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Close()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		fatalMu.Lock()
		reason := fatalReason
		fatalMu.Unlock()
		if reason != "" {
			assert.Equal(t, "pacer_stall", reason)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watchdog did not fire")
}

func TestStreamIDFixedAtConstruction(t *testing.T) {
	conn := newFakeConn()
	ch := testChannel(t, conn, 10, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.Start(ctx)
	defer ch.Close()

	// A start envelope carrying a different stream id must not leak into
	// outbound envelopes; the id the channel was built with wins.
	conn.in <- []byte(`{"event":"start","start":{"streamSid":"OTHER","callSid":"CA1"}}`)
	<-ch.Events()

	require.NoError(t, ch.EnqueueOutbound(make([]byte, 160)))
	deadline := time.Now().Add(2 * time.Second)
	for ch.FramesSent() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	writes := conn.mediaWrites()
	require.NotEmpty(t, writes)
	var env Envelope
	require.NoError(t, json.Unmarshal(writes[0], &env))
	assert.Equal(t, "MZ1", env.StreamID)
}

func TestEnqueueAfterClose(t *testing.T) {
	conn := newFakeConn()
	ch := testChannel(t, conn, 10, nil, nil)
	ch.Close()
	assert.ErrorIs(t, ch.EnqueueOutbound(make([]byte, 160)), ErrClosed)
}
