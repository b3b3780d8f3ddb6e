package carrier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/square-key-labs/voicewire/src/audio"
	"github.com/square-key-labs/voicewire/src/logger"
)

// PaceInterval is the fixed outbound cadence: one 20ms frame per tick,
// 50 frames per second.
const PaceInterval = 20 * time.Millisecond

const (
	heartbeatInterval = time.Second
	stallWindow       = time.Second
)

// ErrClosed is returned when the channel has shut down.
var ErrClosed = errors.New("carrier channel closed")

// EventType classifies inbound carrier events.
type EventType int

const (
	EventTypeStart EventType = iota
	EventTypeMedia
	EventTypeMark
	EventTypeStop
)

// Event is one inbound carrier event in arrival order.
type Event struct {
	Type  EventType
	Audio []byte // decoded mu-law, media events only
	Mark  string
	Start *StartPayload
}

// Conn is the subset of *websocket.Conn the channel needs. Tests substitute
// a fake; production passes the gorilla connection.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ChannelConfig tunes one carrier channel.
type ChannelConfig struct {
	QueueFrames     int           // outbound queue capacity
	TransmitTimeout time.Duration // single write beyond this is a transport fault
}

// Channel drives one carrier media stream: an inbound reader surfacing
// events in arrival order, and a pacer draining a bounded outbound queue at
// a fixed cadence. A fatal hook fires on transport faults and stalls; the
// owner uses it to tear the call down.
type Channel struct {
	conn Conn
	// streamID is fixed at construction; the reader and the pacer both use
	// it concurrently, so it must never be mutated afterwards.
	streamID string
	log      *zap.Logger
	cfg      ChannelConfig

	events chan Event
	outq   chan []byte

	// Watchdog input: is a response currently streaming audio at us?
	responseActive func() bool
	// Fatal faults: pacer stall, blocked transmit, pacer panic.
	onFatal func(reason string, err error)

	framesSent    atomic.Int64
	framesDropped atomic.Int64
	lastProgress  atomic.Int64 // unix nanos of the last successful transmit

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewChannel wraps an accepted carrier connection. The fatal hook must be
// non-blocking; it may be invoked from the pacer goroutine.
func NewChannel(conn Conn, callID, streamID string, cfg ChannelConfig, responseActive func() bool, onFatal func(reason string, err error)) *Channel {
	if cfg.QueueFrames <= 0 {
		cfg.QueueFrames = 150
	}
	if cfg.TransmitTimeout <= 0 {
		cfg.TransmitTimeout = 300 * time.Millisecond
	}
	if responseActive == nil {
		responseActive = func() bool { return false }
	}
	if onFatal == nil {
		onFatal = func(string, error) {}
	}

	c := &Channel{
		conn:           conn,
		streamID:       streamID,
		log:            logger.Call("carrier", callID),
		cfg:            cfg,
		events:         make(chan Event, 256),
		outq:           make(chan []byte, cfg.QueueFrames),
		responseActive: responseActive,
		onFatal:        onFatal,
		closed:         make(chan struct{}),
	}
	c.lastProgress.Store(time.Now().UnixNano())
	return c
}

// Start launches the reader, the pacer and the heartbeat. All loops stop when
// ctx is cancelled or the connection drops.
func (c *Channel) Start(ctx context.Context) {
	c.wg.Add(3)
	go c.readLoop(ctx)
	go c.paceLoop(ctx)
	go c.heartbeatLoop(ctx)
}

// Events returns inbound carrier events in arrival order. The channel is
// closed when the stream ends.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// EnqueueOutbound queues one mu-law frame for paced transmission. A full
// queue drops the frame and counts it; it never blocks the producer.
func (c *Channel) EnqueueOutbound(frame []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.outq <- frame:
		return nil
	default:
		dropped := c.framesDropped.Add(1)
		if dropped == 1 || dropped%50 == 0 {
			c.log.Warn("output queue full, dropping frame",
				zap.Int64("dropped_total", dropped),
				zap.Int("queue_depth", len(c.outq)))
		}
		return nil
	}
}

// Flush synchronously drains the outbound queue and tells the carrier to
// drop its own buffered playback. This is the barge-in path and completes
// well within one pacing tick.
func (c *Channel) Flush() {
	drained := 0
	for {
		select {
		case <-c.outq:
			drained++
		default:
			c.log.Info("output queue flushed", zap.Int("frames_discarded", drained))
			if data, err := ClearEnvelope(c.streamID); err == nil {
				if err := c.transmit(data); err != nil {
					c.log.Warn("failed to send clear", zap.Error(err))
				}
			}
			return
		}
	}
}

// SendMark emits a playback marker; the carrier echoes it back after the
// audio queued before it has actually played.
func (c *Channel) SendMark(name string) error {
	data, err := MarkEnvelope(c.streamID, name)
	if err != nil {
		return err
	}
	return c.transmit(data)
}

// QueueDepth returns the current outbound queue depth in frames.
func (c *Channel) QueueDepth() int { return len(c.outq) }

// FramesSent returns the number of frames transmitted so far.
func (c *Channel) FramesSent() int64 { return c.framesSent.Load() }

// FramesDropped returns the number of frames dropped on a full queue.
func (c *Channel) FramesDropped() int64 { return c.framesDropped.Load() }

// Drained reports whether the outbound queue is empty, used by teardown to
// let the farewell finish playing.
func (c *Channel) Drained() bool { return len(c.outq) == 0 }

// Close tears the channel down. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

func (c *Channel) readLoop(ctx context.Context) {
	defer c.wg.Done()
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

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			case <-ctx.Done():
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Warn("carrier read error", zap.Error(err))
				}
			}
			return
		}

		env, err := ParseEnvelope(message)
		if err != nil {
			// Protocol fault: log and skip, never crash the loop.
			c.log.Warn("skipping malformed envelope", zap.Error(err))
			continue
		}

		event, ok := c.toEvent(env)
		if !ok {
			continue
		}

		select {
		case c.events <- event:
		case <-ctx.Done():
			return
		}

		if event.Type == EventTypeStop {
			return
		}
	}
}

func (c *Channel) toEvent(env *Envelope) (Event, bool) {
	switch env.Event {
	case EventStart:
		if env.Start == nil {
			c.log.Warn("start envelope missing payload")
			return Event{}, false
		}
		return Event{Type: EventTypeStart, Start: env.Start}, true

	case EventMedia:
		mulaw, err := env.AudioPayload()
		if err != nil {
			c.log.Warn("skipping bad media payload", zap.Error(err))
			return Event{}, false
		}
		return Event{Type: EventTypeMedia, Audio: mulaw}, true

	case EventMark:
		if env.Mark == nil {
			return Event{}, false
		}
		return Event{Type: EventTypeMark, Mark: env.Mark.Name}, true

	case EventStop:
		return Event{Type: EventTypeStop}, true

	default:
		c.log.Debug("ignoring unknown carrier event", zap.String("event", env.Event))
		return Event{}, false
	}
}

// paceLoop wakes every 20ms and transmits at most one frame. It never sleeps
// longer than one tick to catch up: long-run throughput stays at 50 frames
// per second regardless of provider burstiness. A panic here is caught,
// logged with full context, and escalates to teardown; the carrier leg must
// never be left silently open.
func (c *Channel) paceLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("pacer panic",
				zap.Any("panic", r),
				zap.Int("queue_depth", len(c.outq)),
				zap.Int64("frames_sent", c.framesSent.Load()))
			c.onFatal("pacer_panic", fmt.Errorf("pacer panic: %v", r))
		}
	}()

	ticker := time.NewTicker(PaceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			select {
			case frame := <-c.outq:
				if err := c.transmitFrame(frame); err != nil {
					return
				}
			default:
				// Nothing to send this tick.
			}
		}
	}
}

func (c *Channel) transmitFrame(frame []byte) error {
	data, err := MediaEnvelope(c.streamID, frame)
	if err != nil {
		c.log.Error("failed to build media envelope", zap.Error(err))
		return nil
	}

	started := time.Now()
	if err := c.transmit(data); err != nil {
		elapsed := time.Since(started)
		if elapsed >= c.cfg.TransmitTimeout {
			c.dumpDiagnostics("transmit_blocked", err, elapsed)
			c.onFatal("transmit_blocked", err)
		} else {
			c.log.Warn("carrier transmit failed", zap.Error(err))
			c.onFatal("transmit_failed", err)
		}
		return err
	}

	c.framesSent.Add(1)
	c.lastProgress.Store(time.Now().UnixNano())
	return nil
}

func (c *Channel) transmit(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.TransmitTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// heartbeatLoop logs liveness every second and runs the stall watchdog:
// a pacer that is alive but has sent nothing for over a second while a
// response is streaming means the call is wedged, which is fatal.
func (c *Channel) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			sent := c.framesSent.Load()
			depth := len(c.outq)
			c.log.Debug("pacer heartbeat",
				zap.Int64("frames_sent", sent),
				zap.Int("queue_depth", depth),
				zap.Int64("frames_dropped", c.framesDropped.Load()))

			if !c.responseActive() {
				continue
			}
			idle := time.Since(time.Unix(0, c.lastProgress.Load()))
			if idle > stallWindow {
				err := fmt.Errorf("no frames transmitted for %s while a response is active", idle.Round(time.Millisecond))
				c.dumpDiagnostics("pacer_stall", err, idle)
				c.onFatal("pacer_stall", err)
				return
			}
		}
	}
}

// dumpDiagnostics logs the full channel state on a fatal pipeline fault.
func (c *Channel) dumpDiagnostics(reason string, err error, elapsed time.Duration) {
	c.log.Error("fatal carrier fault",
		zap.String("reason", reason),
		zap.Error(err),
		zap.Duration("elapsed", elapsed),
		zap.Int("queue_depth", len(c.outq)),
		zap.Int64("frames_sent", c.framesSent.Load()),
		zap.Int64("frames_dropped", c.framesDropped.Load()),
		zap.Bool("response_active", c.responseActive()),
		zap.Int("event_backlog", len(c.events)))
}

// FrameAligned reports whether a mu-law payload is an exact number of
// pacing frames.
func FrameAligned(mulaw []byte) bool {
	return len(mulaw) > 0 && len(mulaw)%audio.CarrierFrameLen == 0
}
