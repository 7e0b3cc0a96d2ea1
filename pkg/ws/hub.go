// Package ws fans debate events out to WebSocket clients. Each connection
// subscribes with a JSON frame, receives a sync snapshot plus durable catchup,
// then live events. A slow client is the client's problem: its bounded queue
// either coalesces token deltas or the connection is closed, and the debate
// never stalls.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aragora/aragora/pkg/events"
	"github.com/aragora/aragora/pkg/models"
)

const (
	// DefaultQueueSize bounds the per-connection outbound queue.
	DefaultQueueSize = 256

	// DefaultHeartbeat is the ping interval; a missed pong within one
	// interval terminates the connection.
	DefaultHeartbeat = 30 * time.Second

	// DefaultWriteTimeout bounds one frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxFrameBytes bounds inbound client frames.
	DefaultMaxFrameBytes = 64 << 10

	// catchupLimit is the maximum number of events replayed into one
	// subscription. Clients further behind reload over REST.
	catchupLimit = 200
)

// OverflowPolicy decides what happens when a connection's outbound queue is
// full. Fixed at hub construction.
type OverflowPolicy string

// Overflow policies.
const (
	// OverflowDrop closes the connection with error:slow_consumer.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowCoalesce merges adjacent token deltas of the same agent turn
	// before giving up on the connection.
	OverflowCoalesce OverflowPolicy = "coalesce"
)

// Options configures a Hub.
type Options struct {
	Bus           *events.Bus
	QueueSize     int
	Heartbeat     time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int64
	Policy        OverflowPolicy
	Logger        *slog.Logger
}

// Hub owns all WebSocket connections of one process.
type Hub struct {
	bus          *events.Bus
	queueSize    int
	heartbeat    time.Duration
	writeTimeout time.Duration
	maxFrame     int64
	policy       OverflowPolicy
	logger       *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn
}

// NewHub creates a hub over the event bus.
func NewHub(opts Options) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if opts.Policy == "" {
		opts.Policy = OverflowDrop
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		bus:          opts.Bus,
		queueSize:    opts.QueueSize,
		heartbeat:    opts.Heartbeat,
		writeTimeout: opts.WriteTimeout,
		maxFrame:     opts.MaxFrameBytes,
		policy:       opts.Policy,
		logger:       opts.Logger,
	}
}

// clientFrame is the inbound control protocol.
type clientFrame struct {
	Action   string             `json:"action"`
	DebateID string             `json:"debate_id,omitempty"`
	Types    []models.EventType `json:"types,omitempty"`
	AfterSeq int64              `json:"after_seq,omitempty"`
}

// syncPayload opens a subscription: the durable high-water mark and whether
// catchup was truncated. A truncated catchup means the client should reload
// the debate over REST before trusting the stream.
type syncPayload struct {
	DebateID  string `json:"debate_id,omitempty"`
	LatestSeq int64  `json:"latest_seq"`
	AfterSeq  int64  `json:"after_seq"`
	Truncated bool   `json:"truncated,omitempty"`
}

// conn is one WebSocket client. The queue is drained by a single writer
// goroutine; enqueue never blocks.
type conn struct {
	id     string
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []models.Event
	limit  int
	notify chan struct{}
	slow   bool

	// Bus subscriptions keyed by debate id; "" subscribes to everything.
	// Touched only from the read loop goroutine.
	subs map[string]*events.Subscription
}

// HandleConnection runs one accepted WebSocket until it closes. The caller
// has already authenticated the client and upgraded the connection.
func (h *Hub) HandleConnection(parentCtx context.Context, ws *websocket.Conn) {
	ws.SetReadLimit(h.maxFrame)

	ctx, cancel := context.WithCancel(parentCtx)
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		limit:  h.queueSize,
		notify: make(chan struct{}, 1),
		subs:   make(map[string]*events.Subscription),
	}

	h.mu.Lock()
	if h.conns == nil {
		h.conns = make(map[string]*conn)
	}
	h.conns[c.id] = c
	h.mu.Unlock()

	defer func() {
		for _, sub := range c.subs {
			h.bus.Unsubscribe(sub)
		}
		h.mu.Lock()
		delete(h.conns, c.id)
		h.mu.Unlock()
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()

	go h.writeLoop(c)
	go h.heartbeatLoop(c)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Warn("invalid client frame", "connection_id", c.id, "error", err)
			h.sendError(c, "bad_frame", "frame is not valid JSON")
			continue
		}
		h.handleFrame(ctx, c, frame)
	}
}

// ActiveConnections reports the number of open connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) handleFrame(ctx context.Context, c *conn, frame clientFrame) {
	switch frame.Action {
	case "subscribe":
		h.subscribe(ctx, c, frame)
	case "unsubscribe":
		if sub, ok := c.subs[frame.DebateID]; ok {
			h.bus.Unsubscribe(sub)
			delete(c.subs, frame.DebateID)
		}
	case "ping":
		c.enqueue(models.NewEvent(models.EventSync, frame.DebateID, map[string]string{"pong": "ok"}), h.policy)
	default:
		h.sendError(c, "bad_frame", fmt.Sprintf("unknown action %q", frame.Action))
	}
}

// subscribe attaches the connection to the bus and replays durable history.
// The live subscription starts before the catchup query, so no event can fall
// between them; the overlap may deliver a few events twice and clients
// deduplicate by sequence number.
func (h *Hub) subscribe(ctx context.Context, c *conn, frame clientFrame) {
	if old, ok := c.subs[frame.DebateID]; ok {
		h.bus.Unsubscribe(old)
	}

	sub := h.bus.Subscribe(events.Filter{DebateID: frame.DebateID, Types: frame.Types}, h.queueSize)
	c.subs[frame.DebateID] = sub

	snap := syncPayload{DebateID: frame.DebateID, AfterSeq: frame.AfterSeq}
	var history []models.Event
	if frame.DebateID != "" {
		latest, err := h.bus.LatestSeq(ctx, frame.DebateID)
		if err != nil {
			h.logger.Error("sync snapshot failed", "connection_id", c.id,
				"debate_id", frame.DebateID, "error", err)
			h.sendError(c, "sync_failed", "could not read the event log")
			return
		}
		snap.LatestSeq = latest

		history, err = h.bus.Replay(ctx, frame.DebateID, frame.AfterSeq, catchupLimit+1)
		if err != nil {
			h.logger.Error("catchup failed", "connection_id", c.id,
				"debate_id", frame.DebateID, "error", err)
			h.sendError(c, "sync_failed", "could not replay the event log")
			return
		}
		if len(history) > catchupLimit {
			history = history[:catchupLimit]
			snap.Truncated = true
		}
	}

	c.enqueue(models.NewEvent(models.EventSync, frame.DebateID, snap), h.policy)
	for _, ev := range history {
		if !c.enqueue(ev, h.policy) {
			h.closeSlow(c)
			return
		}
	}

	go h.forward(c, sub)
}

// forward pumps one bus subscription into the connection queue.
func (h *Hub) forward(c *conn, sub *events.Subscription) {
	for ev := range sub.C() {
		if !c.enqueue(ev, h.policy) {
			h.closeSlow(c)
			return
		}
	}
}

// enqueue adds an event to the outbound queue. Returns false when the queue
// is full and the policy could not make room.
func (c *conn) enqueue(ev models.Event, policy OverflowPolicy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slow {
		return false
	}

	if len(c.queue) >= c.limit {
		if policy == OverflowCoalesce && coalesceDelta(c.queue, ev) {
			c.wake()
			return true
		}
		c.slow = true
		return false
	}

	c.queue = append(c.queue, ev)
	c.wake()
	return true
}

func (c *conn) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// coalesceDelta folds a token_delta into the newest queued delta of the same
// agent turn. Returns false when there is nothing to merge with.
func coalesceDelta(queue []models.Event, ev models.Event) bool {
	if ev.Type != models.EventTokenDelta {
		return false
	}
	for i := len(queue) - 1; i >= 0; i-- {
		q := queue[i]
		if q.Type != models.EventTokenDelta {
			continue
		}
		if q.DebateID != ev.DebateID || q.Agent != ev.Agent || q.Round != ev.Round {
			return false
		}
		var a, b models.TokenDeltaPayload
		if json.Unmarshal(q.Data, &a) != nil || json.Unmarshal(ev.Data, &b) != nil {
			return false
		}
		a.Delta += b.Delta
		data, err := json.Marshal(a)
		if err != nil {
			return false
		}
		q.Data = data
		q.Seq = ev.Seq // the merged frame stands for the newest event
		queue[i] = q
		return true
	}
	return false
}

// writeLoop is the single writer for one connection.
func (h *Hub) writeLoop(c *conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.notify:
		}

		c.mu.Lock()
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, ev := range batch {
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("unmarshalable event skipped", "connection_id", c.id, "error", err)
				continue
			}
			if err := h.write(c, data); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (h *Hub) write(c *conn, data []byte) error {
	ctx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// heartbeatLoop pings on an interval; a missed pong terminates the
// connection. A dead viewer never cancels the debate.
func (h *Hub) heartbeatLoop(c *conn) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(c.ctx, h.heartbeat)
		err := c.ws.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Info("heartbeat lost, closing connection", "connection_id", c.id)
			c.cancel()
			return
		}
	}
}

// closeSlow terminates a connection that fell too far behind. The final
// error frame is best effort on a fresh context since the queue is beyond
// saving anyway.
func (h *Hub) closeSlow(c *conn) {
	h.logger.Warn("slow consumer, closing connection", "connection_id", c.id)

	ev := models.NewEvent(models.EventError, "", models.ErrorPayload{
		Code:    "slow_consumer",
		Message: "event queue overflow",
	})
	if data, err := json.Marshal(ev); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		_ = c.ws.Write(ctx, websocket.MessageText, data)
		cancel()
	}
	_ = c.ws.Close(websocket.StatusPolicyViolation, "slow consumer")
	c.cancel()
}

func (h *Hub) sendError(c *conn, code, message string) {
	c.enqueue(models.NewEvent(models.EventError, "", models.ErrorPayload{
		Code:    code,
		Message: message,
	}), h.policy)
}
