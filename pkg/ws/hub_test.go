package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/events"
	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/storage"
)

func newHubFixture(t *testing.T, opts Options) (*Hub, *events.Bus, *httptest.Server) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "hub.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus(store, nil)
	opts.Bus = bus
	hub := NewHub(opts)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		hub.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame clientFrame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev models.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func publish(t *testing.T, bus *events.Bus, ev models.Event) {
	t.Helper()
	require.NoError(t, bus.Publish(context.Background(), &ev))
}

func TestSubscribeSyncCatchupLive(t *testing.T) {
	_, bus, srv := newHubFixture(t, Options{})

	for i := 0; i < 3; i++ {
		publish(t, bus, models.NewEvent(models.EventAgentMessage, "dbt_ws", map[string]int{"i": i}))
	}

	conn := dial(t, srv)
	send(t, conn, clientFrame{Action: "subscribe", DebateID: "dbt_ws"})

	// First frame is the sync snapshot with the durable high-water mark.
	sync := readEvent(t, conn)
	require.Equal(t, models.EventSync, sync.Type)
	var snap syncPayload
	require.NoError(t, json.Unmarshal(sync.Data, &snap))
	assert.Equal(t, int64(3), snap.LatestSeq)
	assert.False(t, snap.Truncated)

	// Catchup replays the log in order.
	for i := 1; i <= 3; i++ {
		ev := readEvent(t, conn)
		assert.Equal(t, int64(i), ev.Seq)
		assert.Equal(t, models.EventAgentMessage, ev.Type)
	}

	// Live events flow after catchup.
	publish(t, bus, models.NewEvent(models.EventRoundStart, "dbt_ws", nil))
	live := readEvent(t, conn)
	assert.Equal(t, models.EventRoundStart, live.Type)
	assert.Equal(t, int64(4), live.Seq)
}

func TestResumeWithCursor(t *testing.T) {
	_, bus, srv := newHubFixture(t, Options{})

	for i := 0; i < 5; i++ {
		publish(t, bus, models.NewEvent(models.EventAgentMessage, "dbt_cur", map[string]int{"i": i}))
	}

	conn := dial(t, srv)
	send(t, conn, clientFrame{Action: "subscribe", DebateID: "dbt_cur", AfterSeq: 3})

	sync := readEvent(t, conn)
	require.Equal(t, models.EventSync, sync.Type)

	first := readEvent(t, conn)
	assert.Equal(t, int64(4), first.Seq)
	second := readEvent(t, conn)
	assert.Equal(t, int64(5), second.Seq)
}

func TestTypeFilteredSubscription(t *testing.T) {
	_, bus, srv := newHubFixture(t, Options{})

	conn := dial(t, srv)
	send(t, conn, clientFrame{
		Action:   "subscribe",
		DebateID: "dbt_f",
		Types:    []models.EventType{models.EventConsensus},
	})
	sync := readEvent(t, conn)
	require.Equal(t, models.EventSync, sync.Type)

	publish(t, bus, models.NewEvent(models.EventTokenDelta, "dbt_f", models.TokenDeltaPayload{Agent: "a", Delta: "x"}))
	publish(t, bus, models.NewEvent(models.EventConsensus, "dbt_f", nil))

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventConsensus, ev.Type)
}

func TestUnknownActionGetsError(t *testing.T) {
	_, _, srv := newHubFixture(t, Options{})

	conn := dial(t, srv)
	send(t, conn, clientFrame{Action: "bogus"})

	ev := readEvent(t, conn)
	require.Equal(t, models.EventError, ev.Type)
	var p models.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &p))
	assert.Equal(t, "bad_frame", p.Code)
}

func TestPingPong(t *testing.T) {
	_, _, srv := newHubFixture(t, Options{})

	conn := dial(t, srv)
	send(t, conn, clientFrame{Action: "ping"})

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventSync, ev.Type)
	assert.Contains(t, string(ev.Data), "pong")
}

func TestEnqueueOverflowDrop(t *testing.T) {
	c := &conn{limit: 2, notify: make(chan struct{}, 1)}

	assert.True(t, c.enqueue(models.NewEvent(models.EventRoundStart, "d", nil), OverflowDrop))
	assert.True(t, c.enqueue(models.NewEvent(models.EventRoundStart, "d", nil), OverflowDrop))
	assert.False(t, c.enqueue(models.NewEvent(models.EventRoundStart, "d", nil), OverflowDrop))

	// Once marked slow, everything is refused.
	assert.False(t, c.enqueue(models.NewEvent(models.EventRoundStart, "d", nil), OverflowDrop))
}

func TestEnqueueCoalescesTokenDeltas(t *testing.T) {
	c := &conn{limit: 1, notify: make(chan struct{}, 1)}

	first := models.NewEvent(models.EventTokenDelta, "d", models.TokenDeltaPayload{Agent: "a", Delta: "hel"})
	first.Agent = "a"
	first.Seq = 1
	require.True(t, c.enqueue(first, OverflowCoalesce))

	second := models.NewEvent(models.EventTokenDelta, "d", models.TokenDeltaPayload{Agent: "a", Delta: "lo"})
	second.Agent = "a"
	second.Seq = 2
	require.True(t, c.enqueue(second, OverflowCoalesce))

	require.Len(t, c.queue, 1)
	var p models.TokenDeltaPayload
	require.NoError(t, json.Unmarshal(c.queue[0].Data, &p))
	assert.Equal(t, "hello", p.Delta)
	assert.Equal(t, int64(2), c.queue[0].Seq)

	// A different agent's delta cannot merge; the queue stays full and the
	// connection is marked slow.
	other := models.NewEvent(models.EventTokenDelta, "d", models.TokenDeltaPayload{Agent: "b", Delta: "x"})
	other.Agent = "b"
	assert.False(t, c.enqueue(other, OverflowCoalesce))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, bus, srv := newHubFixture(t, Options{})

	conn := dial(t, srv)
	send(t, conn, clientFrame{Action: "subscribe", DebateID: "dbt_u"})
	sync := readEvent(t, conn)
	require.Equal(t, models.EventSync, sync.Type)

	send(t, conn, clientFrame{Action: "unsubscribe", DebateID: "dbt_u"})
	require.Eventually(t, func() bool { return bus.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	publish(t, bus, models.NewEvent(models.EventRoundStart, "dbt_u", nil))

	// The only frame the client may still see is a pong to its probe.
	send(t, conn, clientFrame{Action: "ping"})
	ev := readEvent(t, conn)
	assert.Equal(t, models.EventSync, ev.Type)

	assert.Equal(t, 1, hub.ActiveConnections())
}
