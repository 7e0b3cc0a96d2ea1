package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aragora/aragora/pkg/models"
)

// memLog is an in-memory Log with per-debate monotone sequences.
type memLog struct {
	mu     sync.Mutex
	events map[string][]models.Event
	fail   error
}

func newMemLog() *memLog {
	return &memLog{events: make(map[string][]models.Event)}
}

func (l *memLog) AppendEvent(_ context.Context, ev *models.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	ev.Seq = int64(len(l.events[ev.DebateID]) + 1)
	l.events[ev.DebateID] = append(l.events[ev.DebateID], *ev)
	return nil
}

func (l *memLog) ReadEventsAfter(_ context.Context, debateID string, after int64, limit int) ([]models.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Event
	for _, ev := range l.events[debateID] {
		if ev.Seq > after {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (l *memLog) LatestSeq(_ context.Context, debateID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.events[debateID])), nil
}

func TestPublishAssignsSeqAndBroadcasts(t *testing.T) {
	bus := NewBus(newMemLog(), nil)
	sub := bus.Subscribe(Filter{DebateID: "dbt_1"}, 16)
	defer bus.Unsubscribe(sub)

	for i := 0; i < 3; i++ {
		ev := models.NewEvent(models.EventAgentMessage, "dbt_1", nil)
		require.NoError(t, bus.Publish(context.Background(), &ev))
	}

	for want := int64(1); want <= 3; want++ {
		select {
		case ev := <-sub.C():
			assert.Equal(t, want, ev.Seq)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestPublishAppendFailureIsNotBroadcast(t *testing.T) {
	log := newMemLog()
	log.fail = errors.New("disk full")
	bus := NewBus(log, nil)
	sub := bus.Subscribe(Filter{}, 16)
	defer bus.Unsubscribe(sub)

	ev := models.NewEvent(models.EventDebateStart, "dbt_1", nil)
	require.Error(t, bus.Publish(context.Background(), &ev))

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected broadcast of non-durable event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterByDebateAndType(t *testing.T) {
	bus := NewBus(newMemLog(), nil)
	sub := bus.Subscribe(Filter{
		DebateID: "dbt_1",
		Types:    []models.EventType{models.EventConsensus},
	}, 16)
	defer bus.Unsubscribe(sub)

	wrong1 := models.NewEvent(models.EventConsensus, "dbt_2", nil)
	require.NoError(t, bus.Publish(context.Background(), &wrong1))
	wrong2 := models.NewEvent(models.EventVote, "dbt_1", nil)
	require.NoError(t, bus.Publish(context.Background(), &wrong2))
	right := models.NewEvent(models.EventConsensus, "dbt_1", nil)
	require.NoError(t, bus.Publish(context.Background(), &right))

	select {
	case ev := <-sub.C():
		assert.Equal(t, models.EventConsensus, ev.Type)
		assert.Equal(t, "dbt_1", ev.DebateID)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected extra event: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus(newMemLog(), nil)
	slow := bus.Subscribe(Filter{}, 1)
	defer bus.Unsubscribe(slow)
	fast := bus.Subscribe(Filter{}, 16)
	defer bus.Unsubscribe(fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			ev := models.NewEvent(models.EventTokenDelta, "dbt_1", nil)
			require.NoError(t, bus.Publish(context.Background(), &ev))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// The fast subscriber got everything; the slow one dropped.
	received := 0
	for i := 0; i < 5; i++ {
		select {
		case <-fast.C():
			received++
		case <-time.After(time.Second):
			t.Fatal("fast subscriber missed events")
		}
	}
	assert.Equal(t, 5, received)
	assert.Positive(t, slow.Dropped())
}

func TestReplayAfterCursor(t *testing.T) {
	bus := NewBus(newMemLog(), nil)
	for i := 0; i < 5; i++ {
		ev := models.NewEvent(models.EventAgentMessage, "dbt_1", nil)
		require.NoError(t, bus.Publish(context.Background(), &ev))
	}

	evs, err := bus.Replay(context.Background(), "dbt_1", 2, 100)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	assert.Equal(t, int64(3), evs[0].Seq)

	latest, err := bus.LatestSeq(context.Background(), "dbt_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(newMemLog(), nil)
	sub := bus.Subscribe(Filter{}, 4)
	bus.Unsubscribe(sub)

	_, open := <-sub.C()
	assert.False(t, open)
	assert.Zero(t, bus.SubscriberCount())

	// Publishing after unsubscribe is safe.
	ev := models.NewEvent(models.EventDebateEnd, "dbt_1", nil)
	require.NoError(t, bus.Publish(context.Background(), &ev))
}
