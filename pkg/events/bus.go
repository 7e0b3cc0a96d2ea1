// Package events is the ordered spine of the system. Every observable fact
// of a debate flows through the Bus as a typed event: durably appended to the
// per-debate log first, then fanned out to in-process subscribers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aragora/aragora/pkg/metrics"
	"github.com/aragora/aragora/pkg/models"
)

// Log is the durable event log the bus appends to and replays from.
type Log interface {
	AppendEvent(ctx context.Context, ev *models.Event) error
	ReadEventsAfter(ctx context.Context, debateID string, after int64, limit int) ([]models.Event, error)
	LatestSeq(ctx context.Context, debateID string) (int64, error)
}

// Filter selects which events a subscription receives. Zero values match
// everything.
type Filter struct {
	DebateID string
	Types    []models.EventType
}

func (f Filter) matches(ev models.Event) bool {
	if f.DebateID != "" && f.DebateID != ev.DebateID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Subscription is one live consumer of the bus. Events arrive on C in
// publish order. A subscriber that falls behind its buffer loses events and
// must detect the sequence gap and replay from the log.
type Subscription struct {
	id     int64
	filter Filter
	ch     chan models.Event

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// C is the event delivery channel. Closed when the subscription is closed.
func (s *Subscription) C() <-chan models.Event {
	return s.ch
}

// Dropped reports how many events were discarded because the subscriber's
// buffer was full.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) deliver(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.dropped++
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus appends events durably and broadcasts them to subscribers.
type Bus struct {
	log    Log
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int64]*Subscription
	nextID int64
}

// NewBus creates a bus over the given durable log.
func NewBus(log Log, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		log:    log,
		logger: logger,
		subs:   make(map[int64]*Subscription),
	}
}

// Publish appends the event to the durable log, then broadcasts it. The
// append assigns the event's sequence number; an append failure is returned
// to the caller and nothing is broadcast, so no subscriber ever sees an
// event that is not durable.
func (b *Bus) Publish(ctx context.Context, ev *models.Event) error {
	if err := b.log.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("appending event %s: %w", ev.Type, err)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == models.EventTokenDelta {
		metrics.TokenDeltas.Inc()
	}
	b.broadcast(*ev)
	return nil
}

func (b *Bus) broadcast(ev models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.matches(ev) {
			continue
		}
		if !sub.deliver(ev) && !ev.Type.Transient() {
			b.logger.Warn("subscriber lagging, event dropped from buffer",
				"subscription", sub.id, "type", ev.Type,
				"debate_id", ev.DebateID, "seq", ev.Seq)
		}
	}
}

// Subscribe registers a consumer. buffer bounds how far the consumer may lag
// before events are dropped from its channel.
func (b *Bus) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan models.Event, buffer),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.id)
	b.mu.Unlock()
	sub.close()
}

// Replay reads durable events of a debate with seq greater than after, in
// order. Used for catchup before or after a live subscription.
func (b *Bus) Replay(ctx context.Context, debateID string, after int64, limit int) ([]models.Event, error) {
	return b.log.ReadEventsAfter(ctx, debateID, after, limit)
}

// LatestSeq reports the debate's current durable high-water mark.
func (b *Bus) LatestSeq(ctx context.Context, debateID string) (int64, error) {
	return b.log.LatestSeq(ctx, debateID)
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
