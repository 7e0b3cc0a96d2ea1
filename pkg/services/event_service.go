package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aragora/aragora/pkg/models"
	"github.com/aragora/aragora/pkg/storage"
)

// maxCatchupLimit bounds one catchup page.
const maxCatchupLimit = 500

// EventService serves durable event-log reads: catchup pages for clients
// resuming a stream and the per-debate high-water mark.
type EventService struct {
	store *storage.Store
}

// NewEventService creates an event service.
func NewEventService(store *storage.Store) *EventService {
	return &EventService{store: store}
}

// Catchup returns events of a debate with seq greater than after, oldest
// first, up to limit.
func (s *EventService) Catchup(ctx context.Context, debateID string, after int64, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > maxCatchupLimit {
		limit = maxCatchupLimit
	}
	evs, err := s.store.ReadEventsAfter(ctx, debateID, after, limit)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: debate %q", ErrNotFound, debateID)
	}
	return evs, err
}

// LatestSeq reports the debate's durable high-water mark.
func (s *EventService) LatestSeq(ctx context.Context, debateID string) (int64, error) {
	return s.store.LatestSeq(ctx, debateID)
}
