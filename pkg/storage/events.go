package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aragora/aragora/pkg/models"
)

// AppendEvent durably appends an event to the debate's log and assigns its
// sequence number. The sequence is monotone per debate with no gaps as long
// as appends succeed.
func (s *Store) AppendEvent(ctx context.Context, ev *models.Event) error {
	data := ev.Data
	if data == nil {
		data = json.RawMessage("{}")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var next int64
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE debate_id = ?",
			ev.DebateID).Scan(&next)
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (debate_id, seq, type, ts, round, agent, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.DebateID, next, string(ev.Type), ev.Timestamp.UnixMilli(),
			ev.Round, ev.Agent, string(data))
		if err != nil {
			return fmt.Errorf("appending event: %w", err)
		}

		ev.Seq = next
		return nil
	})
}

// ReadEventsAfter returns up to limit events of a debate with seq greater
// than after, in sequence order. Used for WebSocket catchup.
func (s *Store) ReadEventsAfter(ctx context.Context, debateID string, after int64, limit int) ([]models.Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, type, ts, round, agent, data
		FROM events WHERE debate_id = ? AND seq > ?
		ORDER BY seq ASC LIMIT ?`,
		debateID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev   models.Event
			typ  string
			ts   int64
			data string
		)
		if err := rows.Scan(&ev.Seq, &typ, &ts, &ev.Round, &ev.Agent, &data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		ev.DebateID = debateID
		ev.Type = models.EventType(typ)
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.Data = json.RawMessage(data)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestSeq returns the highest assigned sequence for a debate, 0 when the
// log is empty.
func (s *Store) LatestSeq(ctx context.Context, debateID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM events WHERE debate_id = ?",
		debateID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reading latest seq: %w", err)
	}
	return seq, nil
}

// PruneTransientEvents deletes prunable event rows older than the cutoff.
// Only transient types are removed, so the authoritative record survives.
// Returns the number of rows deleted.
func (s *Store) PruneTransientEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM events WHERE type = ? AND ts < ?",
			string(models.EventTokenDelta), cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("pruning transient events: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
