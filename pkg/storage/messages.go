package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aragora/aragora/pkg/models"
)

// AppendMessage records one agent utterance. Messages are append-only and
// unique per (debate, round, agent, role); a duplicate fails with ErrConflict.
func (s *Store) AppendMessage(ctx context.Context, m *models.DebateMessage) error {
	var citations any
	if len(m.Citations) > 0 {
		raw, err := json.Marshal(m.Citations)
		if err != nil {
			return fmt.Errorf("marshaling citations: %w", err)
		}
		citations = string(raw)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (debate_id, round, agent, role, cognitive_role,
				content, confidence, citations, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.DebateID, m.Round, m.Agent, m.Role, m.CognitiveRole,
			m.Content, m.Confidence, citations, m.CreatedAt.UnixMilli())
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s/%d/%s/%s: %w",
				m.DebateID, m.Round, m.Agent, m.Role, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("appending message: %w", err)
		}
		return nil
	})
}

// ListMessages returns a debate's messages ordered by round, then insertion.
func (s *Store) ListMessages(ctx context.Context, debateID string) ([]models.DebateMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT debate_id, round, agent, role, cognitive_role, content,
			confidence, citations, created_at
		FROM messages WHERE debate_id = ?
		ORDER BY round ASC, created_at ASC`, debateID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var out []models.DebateMessage
	for rows.Next() {
		var (
			m          models.DebateMessage
			confidence sql.NullFloat64
			citations  sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&m.DebateID, &m.Round, &m.Agent, &m.Role,
			&m.CognitiveRole, &m.Content, &confidence, &citations, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if confidence.Valid {
			m.Confidence = &confidence.Float64
		}
		if citations.Valid && citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &m.Citations); err != nil {
				return nil, fmt.Errorf("unmarshaling citations: %w", err)
			}
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveVote records one agent's vote. One vote per agent per debate; a second
// vote fails with ErrConflict.
func (s *Store) SaveVote(ctx context.Context, v *models.Vote) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO votes (debate_id, agent, choice, reasoning, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			v.DebateID, v.Agent, v.Choice, v.Reasoning, v.Confidence,
			v.CreatedAt.UnixMilli())
		if isUniqueViolation(err) {
			return fmt.Errorf("vote %s/%s: %w", v.DebateID, v.Agent, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("saving vote: %w", err)
		}
		return nil
	})
}

// ListVotes returns the votes cast in a debate in cast order.
func (s *Store) ListVotes(ctx context.Context, debateID string) ([]models.Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT debate_id, agent, choice, reasoning, confidence, created_at
		FROM votes WHERE debate_id = ? ORDER BY created_at ASC`, debateID)
	if err != nil {
		return nil, fmt.Errorf("listing votes: %w", err)
	}
	defer rows.Close()

	var out []models.Vote
	for rows.Next() {
		var (
			v         models.Vote
			createdAt int64
		)
		if err := rows.Scan(&v.DebateID, &v.Agent, &v.Choice, &v.Reasoning,
			&v.Confidence, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning vote: %w", err)
		}
		v.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}
