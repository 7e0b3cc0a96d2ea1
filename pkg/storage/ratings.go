package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aragora/aragora/pkg/models"
)

const initialElo = 1500

// RecordMatch atomically inserts a match row and applies its ELO deltas and
// win/loss/draw counters to every participant's rating. One match per debate;
// a second recording for the same debate fails with ErrConflict, leaving
// ratings untouched.
func (s *Store) RecordMatch(ctx context.Context, m *models.Match) error {
	participants, err := json.Marshal(m.Participants)
	if err != nil {
		return fmt.Errorf("marshaling participants: %w", err)
	}
	changes, err := json.Marshal(m.EloChanges)
	if err != nil {
		return fmt.Errorf("marshaling elo changes: %w", err)
	}
	domain := m.Domain
	if domain == "" {
		domain = "general"
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO matches (debate_id, winner, participants, elo_changes, domain, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.DebateID, m.Winner, string(participants), string(changes),
			domain, m.CreatedAt.UnixMilli())
		if isUniqueViolation(err) {
			return fmt.Errorf("match for debate %s: %w", m.DebateID, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("inserting match: %w", err)
		}
		m.ID, _ = res.LastInsertId()

		now := time.Now().UnixMilli()
		for _, agent := range m.Participants {
			delta := m.EloChanges[agent]
			var wins, losses, draws int
			switch {
			case m.Winner == "":
				draws = 1
			case m.Winner == agent:
				wins = 1
			default:
				losses = 1
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO ratings (agent, domain, elo, wins, losses, draws, consistency, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 1, ?)
				ON CONFLICT (agent, domain) DO UPDATE SET
					elo = elo + ?,
					wins = wins + ?,
					losses = losses + ?,
					draws = draws + ?,
					updated_at = ?`,
				agent, domain, initialElo+delta, wins, losses, draws, now,
				delta, wins, losses, draws, now)
			if err != nil {
				return fmt.Errorf("updating rating for %s: %w", agent, err)
			}
		}
		return nil
	})
}

// GetRating loads one agent's rating in a domain. A never-rated agent gets
// the initial rating without a row being created.
func (s *Store) GetRating(ctx context.Context, agent, domain string) (*models.AgentRating, error) {
	if domain == "" {
		domain = "general"
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT agent, domain, elo, wins, losses, draws, consistency, updated_at
		FROM ratings WHERE agent = ? AND domain = ?`, agent, domain)

	r, err := scanRating(row)
	if errors.Is(err, ErrNotFound) {
		return &models.AgentRating{
			Agent:       agent,
			Domain:      domain,
			Elo:         initialElo,
			Consistency: 1,
		}, nil
	}
	return r, err
}

// Leaderboard returns ratings in a domain ordered by ELO descending.
func (s *Store) Leaderboard(ctx context.Context, domain string, limit int) ([]*models.AgentRating, error) {
	if domain == "" {
		domain = "general"
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent, domain, elo, wins, losses, draws, consistency, updated_at
		FROM ratings WHERE domain = ? ORDER BY elo DESC LIMIT ?`, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentRating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateConsistency writes a recomputed consistency score for an agent.
func (s *Store) UpdateConsistency(ctx context.Context, agent, domain string, consistency float64) error {
	if domain == "" {
		domain = "general"
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UnixMilli()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratings (agent, domain, elo, consistency, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (agent, domain) DO UPDATE SET
				consistency = ?,
				updated_at = ?`,
			agent, domain, initialElo, consistency, now,
			consistency, now)
		if err != nil {
			return fmt.Errorf("updating consistency for %s: %w", agent, err)
		}
		return nil
	})
}

// RecentMatches returns the newest matches first.
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]*models.Match, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, debate_id, winner, participants, elo_changes, domain, created_at
		FROM matches ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent matches: %w", err)
	}
	defer rows.Close()

	var out []*models.Match
	for rows.Next() {
		var (
			m            models.Match
			participants string
			changes      string
			createdAt    int64
		)
		if err := rows.Scan(&m.ID, &m.DebateID, &m.Winner, &participants,
			&changes, &m.Domain, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &m.Participants); err != nil {
			return nil, fmt.Errorf("unmarshaling participants: %w", err)
		}
		if err := json.Unmarshal([]byte(changes), &m.EloChanges); err != nil {
			return nil, fmt.Errorf("unmarshaling elo changes: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

func scanRating(row rowScanner) (*models.AgentRating, error) {
	var (
		r         models.AgentRating
		updatedAt int64
	)
	err := row.Scan(&r.Agent, &r.Domain, &r.Elo, &r.Wins, &r.Losses, &r.Draws,
		&r.Consistency, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning rating: %w", err)
	}
	r.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &r, nil
}
