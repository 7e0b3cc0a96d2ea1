package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/aragora/aragora/pkg/models"
)

// SavePosition persists one extracted claim with its embedding and assigns
// its identifier.
func (s *Store) SavePosition(ctx context.Context, p *models.Position) error {
	domain := p.Domain
	if domain == "" {
		domain = "general"
	}
	outcome := p.Outcome
	if outcome == "" {
		outcome = models.PositionPending
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO positions (agent, claim, confidence, domain, debate_id,
				round, outcome, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Agent, p.Claim, p.Confidence, domain, p.DebateID,
			p.Round, string(outcome), encodeVector(p.Embedding),
			p.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("saving position: %w", err)
		}
		p.ID, _ = res.LastInsertId()
		return nil
	})
}

// RecentPositions returns an agent's positions for the prior-position window
// of flip detection: same-domain positions first, then the rest, newest first
// within each, bounded by limit.
func (s *Store) RecentPositions(ctx context.Context, agent, domain string, limit int) ([]*models.Position, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if domain == "" {
		domain = "general"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, claim, confidence, domain, debate_id, round,
			outcome, embedding, created_at
		FROM positions WHERE agent = ?
		ORDER BY (domain = ?) DESC, created_at DESC, id DESC LIMIT ?`,
		agent, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("loading recent positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// DebatePositions returns every position extracted in one debate, oldest
// first.
func (s *Store) DebatePositions(ctx context.Context, debateID string) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent, claim, confidence, domain, debate_id, round,
			outcome, embedding, created_at
		FROM positions WHERE debate_id = ?
		ORDER BY id ASC`, debateID)
	if err != nil {
		return nil, fmt.Errorf("loading debate positions: %w", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// SaveFlip persists one detected flip edge. The (original, new) pair is
// unique; re-detecting the same edge fails with ErrConflict.
func (s *Store) SaveFlip(ctx context.Context, f *models.Flip) error {
	domain := f.Domain
	if domain == "" {
		domain = "general"
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO flips (agent, original_id, new_id, similarity, type,
				domain, debate_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Agent, f.OriginalID, f.NewID, f.Similarity, string(f.Type),
			domain, f.DebateID, f.CreatedAt.UnixMilli())
		if isUniqueViolation(err) {
			return fmt.Errorf("flip %d->%d: %w", f.OriginalID, f.NewID, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("saving flip: %w", err)
		}
		f.ID, _ = res.LastInsertId()
		return nil
	})
}

// RecentFlips returns the newest flips first, optionally filtered by agent.
func (s *Store) RecentFlips(ctx context.Context, agent string, limit int) ([]*models.Flip, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	query := `
		SELECT id, agent, original_id, new_id, similarity, type, domain,
			debate_id, created_at
		FROM flips`
	args := []any{}
	if agent != "" {
		query += " WHERE agent = ?"
		args = append(args, agent)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading recent flips: %w", err)
	}
	defer rows.Close()

	var out []*models.Flip
	for rows.Next() {
		var (
			f         models.Flip
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&f.ID, &f.Agent, &f.OriginalID, &f.NewID,
			&f.Similarity, &typ, &f.Domain, &f.DebateID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning flip: %w", err)
		}
		f.Type = models.FlipType(typ)
		f.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &f)
	}
	return out, rows.Err()
}

// FlipCounts returns per-type flip counts for one agent, plus the agent's
// total position count. Inputs for the consistency score.
func (s *Store) FlipCounts(ctx context.Context, agent string) (map[models.FlipType]int, int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT type, COUNT(*) FROM flips WHERE agent = ? GROUP BY type", agent)
	if err != nil {
		return nil, 0, fmt.Errorf("counting flips: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FlipType]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, 0, fmt.Errorf("scanning flip count: %w", err)
		}
		counts[models.FlipType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var positions int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM positions WHERE agent = ?", agent).Scan(&positions)
	if err != nil {
		return nil, 0, fmt.Errorf("counting positions: %w", err)
	}
	return counts, positions, nil
}

// FlipSummary aggregates flip counts per type across all agents.
func (s *Store) FlipSummary(ctx context.Context) (map[models.FlipType]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT type, COUNT(*) FROM flips GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("summarizing flips: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.FlipType]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scanning flip summary: %w", err)
		}
		counts[models.FlipType(typ)] = n
	}
	return counts, rows.Err()
}

func scanPositions(rows *sql.Rows) ([]*models.Position, error) {
	var out []*models.Position
	for rows.Next() {
		var (
			p         models.Position
			outcome   string
			embedding []byte
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Agent, &p.Claim, &p.Confidence, &p.Domain,
			&p.DebateID, &p.Round, &outcome, &embedding, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		p.Outcome = models.PositionOutcome(outcome)
		p.Embedding = decodeVector(embedding)
		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}

// encodeVector packs a float32 vector into little-endian bytes for BLOB
// storage. Nil in, nil out.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
