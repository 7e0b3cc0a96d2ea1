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

// CreateDebate inserts a new debate. The slug must be unique; a duplicate
// fails with ErrConflict.
func (s *Store) CreateDebate(ctx context.Context, d *models.Debate) error {
	agents, err := json.Marshal(d.Agents)
	if err != nil {
		return fmt.Errorf("marshaling agents: %w", err)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO debates (id, slug, task, agents, rounds_planned, rounds_used,
				status, outcome, consensus, confidence, error_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.Slug, d.Task, string(agents), d.RoundsPlanned, d.RoundsUsed,
			string(d.Status), string(d.Outcome), boolToInt(d.ConsensusReached),
			d.Confidence, d.ErrorMessage, d.CreatedAt.UnixMilli(),
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("debate slug %q: %w", d.Slug, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("inserting debate: %w", err)
		}
		return nil
	})
}

// GetDebate loads a debate by slug.
func (s *Store) GetDebate(ctx context.Context, slug string) (*models.Debate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, task, agents, rounds_planned, rounds_used, status,
			outcome, consensus, confidence, final_artifact, error_message,
			created_at, completed_at
		FROM debates WHERE slug = ?`, slug)
	return scanDebate(row)
}

// GetDebateByID loads a debate by its identifier.
func (s *Store) GetDebateByID(ctx context.Context, id string) (*models.Debate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, task, agents, rounds_planned, rounds_used, status,
			outcome, consensus, confidence, final_artifact, error_message,
			created_at, completed_at
		FROM debates WHERE id = ?`, id)
	return scanDebate(row)
}

// ListDebates returns the most recent debates, newest first, optionally
// filtered by status.
func (s *Store) ListDebates(ctx context.Context, status models.DebateStatus, limit int) ([]*models.Debate, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, slug, task, agents, rounds_planned, rounds_used, status,
			outcome, consensus, confidence, final_artifact, error_message,
			created_at, completed_at
		FROM debates`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing debates: %w", err)
	}
	defer rows.Close()

	var out []*models.Debate
	for rows.Next() {
		d, err := scanDebate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateDebateStatus records a lifecycle transition. Rejected with ErrSealed
// once the debate has a terminal outcome.
func (s *Store) UpdateDebateStatus(ctx context.Context, id string, status models.DebateStatus, roundsUsed int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var outcome string
		err := tx.QueryRowContext(ctx, "SELECT outcome FROM debates WHERE id = ?", id).Scan(&outcome)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("debate %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("loading debate outcome: %w", err)
		}
		if outcome != "" {
			return fmt.Errorf("debate %s: %w", id, ErrSealed)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE debates SET status = ?, rounds_used = ? WHERE id = ?",
			string(status), roundsUsed, id)
		if err != nil {
			return fmt.Errorf("updating debate status: %w", err)
		}
		return nil
	})
}

// SealDebate records the terminal outcome. Idempotent: re-sealing with the
// same outcome and final artifact is a no-op; a different outcome or a
// different artifact fails with ErrSealed.
func (s *Store) SealDebate(ctx context.Context, d *models.Debate) error {
	var artifactStr string
	if d.FinalArtifact != nil {
		raw, err := json.Marshal(d.FinalArtifact)
		if err != nil {
			return fmt.Errorf("marshaling final artifact: %w", err)
		}
		artifactStr = string(raw)
	}
	var artifact any
	if artifactStr != "" {
		artifact = artifactStr
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			existing         string
			existingArtifact sql.NullString
		)
		err := tx.QueryRowContext(ctx,
			"SELECT outcome, final_artifact FROM debates WHERE id = ?", d.ID).
			Scan(&existing, &existingArtifact)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("debate %s: %w", d.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("loading debate outcome: %w", err)
		}
		if existing != "" {
			if existing == string(d.Outcome) && existingArtifact.String == artifactStr {
				return nil
			}
			return fmt.Errorf("debate %s already sealed as %s: %w", d.ID, existing, ErrSealed)
		}

		var completed any
		if d.CompletedAt != nil {
			completed = d.CompletedAt.UnixMilli()
		} else {
			completed = time.Now().UnixMilli()
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE debates SET status = ?, outcome = ?, consensus = ?, confidence = ?,
				final_artifact = ?, error_message = ?, rounds_used = ?, completed_at = ?
			WHERE id = ?`,
			string(models.DebateStatusComplete), string(d.Outcome),
			boolToInt(d.ConsensusReached), d.Confidence, artifact,
			d.ErrorMessage, d.RoundsUsed, completed, d.ID)
		if err != nil {
			return fmt.Errorf("sealing debate: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDebate(row rowScanner) (*models.Debate, error) {
	var (
		d          models.Debate
		agents     string
		status     string
		outcome    string
		consensus  int
		confidence sql.NullFloat64
		artifact   sql.NullString
		createdAt  int64
		completed  sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.Slug, &d.Task, &agents, &d.RoundsPlanned, &d.RoundsUsed,
		&status, &outcome, &consensus, &confidence, &artifact, &d.ErrorMessage,
		&createdAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning debate: %w", err)
	}

	if err := json.Unmarshal([]byte(agents), &d.Agents); err != nil {
		return nil, fmt.Errorf("unmarshaling agents: %w", err)
	}
	d.Status = models.DebateStatus(status)
	d.Outcome = models.DebateOutcome(outcome)
	d.ConsensusReached = consensus != 0
	if confidence.Valid {
		d.Confidence = &confidence.Float64
	}
	if artifact.Valid && artifact.String != "" {
		if err := json.Unmarshal([]byte(artifact.String), &d.FinalArtifact); err != nil {
			return nil, fmt.Errorf("unmarshaling final artifact: %w", err)
		}
	}
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completed.Valid {
		t := time.UnixMilli(completed.Int64).UTC()
		d.CompletedAt = &t
	}
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
