package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
)

// AbuseStateStore keeps abuse states in PostgreSQL. Updates lock the user's
// row for the length of one transaction.
type AbuseStateStore struct {
	db *sql.DB
}

func NewAbuseStateStore(db *sql.DB) *AbuseStateStore {
	return &AbuseStateStore{db: db}
}

func (s *AbuseStateStore) Update(ctx context.Context, userID uuid.UUID, fn func(*models.AbuseState) error) (*models.AbuseState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO abuse_states (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("create abuse state: %w", err)
	}

	state, err := scanState(tx.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM abuse_states WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock abuse state: %w", err)
	}

	work := state.Clone()
	if err := fn(work); err != nil {
		if !errors.Is(err, abuse.ErrNoChange) {
			return nil, err
		}
		// The row may have just been created; keep it.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		return state, nil
	}

	if err := updateState(ctx, tx, work); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return work, nil
}

// updateState writes every mutable field in one statement.
func updateState(ctx context.Context, tx *sql.Tx, state *models.AbuseState) error {
	err := tx.QueryRowContext(ctx, `
		UPDATE abuse_states
		SET points = $2,
			last_points_update_at = $3,
			episode_started_at = $4,
			last_violation_at = $5,
			sensitive_count_in_episode = $6,
			cooldown_until = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, state.ID, state.Points, state.LastPointsUpdateAt, state.EpisodeStartedAt, state.LastViolationAt,
		state.SensitiveCountInEpisode, state.CooldownUntil).Scan(&state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save abuse state: %w", err)
	}
	return nil
}

func (s *AbuseStateStore) Get(ctx context.Context, userID uuid.UUID) (*models.AbuseState, error) {
	state, err := scanState(s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM abuse_states WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abuse.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load abuse state: %w", err)
	}
	return state, nil
}
