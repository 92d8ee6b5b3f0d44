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

const (
	defaultAppealListLimit = 50
	maxAppealListLimit     = 200
)

// AppealStore keeps abuse appeals in PostgreSQL.
type AppealStore struct {
	db *sql.DB
}

func NewAppealStore(db *sql.DB) *AppealStore {
	return &AppealStore{db: db}
}

func (s *AppealStore) Create(ctx context.Context, appeal *models.AbuseAppeal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO abuse_appeals (id, abuse_state_id, user_id, created_at, explanation, state_snapshot, status, admin_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, appeal.ID, appeal.AbuseStateID, appeal.UserID, appeal.CreatedAt, appeal.Explanation, appeal.Snapshot,
		string(appeal.Status), appeal.AdminNotes)
	if err != nil {
		return fmt.Errorf("insert appeal: %w", err)
	}
	return nil
}

func (s *AppealStore) Get(ctx context.Context, id uuid.UUID) (*models.AbuseAppeal, error) {
	appeal, err := scanAppeal(s.db.QueryRowContext(ctx,
		`SELECT `+appealColumns+` FROM abuse_appeals WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abuse.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load appeal: %w", err)
	}
	return appeal, nil
}

func (s *AppealStore) List(ctx context.Context, status models.AppealStatus, limit int) ([]models.AbuseAppeal, error) {
	if limit <= 0 {
		limit = defaultAppealListLimit
	}
	if limit > maxAppealListLimit {
		limit = maxAppealListLimit
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+appealColumns+` FROM abuse_appeals ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+appealColumns+` FROM abuse_appeals WHERE status = $1 ORDER BY created_at DESC LIMIT $2`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	defer rows.Close()

	appeals := []models.AbuseAppeal{}
	for rows.Next() {
		appeal, err := scanAppeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appeal: %w", err)
		}
		appeals = append(appeals, *appeal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	return appeals, nil
}

// Review locks the appeal, then its abuse state, and commits both after fn.
// The lock order is always appeal then state.
func (s *AppealStore) Review(ctx context.Context, id uuid.UUID, fn func(*models.AbuseAppeal, *models.AbuseState) error) (*models.AbuseAppeal, *models.AbuseState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	appeal, err := scanAppeal(tx.QueryRowContext(ctx,
		`SELECT `+appealColumns+` FROM abuse_appeals WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, abuse.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock appeal: %w", err)
	}

	state, err := scanState(tx.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM abuse_states WHERE id = $1 FOR UPDATE`, appeal.AbuseStateID))
	if err != nil {
		return nil, nil, fmt.Errorf("lock abuse state: %w", err)
	}

	if err := fn(appeal, state); err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE abuse_appeals
		SET status = $2, reviewed_by = $3, reviewed_at = $4, admin_notes = $5
		WHERE id = $1
	`, appeal.ID, string(appeal.Status), appeal.ReviewedBy, appeal.ReviewedAt, appeal.AdminNotes); err != nil {
		return nil, nil, fmt.Errorf("save appeal: %w", err)
	}
	if err := updateState(ctx, tx, state); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return appeal, state, nil
}
