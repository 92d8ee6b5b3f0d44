package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/sirupsen/logrus"
)

// ViolationStore keeps IP rate-limit violations in PostgreSQL. Writers for one
// (ip, endpoint) serialize on a transaction-scoped advisory lock, which also
// covers the first insert when no row exists yet.
type ViolationStore struct {
	db *sql.DB
}

func NewViolationStore(db *sql.DB) *ViolationStore {
	return &ViolationStore{db: db}
}

func violationLockKey(ip string, endpoint models.RateLimitedEndpoint) string {
	return "rate_limit_violation|" + ip + "|" + string(endpoint)
}

func (s *ViolationStore) Update(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint, fn func(*models.RateLimitViolation) (*models.RateLimitViolation, error)) (*models.RateLimitViolation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, violationLockKey(ip, endpoint)); err != nil {
		return nil, fmt.Errorf("lock violation: %w", err)
	}

	current, err := scanViolation(tx.QueryRowContext(ctx,
		`SELECT `+violationColumns+` FROM rate_limit_violations WHERE ip_address = $1 AND endpoint = $2`,
		ip, string(endpoint)))
	if errors.Is(err, sql.ErrNoRows) {
		current = nil
	} else if err != nil {
		return nil, fmt.Errorf("load violation: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_limit_violations
			(id, ip_address, endpoint, violation_count, first_violation_at, last_violation_at, cooldown_until, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ip_address, endpoint) DO UPDATE SET
			violation_count = EXCLUDED.violation_count,
			first_violation_at = EXCLUDED.first_violation_at,
			last_violation_at = EXCLUDED.last_violation_at,
			cooldown_until = EXCLUDED.cooldown_until,
			user_id = EXCLUDED.user_id
	`, next.ID, next.IPAddress, string(next.Endpoint), next.ViolationCount, next.FirstViolationAt,
		next.LastViolationAt, next.CooldownUntil, next.UserID)
	if err != nil {
		return nil, fmt.Errorf("save violation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

func (s *ViolationStore) Get(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint) (*models.RateLimitViolation, error) {
	v, err := scanViolation(s.db.QueryRowContext(ctx,
		`SELECT `+violationColumns+` FROM rate_limit_violations WHERE ip_address = $1 AND endpoint = $2`,
		ip, string(endpoint)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, abuse.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load violation: %w", err)
	}
	return v, nil
}

func (s *ViolationStore) DeleteByIP(ctx context.Context, ip string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_violations WHERE ip_address = $1`, ip)
	if err != nil {
		return 0, fmt.Errorf("delete violations: %w", err)
	}
	return res.RowsAffected()
}

// PruneExpired deletes records whose last violation is older than before.
// Such records would be reset on their next violation anyway.
func (s *ViolationStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_violations WHERE last_violation_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune violations: %w", err)
	}
	return res.RowsAffected()
}

// StartViolationPrune removes expired IP violations every interval until ctx is done.
func (s *ViolationStore) StartViolationPrune(ctx context.Context, interval time.Duration, clock abuse.Clock) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := s.PruneExpired(pruneCtx, clock.Now().Add(-abuse.ViolationWindow))
			cancel()
			if err != nil {
				logrus.WithError(err).Error("Failed to prune expired IP violations")
			} else if n > 0 {
				logrus.WithField("deleted", n).Info("Pruned expired IP violations")
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
