package services

import (
	"database/sql"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func uuidPtr(nu uuid.NullUUID) *uuid.UUID {
	if !nu.Valid {
		return nil
	}
	id := nu.UUID
	return &id
}

const stateColumns = `id, user_id, points, last_points_update_at, episode_started_at, last_violation_at,
	sensitive_count_in_episode, cooldown_until, created_at, updated_at`

func scanState(row rowScanner) (*models.AbuseState, error) {
	var s models.AbuseState
	var episodeStarted, lastViolation, cooldown sql.NullTime
	err := row.Scan(
		&s.ID, &s.UserID, &s.Points, &s.LastPointsUpdateAt, &episodeStarted, &lastViolation,
		&s.SensitiveCountInEpisode, &cooldown, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.LastPointsUpdateAt = s.LastPointsUpdateAt.UTC()
	s.EpisodeStartedAt = timePtr(episodeStarted)
	s.LastViolationAt = timePtr(lastViolation)
	s.CooldownUntil = timePtr(cooldown)
	return &s, nil
}

const appealColumns = `id, abuse_state_id, user_id, created_at, explanation, state_snapshot, status,
	reviewed_by, reviewed_at, admin_notes`

func scanAppeal(row rowScanner) (*models.AbuseAppeal, error) {
	var a models.AbuseAppeal
	var reviewedBy uuid.NullUUID
	var reviewedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.AbuseStateID, &a.UserID, &a.CreatedAt, &a.Explanation, &a.Snapshot, &a.Status,
		&reviewedBy, &reviewedAt, &a.AdminNotes,
	)
	if err != nil {
		return nil, err
	}
	a.ReviewedBy = uuidPtr(reviewedBy)
	a.ReviewedAt = timePtr(reviewedAt)
	return &a, nil
}

const violationColumns = `id, ip_address, endpoint, violation_count, first_violation_at, last_violation_at,
	cooldown_until, user_id`

func scanViolation(row rowScanner) (*models.RateLimitViolation, error) {
	var v models.RateLimitViolation
	var cooldown sql.NullTime
	var userID uuid.NullUUID
	err := row.Scan(
		&v.ID, &v.IPAddress, &v.Endpoint, &v.ViolationCount, &v.FirstViolationAt, &v.LastViolationAt,
		&cooldown, &userID,
	)
	if err != nil {
		return nil, err
	}
	v.FirstViolationAt = v.FirstViolationAt.UTC()
	v.LastViolationAt = v.LastViolationAt.UTC()
	v.CooldownUntil = timePtr(cooldown)
	v.UserID = uuidPtr(userID)
	return &v, nil
}
