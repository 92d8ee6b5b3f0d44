package models

import (
	"time"

	"github.com/google/uuid"
)

// AbuseState is the per-user abuse record. One row per user.
// A permanent ban is not stored: it is points at or above the ban threshold.
type AbuseState struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`

	Points             int       `json:"points"`
	LastPointsUpdateAt time.Time `json:"last_points_update_at"`

	// Episode tracking
	EpisodeStartedAt        *time.Time `json:"episode_started_at,omitempty"`
	LastViolationAt         *time.Time `json:"last_violation_at,omitempty"`
	SensitiveCountInEpisode int        `json:"sensitive_count_in_episode"`

	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPermanentlyBanned reports whether points have reached the ban threshold.
func (s *AbuseState) IsPermanentlyBanned(threshold int) bool {
	return s.Points >= threshold
}

// Clone returns a deep copy so callers can hold on to a state after the
// transaction that produced it has moved on.
func (s *AbuseState) Clone() *AbuseState {
	if s == nil {
		return nil
	}
	c := *s
	c.EpisodeStartedAt = copyTime(s.EpisodeStartedAt)
	c.LastViolationAt = copyTime(s.LastViolationAt)
	c.CooldownUntil = copyTime(s.CooldownUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
