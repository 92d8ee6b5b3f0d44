package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// Valid reports whether s is one of the known appeal statuses.
func (s AppealStatus) Valid() bool {
	switch s {
	case AppealPending, AppealApproved, AppealDenied:
		return true
	}
	return false
}

// AbuseAppeal is a user's request to lift a permanent ban.
type AbuseAppeal struct {
	ID           uuid.UUID `json:"id"`
	AbuseStateID uuid.UUID `json:"abuse_state_id"`
	UserID       uuid.UUID `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`

	Explanation string        `json:"explanation"`
	Snapshot    StateSnapshot `json:"state_snapshot"`

	// Review
	Status     AppealStatus `json:"status"`
	ReviewedBy *uuid.UUID   `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
	AdminNotes string       `json:"admin_notes,omitempty"`
}

// StateSnapshot is the copy of an AbuseState taken when an appeal is filed.
// Timestamps are ISO-8601 strings so the stored JSON reads the same forever.
type StateSnapshot struct {
	UserID                  string  `json:"user_id"`
	Points                  int     `json:"points"`
	IsPermanentlyBanned     bool    `json:"is_permanently_banned"`
	EpisodeStartedAt        *string `json:"episode_started_at"`
	LastViolationAt         *string `json:"last_violation_at"`
	CooldownUntil           *string `json:"cooldown_until"`
	SensitiveCountInEpisode int     `json:"sensitive_count_in_episode"`
}

// NewStateSnapshot captures the fields of state relevant to an appeal.
func NewStateSnapshot(state *AbuseState, banThreshold int) StateSnapshot {
	return StateSnapshot{
		UserID:                  state.UserID.String(),
		Points:                  state.Points,
		IsPermanentlyBanned:     state.IsPermanentlyBanned(banThreshold),
		EpisodeStartedAt:        isoTime(state.EpisodeStartedAt),
		LastViolationAt:         isoTime(state.LastViolationAt),
		CooldownUntil:           isoTime(state.CooldownUntil),
		SensitiveCountInEpisode: state.SensitiveCountInEpisode,
	}
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// Value stores the snapshot as JSONB. lib/pq sends []byte as bytea, so the
// document goes out as text.
func (s StateSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads the snapshot back from a JSONB column.
func (s *StateSnapshot) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = StateSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("state snapshot: unsupported type %T", src)
	}
}
