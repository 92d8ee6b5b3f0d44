package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitedEndpoint names a group of paths tracked together for IP violations.
type RateLimitedEndpoint string

const (
	EndpointCoordinateAccess RateLimitedEndpoint = "COORDINATE_ACCESS"
)

// RateLimitViolation tracks repeated rate-limit hits from one IP on one endpoint.
// Unique on (IPAddress, Endpoint).
type RateLimitViolation struct {
	ID        uuid.UUID           `json:"id"`
	IPAddress string              `json:"ip_address"`
	Endpoint  RateLimitedEndpoint `json:"endpoint"`

	ViolationCount   int        `json:"violation_count"`
	FirstViolationAt time.Time  `json:"first_violation_at"`
	LastViolationAt  time.Time  `json:"last_violation_at"`
	CooldownUntil    *time.Time `json:"cooldown_until,omitempty"`

	// Best-effort attribution; first authenticated user wins.
	UserID *uuid.UUID `json:"user_id,omitempty"`
}

// IsActive reports whether the last violation falls inside the rolling window.
func (v *RateLimitViolation) IsActive(now time.Time, window time.Duration) bool {
	return now.Sub(v.LastViolationAt) < window
}

// IsInCooldown reports whether a cooldown is set and still running.
func (v *RateLimitViolation) IsInCooldown(now time.Time) bool {
	return v.CooldownUntil != nil && v.CooldownUntil.After(now)
}

// RequiresCaptcha is true for any active violation, whatever the count.
func (v *RateLimitViolation) RequiresCaptcha(now time.Time, window time.Duration) bool {
	return v.IsActive(now, window)
}
