package abuse

import (
	"context"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
)

// StateStore persists AbuseState records.
type StateStore interface {
	// Update loads the state for userID, creating it if needed, passes it to fn
	// and commits every field in one write. Concurrent updates for the same user
	// serialize. If fn returns an error nothing is written; ErrNoChange skips
	// the write and is not reported as an error.
	Update(ctx context.Context, userID uuid.UUID, fn func(*models.AbuseState) error) (*models.AbuseState, error)
	// Get returns ErrNotFound when the user has no state yet.
	Get(ctx context.Context, userID uuid.UUID) (*models.AbuseState, error)
}

// AppealStore persists AbuseAppeal records.
type AppealStore interface {
	Create(ctx context.Context, appeal *models.AbuseAppeal) error
	Get(ctx context.Context, id uuid.UUID) (*models.AbuseAppeal, error)
	// List returns appeals newest first. An empty status lists all.
	List(ctx context.Context, status models.AppealStatus, limit int) ([]models.AbuseAppeal, error)
	// Review locks the appeal and its live state together, applies fn and
	// commits both.
	Review(ctx context.Context, id uuid.UUID, fn func(*models.AbuseAppeal, *models.AbuseState) error) (*models.AbuseAppeal, *models.AbuseState, error)
}

// ViolationStore persists RateLimitViolation records keyed by (ip, endpoint).
type ViolationStore interface {
	// Update serializes on (ip, endpoint). fn receives nil when no record exists
	// and returns the record to write.
	Update(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint, fn func(*models.RateLimitViolation) (*models.RateLimitViolation, error)) (*models.RateLimitViolation, error)
	// Get returns ErrNotFound when there is no record.
	Get(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint) (*models.RateLimitViolation, error)
	DeleteByIP(ctx context.Context, ip string) (int64, error)
}
