package abuse

import (
	"context"
	"errors"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// ViolationWindow is how long an IP violation stays active.
	ViolationWindow = 24 * time.Hour
	// IPCooldown applies from the second active violation on. It does not grow.
	IPCooldown = 15 * time.Minute
)

// ViolationTracker counts rate-limit violations per (ip, endpoint), separately
// from user points.
type ViolationTracker struct {
	store  ViolationStore
	tokens CaptchaTokens
	clock  Clock
	events EventSink
}

// NewViolationTracker builds a tracker. tokens and events may be nil.
func NewViolationTracker(store ViolationStore, tokens CaptchaTokens, clock Clock, events EventSink) *ViolationTracker {
	if clock == nil {
		clock = SystemClock{}
	}
	if events == nil {
		events = nopSink{}
	}
	return &ViolationTracker{store: store, tokens: tokens, clock: clock, events: events}
}

// Record counts one violation. userID, when set, attributes the record if it
// has no user yet.
func (t *ViolationTracker) Record(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint, userID *uuid.UUID) (*models.RateLimitViolation, error) {
	now := t.clock.Now()

	v, err := t.store.Update(ctx, ip, endpoint, func(v *models.RateLimitViolation) (*models.RateLimitViolation, error) {
		switch {
		case v == nil:
			v = &models.RateLimitViolation{
				ID:               uuid.New(),
				IPAddress:        ip,
				Endpoint:         endpoint,
				ViolationCount:   1,
				FirstViolationAt: now,
			}
		case v.IsActive(now, ViolationWindow):
			v.ViolationCount++
			if v.ViolationCount >= 2 {
				until := now.Add(IPCooldown)
				v.CooldownUntil = &until
			}
		default:
			v.ViolationCount = 1
			v.FirstViolationAt = now
			v.CooldownUntil = nil
		}
		v.LastViolationAt = now
		if userID != nil && v.UserID == nil {
			id := *userID
			v.UserID = &id
		}
		return v, nil
	})
	if err != nil {
		return nil, persistErr("record ip violation", err)
	}

	ipViolationsTotal.WithLabelValues(string(endpoint)).Inc()
	logrus.WithFields(logrus.Fields{
		"ip":              ip,
		"endpoint":        endpoint,
		"violation_count": v.ViolationCount,
		"cooldown_until":  v.CooldownUntil,
	}).Warn("IP rate limit violation recorded")
	t.events.IPViolation(ctx, v)
	return v, nil
}

// Lookup returns the record for (ip, endpoint) or nil when there is none.
func (t *ViolationTracker) Lookup(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint) (*models.RateLimitViolation, error) {
	v, err := t.store.Get(ctx, ip, endpoint)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, persistErr("load ip violation", err)
	}
	return v, nil
}

// InCooldown reports whether (ip, endpoint) is cooling down, with the record.
func (t *ViolationTracker) InCooldown(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint) (bool, *models.RateLimitViolation, error) {
	v, err := t.Lookup(ctx, ip, endpoint)
	if err != nil || v == nil {
		return false, nil, err
	}
	return v.IsInCooldown(t.clock.Now()), v, nil
}

// CheckCaptchaRequired reports whether this request must pass a CAPTCHA. A
// bypass token for the session is consumed first and, if present, waives the
// requirement for this single request.
func (t *ViolationTracker) CheckCaptchaRequired(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint, sessionID string) (bool, error) {
	if t.tokens != nil && sessionID != "" {
		ok, err := t.tokens.Consume(ctx, sessionID)
		if err != nil {
			return false, persistErr("consume captcha token", err)
		}
		if ok {
			return false, nil
		}
	}
	v, err := t.Lookup(ctx, ip, endpoint)
	if err != nil || v == nil {
		return false, err
	}
	return v.RequiresCaptcha(t.clock.Now(), ViolationWindow), nil
}

// Clear deletes every violation recorded for ip.
func (t *ViolationTracker) Clear(ctx context.Context, ip string) (int64, error) {
	n, err := t.store.DeleteByIP(ctx, ip)
	if err != nil {
		return 0, persistErr("clear ip violations", err)
	}
	logrus.WithFields(logrus.Fields{"ip": ip, "deleted": n}).Info("Cleared IP violations")
	return n, nil
}
