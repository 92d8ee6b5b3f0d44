package services

import (
	"context"
	"fmt"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/getsentry/sentry-go"
)

// SentryEvents raises a warning in Sentry whenever a user starts a new abuse
// episode. Other violations are too noisy to report.
type SentryEvents struct {
	hub *sentry.Hub
}

// NewSentryEvents reports through hub, or the current hub when nil.
func NewSentryEvents(hub *sentry.Hub) *SentryEvents {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryEvents{hub: hub}
}

func (s *SentryEvents) UserViolation(_ context.Context, state *models.AbuseState, newEpisode, banned bool) {
	if !newEpisode {
		return
	}
	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("user_id", state.UserID.String())
		scope.SetTag("banned", fmt.Sprintf("%t", banned))
		scope.SetExtra("points", state.Points)
		scope.SetExtra("cooldown_until", state.CooldownUntil)
		hub.CaptureMessage(fmt.Sprintf("Abuse episode started for user %s (points=%d)", state.UserID, state.Points))
	})
}

func (s *SentryEvents) IPViolation(context.Context, *models.RateLimitViolation) {}
