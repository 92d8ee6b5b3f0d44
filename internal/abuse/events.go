package abuse

import (
	"context"
	"errors"

	"github.com/AnshRaj112/abuseguard/internal/models"
)

// EventSink is told about every committed violation. Implementations are best
// effort and must not block for long.
type EventSink interface {
	UserViolation(ctx context.Context, state *models.AbuseState, newEpisode bool, banned bool)
	IPViolation(ctx context.Context, violation *models.RateLimitViolation)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) UserViolation(ctx context.Context, state *models.AbuseState, newEpisode, banned bool) {
	for _, s := range m {
		s.UserViolation(ctx, state, newEpisode, banned)
	}
}

func (m MultiSink) IPViolation(ctx context.Context, v *models.RateLimitViolation) {
	for _, s := range m {
		s.IPViolation(ctx, v)
	}
}

type nopSink struct{}

func (nopSink) UserViolation(context.Context, *models.AbuseState, bool, bool) {}
func (nopSink) IPViolation(context.Context, *models.RateLimitViolation)       {}

// Notifier delivers appeal notifications to reviewers.
type Notifier interface {
	AppealSubmitted(ctx context.Context, appeal *models.AbuseAppeal) error
}

// MultiNotifier calls every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) AppealSubmitted(ctx context.Context, appeal *models.AbuseAppeal) error {
	var errs []error
	for _, n := range m {
		if err := n.AppealSubmitted(ctx, appeal); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
