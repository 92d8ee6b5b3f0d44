package abuse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Reason explains an enforcement decision.
type Reason string

const (
	ReasonNone              Reason = "NONE"
	ReasonPermanentlyBanned Reason = "PERMANENTLY_BANNED"
	ReasonCooldown          Reason = "COOLDOWN"
	ReasonEpisodeCap        Reason = "EPISODE_CAP"
)

// Decision is the result of evaluating one request.
type Decision struct {
	Allowed         bool       `json:"allowed"`
	RequiresCaptcha bool       `json:"requires_captcha"`
	Reason          Reason     `json:"reason"`
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
	EpisodeEndsAt   *time.Time `json:"episode_ends_at,omitempty"`
	Points          int        `json:"points"`
}

// RetryAfter is how long a blocked caller should wait. Zero for allowed
// requests and permanent bans.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	var until *time.Time
	switch d.Reason {
	case ReasonCooldown:
		until = d.CooldownUntil
	case ReasonEpisodeCap:
		until = d.EpisodeEndsAt
	}
	if until == nil {
		return 0
	}
	wait := until.Sub(now)
	if wait < time.Minute {
		wait = time.Minute
	}
	return wait
}

// FormatRetry renders a wait as "N minutes" or "H hours M minutes", rounding
// down to whole minutes with a floor of one.
func FormatRetry(d time.Duration) string {
	minutes := int(d / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	if minutes < 60 {
		return plural(minutes, "minute")
	}
	parts := []string{plural(minutes/60, "hour")}
	if rem := minutes % 60; rem > 0 {
		parts = append(parts, plural(rem, "minute"))
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}

// Outcome reports what the post-request hook did.
type Outcome struct {
	Recorded      bool       `json:"recorded"`
	NewEpisode    bool       `json:"new_episode"`
	Points        int        `json:"points"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Banned        bool       `json:"banned"`
}

// Engine evaluates requests against the abuse state machine.
type Engine struct {
	states StateStore
	config ConfigProvider
	clock  Clock
	events EventSink
}

// NewEngine builds an engine. events may be nil.
func NewEngine(states StateStore, config ConfigProvider, clock Clock, events EventSink) *Engine {
	if events == nil {
		events = nopSink{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{states: states, config: config, clock: clock, events: events}
}

// Evaluate loads or creates the user's state, applies decay and returns the
// enforcement decision. Store failures come back as *PersistenceError.
func (e *Engine) Evaluate(ctx context.Context, userID uuid.UUID) (Decision, error) {
	th, err := e.config.Thresholds(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load thresholds: %w", err)
	}

	var decision Decision
	_, err = e.states.Update(ctx, userID, func(state *models.AbuseState) error {
		m := NewMachine(state, th, e.clock)
		m.Refresh()
		decision = m.Decide()
		return nil
	})
	if err != nil {
		return Decision{}, persistErr("evaluate", err)
	}

	decisionsTotal.WithLabelValues(string(decision.Reason), strconv.FormatBool(decision.Allowed)).Inc()
	if !decision.Allowed {
		logrus.WithFields(logrus.Fields{
			"user_id": userID.String(),
			"reason":  decision.Reason,
			"points":  decision.Points,
		}).Info("Sensitive request blocked")
	}
	return decision, nil
}

// RecordOutcome is the post-request hook. A rate-limited request, or any
// request made during an active episode, is recorded as a violation. Anything
// else leaves the state untouched.
func (e *Engine) RecordOutcome(ctx context.Context, userID uuid.UUID, wasRateLimited bool) (Outcome, error) {
	th, err := e.config.Thresholds(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("load thresholds: %w", err)
	}

	var out Outcome
	state, err := e.states.Update(ctx, userID, func(state *models.AbuseState) error {
		m := NewMachine(state, th, e.clock)
		if !wasRateLimited && !m.IsEpisodeActive() {
			return ErrNoChange
		}
		out.Recorded = true
		out.NewEpisode = m.RecordViolation()
		out.Banned = m.IsPermanentlyBanned()
		return nil
	})
	if err != nil {
		return Outcome{}, persistErr("record violation", err)
	}
	out.Points = state.Points
	out.CooldownUntil = state.CooldownUntil
	if !out.Recorded {
		return out, nil
	}

	kind := models.ViolationKindInEpisode
	if out.NewEpisode {
		kind = models.ViolationKindNewEpisode
		logrus.WithFields(logrus.Fields{
			"user_id":        userID.String(),
			"points":         state.Points,
			"banned":         out.Banned,
			"rate_limited":   wasRateLimited,
			"cooldown_until": state.CooldownUntil,
		}).Warn("Abuse episode started")
	}
	userViolationsTotal.WithLabelValues(string(kind)).Inc()
	e.events.UserViolation(ctx, state, out.NewEpisode, out.Banned)
	return out, nil
}

// State returns the user's current state without creating or refreshing it.
func (e *Engine) State(ctx context.Context, userID uuid.UUID) (*models.AbuseState, error) {
	state, err := e.states.Get(ctx, userID)
	if err != nil {
		return nil, persistErr("load state", err)
	}
	return state, nil
}
