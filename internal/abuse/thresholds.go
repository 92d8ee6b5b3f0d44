package abuse

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Thresholds are the tunable knobs of the abuse system. Field tags match the
// configuration keys used by the YAML file, the Redis override hash and the admin API.
type Thresholds struct {
	RateLimit                string `yaml:"rate_limit" json:"rate_limit"`
	EpisodeInactivityMinutes int    `yaml:"episode_inactivity_minutes" json:"episode_inactivity_minutes"`
	SensitiveCapPerEpisode   int    `yaml:"sensitive_cap_per_episode" json:"sensitive_cap_per_episode"`
	PointsDecayHours         int    `yaml:"points_decay_hours" json:"points_decay_hours"`
	PermanentBanThreshold    int    `yaml:"permanent_ban_threshold" json:"permanent_ban_threshold"`
	CaptchaThreshold         int    `yaml:"captcha_threshold" json:"captcha_threshold"`
	CooldownLadder           Ladder `yaml:"cooldown_ladder" json:"cooldown_ladder"`
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RateLimit:                "30/60m",
		EpisodeInactivityMinutes: 60,
		SensitiveCapPerEpisode:   10,
		PointsDecayHours:         24,
		PermanentBanThreshold:    5,
		CaptchaThreshold:         1,
		CooldownLadder:           Ladder{0, 0, 60, 120, 1440},
	}
}

// Validate checks every threshold and returns a *ConfigurationError for the first bad one.
func (t Thresholds) Validate() error {
	if _, err := ParseRateLimit(t.RateLimit); err != nil {
		return &ConfigurationError{Key: "rate_limit", Reason: err.Error()}
	}
	if t.EpisodeInactivityMinutes <= 0 {
		return &ConfigurationError{Key: "episode_inactivity_minutes", Reason: "must be positive"}
	}
	if t.SensitiveCapPerEpisode <= 0 {
		return &ConfigurationError{Key: "sensitive_cap_per_episode", Reason: "must be positive"}
	}
	if t.PointsDecayHours <= 0 {
		return &ConfigurationError{Key: "points_decay_hours", Reason: "must be positive"}
	}
	if t.PermanentBanThreshold <= 0 {
		return &ConfigurationError{Key: "permanent_ban_threshold", Reason: "must be positive"}
	}
	if t.CaptchaThreshold < 0 {
		return &ConfigurationError{Key: "captcha_threshold", Reason: "must not be negative"}
	}
	if len(t.CooldownLadder) == 0 {
		return &ConfigurationError{Key: "cooldown_ladder", Reason: "must have at least one entry"}
	}
	for i, m := range t.CooldownLadder {
		if m < 0 {
			return &ConfigurationError{Key: "cooldown_ladder", Reason: fmt.Sprintf("entry %d is negative", i)}
		}
	}
	return nil
}

// EpisodeInactivity is the episode timeout as a duration.
func (t Thresholds) EpisodeInactivity() time.Duration {
	return time.Duration(t.EpisodeInactivityMinutes) * time.Minute
}

// PointsDecay is the time it takes to shed one point.
func (t Thresholds) PointsDecay() time.Duration {
	return time.Duration(t.PointsDecayHours) * time.Hour
}

// EpisodeCapReachable reports whether the episode cap can ever block anyone.
// The cap check runs only when no cooldown is active, so it needs at least one
// non-banned point level >= 1 whose ladder entry is zero.
func (t Thresholds) EpisodeCapReachable() bool {
	for p := 1; p < t.PermanentBanThreshold; p++ {
		if t.CooldownLadder.CooldownMinutes(p) == 0 {
			return true
		}
	}
	return false
}

// RateLimit is a parsed "N/window" limit.
type RateLimit struct {
	Count  int
	Window time.Duration
}

func (r RateLimit) String() string {
	return fmt.Sprintf("%d/%s", r.Count, r.Window)
}

// ParseRateLimit parses limits such as "30/60m", "5/s" or "100/1d".
func ParseRateLimit(s string) (RateLimit, error) {
	count, period, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return RateLimit{}, fmt.Errorf("rate limit %q: expected N/period", s)
	}
	n, err := strconv.Atoi(count)
	if err != nil || n <= 0 {
		return RateLimit{}, fmt.Errorf("rate limit %q: count must be a positive integer", s)
	}
	if period == "" {
		return RateLimit{}, fmt.Errorf("rate limit %q: missing period", s)
	}

	var unit time.Duration
	switch period[len(period)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return RateLimit{}, fmt.Errorf("rate limit %q: unknown period unit", s)
	}

	mult := 1
	if prefix := period[:len(period)-1]; prefix != "" {
		mult, err = strconv.Atoi(prefix)
		if err != nil || mult <= 0 {
			return RateLimit{}, fmt.Errorf("rate limit %q: bad period multiplier", s)
		}
	}
	return RateLimit{Count: n, Window: time.Duration(mult) * unit}, nil
}

// ConfigProvider supplies the thresholds in force. Read at the start of every
// evaluation so changes apply without a restart.
type ConfigProvider interface {
	Thresholds(ctx context.Context) (Thresholds, error)
}

// StaticConfig is a ConfigProvider that never changes.
type StaticConfig Thresholds

func (c StaticConfig) Thresholds(context.Context) (Thresholds, error) {
	return Thresholds(c), nil
}
