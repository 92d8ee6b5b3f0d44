package abuse

import "time"

// Ladder maps points to cooldown minutes. Index is the point count; counts past
// the end use the last entry.
type Ladder []int

// CooldownMinutes returns the cooldown for the given points, clamped into the ladder.
func (l Ladder) CooldownMinutes(points int) int {
	if len(l) == 0 {
		return 0
	}
	idx := points
	if idx < 0 {
		idx = 0
	}
	if idx > len(l)-1 {
		idx = len(l) - 1
	}
	return l[idx]
}

// Cooldown is CooldownMinutes as a duration.
func (l Ladder) Cooldown(points int) time.Duration {
	return time.Duration(l.CooldownMinutes(points)) * time.Minute
}

// Step is the penalty for one point level.
type Step struct {
	RequiresCaptcha bool `json:"requires_captcha"`
	CooldownMinutes int  `json:"cooldown_minutes"`
}

// Step looks up the escalation penalty for points. Captcha is a separate
// threshold and is not tied to ladder entries.
func (t Thresholds) Step(points int) Step {
	return Step{
		RequiresCaptcha: points >= t.CaptchaThreshold,
		CooldownMinutes: t.CooldownLadder.CooldownMinutes(points),
	}
}
