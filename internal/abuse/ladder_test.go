package abuse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLadderClamps(t *testing.T) {
	l := Ladder{0, 0, 60, 120, 1440}
	tests := []struct {
		points int
		want   int
	}{
		{-3, 0},
		{0, 0},
		{1, 0},
		{2, 60},
		{3, 120},
		{4, 1440},
		{5, 1440},
		{99, 1440},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.CooldownMinutes(tt.points), "points=%d", tt.points)
	}
	assert.Equal(t, 2*time.Hour, l.Cooldown(3))
	assert.Zero(t, Ladder(nil).CooldownMinutes(4))
}

func TestLadderMonotonic(t *testing.T) {
	l := DefaultThresholds().CooldownLadder
	prev := l.CooldownMinutes(0)
	for p := 1; p <= 20; p++ {
		cur := l.CooldownMinutes(p)
		assert.GreaterOrEqual(t, cur, prev, "points=%d", p)
		prev = cur
	}
}

func TestStepSeparatesCaptchaFromCooldown(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, Step{RequiresCaptcha: false, CooldownMinutes: 0}, th.Step(0))
	assert.Equal(t, Step{RequiresCaptcha: true, CooldownMinutes: 0}, th.Step(1))
	assert.Equal(t, Step{RequiresCaptcha: true, CooldownMinutes: 60}, th.Step(2))

	th.CaptchaThreshold = 3
	assert.Equal(t, Step{RequiresCaptcha: false, CooldownMinutes: 60}, th.Step(2))
}
