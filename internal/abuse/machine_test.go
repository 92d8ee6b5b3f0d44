package abuse

import (
	"testing"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newState(points int, lastUpdate time.Time) *models.AbuseState {
	return &models.AbuseState{ID: uuid.New(), UserID: uuid.New(), Points: points, LastPointsUpdateAt: lastUpdate}
}

func TestApplyPointsDecay(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()

	t.Run("one period", func(t *testing.T) {
		state := newState(3, clock.Now().Add(-25*time.Hour))
		m := NewMachine(state, th, clock)
		assert.Equal(t, 1, m.ApplyPointsDecay())
		assert.Equal(t, 2, state.Points)
		assert.Equal(t, clock.Now(), state.LastPointsUpdateAt)
	})

	t.Run("clamped at zero", func(t *testing.T) {
		state := newState(1, clock.Now().Add(-48*time.Hour))
		m := NewMachine(state, th, clock)
		assert.Equal(t, 1, m.ApplyPointsDecay())
		assert.Equal(t, 0, state.Points)
	})

	t.Run("partial period is kept", func(t *testing.T) {
		last := clock.Now().Add(-23 * time.Hour)
		state := newState(2, last)
		m := NewMachine(state, th, clock)
		assert.Zero(t, m.ApplyPointsDecay())
		assert.Equal(t, 2, state.Points)
		assert.Equal(t, last, state.LastPointsUpdateAt)
	})

	t.Run("clock skew", func(t *testing.T) {
		last := clock.Now().Add(time.Hour)
		state := newState(2, last)
		NewMachine(state, th, clock).ApplyPointsDecay()
		assert.Equal(t, 2, state.Points)
		assert.Equal(t, last, state.LastPointsUpdateAt)
	})

	t.Run("zero points still moves the anchor", func(t *testing.T) {
		state := newState(0, clock.Now().Add(-72*time.Hour))
		NewMachine(state, th, clock).ApplyPointsDecay()
		assert.Equal(t, 0, state.Points)
		assert.Equal(t, clock.Now(), state.LastPointsUpdateAt)
	})
}

func TestDecayMonotonicity(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	for points := 1; points < th.PermanentBanThreshold; points++ {
		for _, elapsed := range []time.Duration{24 * time.Hour, 30 * time.Hour, 100 * time.Hour, 10000 * time.Hour} {
			state := newState(points, clock.Now().Add(-elapsed))
			NewMachine(state, th, clock).ApplyPointsDecay()
			assert.Less(t, state.Points, points, "points=%d elapsed=%s", points, elapsed)
			assert.GreaterOrEqual(t, state.Points, 0)
		}
	}
}

func TestBanFreezesDecay(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	for _, points := range []int{5, 6, 50} {
		last := clock.Now().Add(-10000 * time.Hour)
		state := newState(points, last)
		m := NewMachine(state, th, clock)
		assert.Zero(t, m.ApplyPointsDecay())
		assert.Equal(t, points, state.Points)
		assert.Equal(t, last, state.LastPointsUpdateAt)
		assert.True(t, m.IsPermanentlyBanned())
	}
}

func TestRecordViolationEpisodeIdempotence(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	state := newState(0, clock.Now())

	require.True(t, NewMachine(state, th, clock).RecordViolation())
	assert.Equal(t, 1, state.Points)
	assert.Equal(t, 1, state.SensitiveCountInEpisode)
	require.NotNil(t, state.EpisodeStartedAt)
	started := *state.EpisodeStartedAt

	for i := 0; i < 3; i++ {
		clock.Advance(5 * time.Minute)
		assert.False(t, NewMachine(state, th, clock).RecordViolation())
	}
	assert.Equal(t, 1, state.Points)
	assert.Equal(t, 4, state.SensitiveCountInEpisode)
	assert.Equal(t, started, *state.EpisodeStartedAt)
	assert.Equal(t, clock.Now(), *state.LastViolationAt)

	// Inactivity ends the episode; the next violation opens a new one.
	clock.Advance(61 * time.Minute)
	m := NewMachine(state, th, clock)
	assert.False(t, m.IsEpisodeActive())
	assert.True(t, m.RecordViolation())
	assert.Equal(t, 2, state.Points)
	assert.Equal(t, 1, state.SensitiveCountInEpisode)
	require.NotNil(t, state.CooldownUntil)
	assert.Equal(t, clock.Now().Add(60*time.Minute), *state.CooldownUntil)
}

func TestRecordViolationCrossesIntoCooldown(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	state := newState(1, clock.Now())

	m := NewMachine(state, th, clock)
	assert.True(t, m.Decide().RequiresCaptcha)
	m.RecordViolation()
	assert.Equal(t, 2, state.Points)
	require.NotNil(t, state.CooldownUntil)
	assert.Equal(t, clock.Now().Add(time.Hour), *state.CooldownUntil)

	clock.Advance(30 * time.Minute)
	d := NewMachine(state, th, clock).Decide()
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	require.NotNil(t, d.CooldownUntil)
	assert.Equal(t, *state.CooldownUntil, *d.CooldownUntil)
}

func TestRecordViolationClearsCooldownOnZeroEntry(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	state := newState(0, clock.Now())
	state.CooldownUntil = timePtr(clock.Now().Add(-time.Hour))

	NewMachine(state, th, clock).RecordViolation()
	assert.Equal(t, 1, state.Points)
	assert.Nil(t, state.CooldownUntil)
}

func TestDecideOrder(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	now := clock.Now()

	t.Run("ban shadows cooldown and cap", func(t *testing.T) {
		state := newState(th.PermanentBanThreshold, now)
		state.CooldownUntil = timePtr(now.Add(time.Hour))
		state.LastViolationAt = timePtr(now.Add(-time.Minute))
		state.SensitiveCountInEpisode = th.SensitiveCapPerEpisode + 5
		d := NewMachine(state, th, clock).Decide()
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonPermanentlyBanned, d.Reason)
		assert.Nil(t, d.CooldownUntil)
	})

	t.Run("cooldown shadows cap", func(t *testing.T) {
		state := newState(2, now)
		state.CooldownUntil = timePtr(now.Add(time.Hour))
		state.LastViolationAt = timePtr(now.Add(-time.Minute))
		state.SensitiveCountInEpisode = th.SensitiveCapPerEpisode
		d := NewMachine(state, th, clock).Decide()
		assert.Equal(t, ReasonCooldown, d.Reason)
	})

	t.Run("episode cap", func(t *testing.T) {
		state := newState(1, now)
		last := now.Add(-10 * time.Minute)
		state.LastViolationAt = &last
		state.SensitiveCountInEpisode = th.SensitiveCapPerEpisode
		m := NewMachine(state, th, clock)
		m.Refresh()
		d := m.Decide()
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonEpisodeCap, d.Reason)
		require.NotNil(t, d.EpisodeEndsAt)
		assert.Equal(t, last.Add(time.Hour), *d.EpisodeEndsAt)
		assert.Nil(t, state.CooldownUntil)
	})

	t.Run("cap lapses with the episode", func(t *testing.T) {
		state := newState(1, now)
		state.LastViolationAt = timePtr(now.Add(-2 * time.Hour))
		state.SensitiveCountInEpisode = th.SensitiveCapPerEpisode
		d := NewMachine(state, th, clock).Decide()
		assert.True(t, d.Allowed)
		assert.True(t, d.RequiresCaptcha)
	})

	t.Run("allowed without captcha at zero points", func(t *testing.T) {
		d := NewMachine(newState(0, now), th, clock).Decide()
		assert.True(t, d.Allowed)
		assert.False(t, d.RequiresCaptcha)
		assert.Equal(t, ReasonNone, d.Reason)
	})
}

func TestApplyEpisodeCapCooldown(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()
	now := clock.Now()

	state := newState(2, now)
	state.LastViolationAt = timePtr(now.Add(-time.Minute))
	state.SensitiveCountInEpisode = th.SensitiveCapPerEpisode
	state.CooldownUntil = timePtr(now.Add(-time.Second))

	m := NewMachine(state, th, clock)
	require.True(t, m.ApplyEpisodeCapCooldown())
	assert.Equal(t, now.Add(time.Hour), *state.CooldownUntil)
	assert.Equal(t, ReasonCooldown, m.Decide().Reason)

	// A running cooldown is left alone.
	assert.False(t, m.ApplyEpisodeCapCooldown())
}

func TestAppealTransitions(t *testing.T) {
	clock := newFakeClock()
	th := DefaultThresholds()

	state := newState(th.PermanentBanThreshold, clock.Now().Add(-time.Hour))
	state.SensitiveCountInEpisode = 7
	state.CooldownUntil = timePtr(clock.Now().Add(time.Hour))

	m := NewMachine(state, th, clock)
	m.ApproveAppeal()
	assert.Equal(t, th.PermanentBanThreshold-1, state.Points)
	assert.False(t, m.IsPermanentlyBanned())
	assert.Zero(t, state.SensitiveCountInEpisode)
	assert.Nil(t, state.CooldownUntil)
	assert.Equal(t, clock.Now(), state.LastPointsUpdateAt)

	m.DenyAppeal()
	assert.Equal(t, th.PermanentBanThreshold, state.Points)
	assert.True(t, m.IsPermanentlyBanned())
}

func TestNewMachineInitialisesDecayAnchor(t *testing.T) {
	clock := newFakeClock()
	state := &models.AbuseState{UserID: uuid.New()}
	NewMachine(state, DefaultThresholds(), clock)
	assert.Equal(t, clock.Now(), state.LastPointsUpdateAt)
}
