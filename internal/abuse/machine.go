package abuse

import (
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
)

// Machine applies the abuse state transitions to one user's state. It only
// mutates the in-memory record; the caller persists it in one commit.
type Machine struct {
	state *models.AbuseState
	th    Thresholds
	now   time.Time
}

// NewMachine wraps state. The clock is read once so every check in a request
// sees the same instant.
func NewMachine(state *models.AbuseState, th Thresholds, clock Clock) *Machine {
	now := clock.Now()
	if state.LastPointsUpdateAt.IsZero() {
		state.LastPointsUpdateAt = now
	}
	return &Machine{state: state, th: th, now: now}
}

// State returns the wrapped record.
func (m *Machine) State() *models.AbuseState { return m.state }

// Now is the instant this machine was created at.
func (m *Machine) Now() time.Time { return m.now }

func (m *Machine) IsPermanentlyBanned() bool {
	return m.state.IsPermanentlyBanned(m.th.PermanentBanThreshold)
}

func (m *Machine) IsInCooldown() bool {
	return m.state.CooldownUntil != nil && m.state.CooldownUntil.After(m.now)
}

// IsEpisodeActive is true while the last violation is within the inactivity timeout.
func (m *Machine) IsEpisodeActive() bool {
	if m.state.LastViolationAt == nil {
		return false
	}
	return m.now.Sub(*m.state.LastViolationAt) < m.th.EpisodeInactivity()
}

// EpisodeEndsAt is when the current episode lapses, or nil without one.
func (m *Machine) EpisodeEndsAt() *time.Time {
	if !m.IsEpisodeActive() {
		return nil
	}
	end := m.state.LastViolationAt.Add(m.th.EpisodeInactivity())
	return &end
}

// ApplyPointsDecay removes one point per elapsed decay period and returns how
// many were removed. Bans never decay.
func (m *Machine) ApplyPointsDecay() int {
	if m.IsPermanentlyBanned() {
		return 0
	}
	elapsed := m.now.Sub(m.state.LastPointsUpdateAt)
	if elapsed <= 0 {
		return 0
	}
	decay := int(elapsed / m.th.PointsDecay())
	if decay <= 0 {
		return 0
	}

	removed := decay
	if removed > m.state.Points {
		removed = m.state.Points
	}
	m.state.Points -= removed
	// Anchor to now rather than advancing by whole periods.
	m.state.LastPointsUpdateAt = m.now
	return removed
}

// ApplyEpisodeCapCooldown starts the ladder cooldown for the current points
// when an active episode has hit the cap and nothing is cooling down yet.
// Returns true if a cooldown was set.
func (m *Machine) ApplyEpisodeCapCooldown() bool {
	if !m.IsEpisodeActive() || m.IsInCooldown() {
		return false
	}
	if m.state.SensitiveCountInEpisode < m.th.SensitiveCapPerEpisode {
		return false
	}
	cooldown := m.th.CooldownLadder.Cooldown(m.state.Points)
	if cooldown <= 0 {
		return false
	}
	until := m.now.Add(cooldown)
	m.state.CooldownUntil = &until
	return true
}

// Refresh brings a freshly loaded state up to date before enforcement.
func (m *Machine) Refresh() {
	m.ApplyPointsDecay()
	m.ApplyEpisodeCapCooldown()
}

// RecordViolation counts a flagged sensitive request. The first violation of an
// episode costs a point; later ones only bump the episode counter. Returns true
// when a new episode was started.
func (m *Machine) RecordViolation() bool {
	now := m.now
	newEpisode := !m.IsEpisodeActive()

	if newEpisode {
		m.state.EpisodeStartedAt = &now
		m.state.Points++
		m.state.SensitiveCountInEpisode = 1
		m.state.LastPointsUpdateAt = now
	} else {
		m.state.SensitiveCountInEpisode++
	}
	m.state.LastViolationAt = &now

	if cooldown := m.th.CooldownLadder.Cooldown(m.state.Points); cooldown > 0 {
		until := now.Add(cooldown)
		m.state.CooldownUntil = &until
	} else {
		m.state.CooldownUntil = nil
	}
	return newEpisode
}

// Decide runs the ordered enforcement checks. The first match wins.
func (m *Machine) Decide() Decision {
	d := Decision{Points: m.state.Points}

	switch {
	case m.IsPermanentlyBanned():
		d.Reason = ReasonPermanentlyBanned
	case m.IsInCooldown():
		d.Reason = ReasonCooldown
		until := *m.state.CooldownUntil
		d.CooldownUntil = &until
	case m.IsEpisodeActive() && m.state.SensitiveCountInEpisode >= m.th.SensitiveCapPerEpisode:
		d.Reason = ReasonEpisodeCap
		d.EpisodeEndsAt = m.EpisodeEndsAt()
	default:
		d.Allowed = true
		d.Reason = ReasonNone
		d.RequiresCaptcha = m.th.Step(m.state.Points).RequiresCaptcha
	}
	return d
}

// ApproveAppeal unbans the user one point below the threshold.
func (m *Machine) ApproveAppeal() {
	points := m.th.PermanentBanThreshold - 1
	if points < 0 {
		points = 0
	}
	m.state.Points = points
	m.state.SensitiveCountInEpisode = 0
	m.state.CooldownUntil = nil
	m.state.LastPointsUpdateAt = m.now
}

// DenyAppeal pins the user at the ban threshold.
func (m *Machine) DenyAppeal() {
	m.state.Points = m.th.PermanentBanThreshold
	m.state.LastPointsUpdateAt = m.now
}
