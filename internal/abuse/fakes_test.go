package abuse

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memStateStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]*models.AbuseState
	writes int
	err    error
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: map[uuid.UUID]*models.AbuseState{}}
}

func (s *memStateStore) Update(_ context.Context, userID uuid.UUID, fn func(*models.AbuseState) error) (*models.AbuseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cur, ok := s.states[userID]
	if !ok {
		cur = &models.AbuseState{ID: uuid.New(), UserID: userID}
		s.states[userID] = cur
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cur.Clone(), nil
		}
		return nil, err
	}
	s.states[userID] = work
	s.writes++
	return work.Clone(), nil
}

func (s *memStateStore) Get(_ context.Context, userID uuid.UUID) (*models.AbuseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cur, ok := s.states[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cur.Clone(), nil
}

func (s *memStateStore) put(state *models.AbuseState) {
	s.mu.Lock()
	s.states[state.UserID] = state.Clone()
	s.mu.Unlock()
}

type memAppealStore struct {
	mu      sync.Mutex
	appeals map[uuid.UUID]*models.AbuseAppeal
	states  *memStateStore
}

func newMemAppealStore(states *memStateStore) *memAppealStore {
	return &memAppealStore{appeals: map[uuid.UUID]*models.AbuseAppeal{}, states: states}
}

func (s *memAppealStore) Create(_ context.Context, appeal *models.AbuseAppeal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *appeal
	s.appeals[appeal.ID] = &c
	return nil
}

func (s *memAppealStore) Get(_ context.Context, id uuid.UUID) (*models.AbuseAppeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appeals[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *memAppealStore) List(_ context.Context, status models.AppealStatus, limit int) ([]models.AbuseAppeal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AbuseAppeal
	for _, a := range s.appeals {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memAppealStore) Review(ctx context.Context, id uuid.UUID, fn func(*models.AbuseAppeal, *models.AbuseState) error) (*models.AbuseAppeal, *models.AbuseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appeals[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	appeal := *a
	state, err := s.states.Update(ctx, appeal.UserID, func(st *models.AbuseState) error {
		return fn(&appeal, st)
	})
	if err != nil {
		return nil, nil, err
	}
	s.appeals[id] = &appeal
	c := appeal
	return &c, state, nil
}

type memViolationStore struct {
	mu      sync.Mutex
	records map[string]*models.RateLimitViolation
}

func newMemViolationStore() *memViolationStore {
	return &memViolationStore{records: map[string]*models.RateLimitViolation{}}
}

func violationKey(ip string, endpoint models.RateLimitedEndpoint) string {
	return ip + "|" + string(endpoint)
}

func (s *memViolationStore) Update(_ context.Context, ip string, endpoint models.RateLimitedEndpoint, fn func(*models.RateLimitViolation) (*models.RateLimitViolation, error)) (*models.RateLimitViolation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur *models.RateLimitViolation
	if v, ok := s.records[violationKey(ip, endpoint)]; ok {
		c := *v
		cur = &c
	}
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	c := *next
	s.records[violationKey(ip, endpoint)] = &c
	return next, nil
}

func (s *memViolationStore) Get(_ context.Context, ip string, endpoint models.RateLimitedEndpoint) (*models.RateLimitViolation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.records[violationKey(ip, endpoint)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *v
	return &c, nil
}

func (s *memViolationStore) DeleteByIP(_ context.Context, ip string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, v := range s.records {
		if v.IPAddress == ip {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (t *memTokens) Issue(_ context.Context, sessionID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tokens == nil {
		t.tokens = map[string]string{}
	}
	tok := uuid.NewString()
	t.tokens[sessionID] = tok
	return tok, nil
}

func (t *memTokens) Consume(_ context.Context, sessionID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tokens[sessionID]
	delete(t.tokens, sessionID)
	return ok, nil
}

type recordingSink struct {
	mu         sync.Mutex
	user       []bool
	ip         []int
	lastBanned bool
}

func (r *recordingSink) UserViolation(_ context.Context, _ *models.AbuseState, newEpisode, banned bool) {
	r.mu.Lock()
	r.user = append(r.user, newEpisode)
	r.lastBanned = banned
	r.mu.Unlock()
}

func (r *recordingSink) IPViolation(_ context.Context, v *models.RateLimitViolation) {
	r.mu.Lock()
	r.ip = append(r.ip, v.ViolationCount)
	r.mu.Unlock()
}

type notifierFunc func(context.Context, *models.AbuseAppeal) error

func (f notifierFunc) AppealSubmitted(ctx context.Context, a *models.AbuseAppeal) error {
	return f(ctx, a)
}

func timePtr(t time.Time) *time.Time { return &t }
