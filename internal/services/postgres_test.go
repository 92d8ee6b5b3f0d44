package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var (
	stateCols     = []string{"id", "user_id", "points", "last_points_update_at", "episode_started_at", "last_violation_at", "sensitive_count_in_episode", "cooldown_until", "created_at", "updated_at"}
	appealCols    = []string{"id", "abuse_state_id", "user_id", "created_at", "explanation", "state_snapshot", "status", "reviewed_by", "reviewed_at", "admin_notes"}
	violationCols = []string{"id", "ip_address", "endpoint", "violation_count", "first_violation_at", "last_violation_at", "cooldown_until", "user_id"}
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func stateRow(id, userID uuid.UUID, points int) *sqlmock.Rows {
	return sqlmock.NewRows(stateCols).AddRow(
		id.String(), userID.String(), points, testNow.Add(-time.Hour), nil, nil, 0, nil, testNow.Add(-24*time.Hour), testNow.Add(-time.Hour),
	)
}

func TestAbuseStateStoreUpdate(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAbuseStateStore(db)
	stateID, userID := uuid.New(), uuid.New()
	cooldown := testNow.Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO abuse_states \(user_id\) VALUES \(\$1\) ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM abuse_states WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(stateRow(stateID, userID, 1))
	mock.ExpectQuery(`UPDATE abuse_states`).
		WithArgs(stateID, 2, testNow, testNow, testNow, 1, cooldown).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testNow))
	mock.ExpectCommit()

	state, err := store.Update(context.Background(), userID, func(s *models.AbuseState) error {
		s.Points = 2
		s.LastPointsUpdateAt = testNow
		s.EpisodeStartedAt = &testNow
		s.LastViolationAt = &testNow
		s.SensitiveCountInEpisode = 1
		s.CooldownUntil = &cooldown
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, state.Points)
	assert.Equal(t, stateID, state.ID)
	assert.Equal(t, testNow, state.UpdatedAt)
}

func TestAbuseStateStoreUpdateNoChange(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAbuseStateStore(db)
	stateID, userID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO abuse_states`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM abuse_states WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(stateRow(stateID, userID, 3))
	mock.ExpectCommit()

	state, err := store.Update(context.Background(), userID, func(s *models.AbuseState) error {
		s.Points = 99
		return abuse.ErrNoChange
	})
	require.NoError(t, err)
	assert.Equal(t, 3, state.Points)
}

func TestAbuseStateStoreUpdateRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAbuseStateStore(db)
	stateID, userID := uuid.New(), uuid.New()
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO abuse_states`).WithArgs(userID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM abuse_states WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(userID).
		WillReturnRows(stateRow(stateID, userID, 0))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), userID, func(*models.AbuseState) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestAbuseStateStoreBeginFails(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAbuseStateStore(db)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := store.Update(context.Background(), uuid.New(), func(*models.AbuseState) error { return nil })
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestAbuseStateStoreGet(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAbuseStateStore(db)
	stateID, userID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM abuse_states WHERE user_id = \$1$`).
		WithArgs(userID).
		WillReturnRows(stateRow(stateID, userID, 4))
	state, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 4, state.Points)
	assert.Nil(t, state.CooldownUntil)

	mock.ExpectQuery(`FROM abuse_states`).WillReturnRows(sqlmock.NewRows(stateCols))
	_, err = store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, abuse.ErrNotFound)
}

func TestAppealStoreCreateAndList(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAppealStore(db)
	appeal := &models.AbuseAppeal{
		ID:           uuid.New(),
		AbuseStateID: uuid.New(),
		UserID:       uuid.New(),
		CreatedAt:    testNow,
		Explanation:  "sorry",
		Snapshot:     models.StateSnapshot{Points: 5, IsPermanentlyBanned: true},
		Status:       models.AppealPending,
	}

	mock.ExpectExec(`INSERT INTO abuse_appeals`).
		WithArgs(appeal.ID, appeal.AbuseStateID, appeal.UserID, testNow, "sorry", sqlmock.AnyArg(), "pending", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Create(context.Background(), appeal))

	reviewer := uuid.New()
	rows := sqlmock.NewRows(appealCols).
		AddRow(appeal.ID.String(), appeal.AbuseStateID.String(), appeal.UserID.String(), testNow, "sorry",
			[]byte(`{"user_id":"x","points":5,"is_permanently_banned":true}`), "pending", nil, nil, "").
		AddRow(uuid.NewString(), appeal.AbuseStateID.String(), appeal.UserID.String(), testNow.Add(-time.Hour), "older",
			`{"points":5}`, "pending", reviewer.String(), testNow, "noted")
	mock.ExpectQuery(`FROM abuse_appeals WHERE status = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("pending", defaultAppealListLimit).
		WillReturnRows(rows)

	got, err := store.List(context.Background(), models.AppealPending, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Snapshot.Points)
	assert.True(t, got[0].Snapshot.IsPermanentlyBanned)
	assert.Nil(t, got[0].ReviewedBy)
	require.NotNil(t, got[1].ReviewedBy)
	assert.Equal(t, reviewer, *got[1].ReviewedBy)
	assert.Equal(t, "noted", got[1].AdminNotes)

	mock.ExpectQuery(`FROM abuse_appeals ORDER BY created_at DESC LIMIT \$1`).
		WithArgs(maxAppealListLimit).
		WillReturnRows(sqlmock.NewRows(appealCols))
	got, err = store.List(context.Background(), "", 1000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppealStoreReview(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAppealStore(db)
	appealID, stateID, userID, reviewer := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM abuse_appeals WHERE id = \$1 FOR UPDATE`).
		WithArgs(appealID).
		WillReturnRows(sqlmock.NewRows(appealCols).AddRow(
			appealID.String(), stateID.String(), userID.String(), testNow, "please", `{"points":5}`, "pending", nil, nil, ""))
	mock.ExpectQuery(`FROM abuse_states WHERE id = \$1 FOR UPDATE`).
		WithArgs(stateID).
		WillReturnRows(stateRow(stateID, userID, 5))
	mock.ExpectExec(`UPDATE abuse_appeals`).
		WithArgs(appealID, "approved", reviewer, testNow, "ok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE abuse_states`).
		WithArgs(stateID, 4, testNow, nil, nil, 0, nil).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(testNow))
	mock.ExpectCommit()

	appeal, state, err := store.Review(context.Background(), appealID, func(a *models.AbuseAppeal, s *models.AbuseState) error {
		a.Status = models.AppealApproved
		a.ReviewedBy = &reviewer
		a.ReviewedAt = &testNow
		a.AdminNotes = "ok"
		s.Points = 4
		s.LastPointsUpdateAt = testNow
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.AppealApproved, appeal.Status)
	assert.Equal(t, 4, state.Points)
}

func TestAppealStoreReviewNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAppealStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM abuse_appeals WHERE id = \$1 FOR UPDATE`).WillReturnRows(sqlmock.NewRows(appealCols))
	mock.ExpectRollback()

	_, _, err := store.Review(context.Background(), uuid.New(), func(*models.AbuseAppeal, *models.AbuseState) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.ErrorIs(t, err, abuse.ErrNotFound)
}

func TestViolationStoreUpdateCreates(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewViolationStore(db)
	ip := "203.0.113.9"
	ep := models.EndpointCoordinateAccess
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("rate_limit_violation|203.0.113.9|COORDINATE_ACCESS").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM rate_limit_violations WHERE ip_address = \$1 AND endpoint = \$2`).
		WithArgs(ip, "COORDINATE_ACCESS").
		WillReturnRows(sqlmock.NewRows(violationCols))
	mock.ExpectExec(`INSERT INTO rate_limit_violations`).
		WithArgs(id, ip, "COORDINATE_ACCESS", 1, testNow, testNow, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := store.Update(context.Background(), ip, ep, func(cur *models.RateLimitViolation) (*models.RateLimitViolation, error) {
		assert.Nil(t, cur)
		return &models.RateLimitViolation{
			ID: id, IPAddress: ip, Endpoint: ep, ViolationCount: 1,
			FirstViolationAt: testNow, LastViolationAt: testNow,
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v.ViolationCount)
}

func TestViolationStoreUpdateExisting(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewViolationStore(db)
	ip := "203.0.113.9"
	id, user := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM rate_limit_violations`).
		WillReturnRows(sqlmock.NewRows(violationCols).AddRow(
			id.String(), ip, "COORDINATE_ACCESS", 1, testNow.Add(-time.Hour), testNow.Add(-time.Hour), nil, user.String()))
	mock.ExpectExec(`ON CONFLICT \(ip_address, endpoint\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v, err := store.Update(context.Background(), ip, models.EndpointCoordinateAccess, func(cur *models.RateLimitViolation) (*models.RateLimitViolation, error) {
		require.NotNil(t, cur)
		require.NotNil(t, cur.UserID)
		assert.Equal(t, user, *cur.UserID)
		cur.ViolationCount++
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v.ViolationCount)
}

func TestViolationStoreDeleteAndGet(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewViolationStore(db)

	mock.ExpectExec(`DELETE FROM rate_limit_violations WHERE ip_address = \$1`).
		WithArgs("198.51.100.4").
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := store.DeleteByIP(context.Background(), "198.51.100.4")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	mock.ExpectQuery(`FROM rate_limit_violations`).WillReturnRows(sqlmock.NewRows(violationCols))
	_, err = store.Get(context.Background(), "198.51.100.4", models.EndpointCoordinateAccess)
	assert.ErrorIs(t, err, abuse.ErrNotFound)

	mock.ExpectExec(`DELETE FROM rate_limit_violations WHERE last_violation_at < \$1`).
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 5))
	n, err = store.PruneExpired(context.Background(), testNow)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
}

func TestAdminStore(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewAdminStore(db)

	mock.ExpectQuery(`SELECT email FROM admins WHERE is_active = TRUE`).
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("a@example.com").AddRow("b@example.com"))
	emails, err := store.ReviewerEmails(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, emails)

	mock.ExpectQuery(`FROM admins WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "username", "email", "password_hash", "is_active"}))
	_, err = store.FindByUsername(context.Background(), "ghost")
	assert.ErrorIs(t, err, abuse.ErrNotFound)
}
