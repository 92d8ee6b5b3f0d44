package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/config"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReviewers struct {
	emails []string
	err    error
}

func (r staticReviewers) ReviewerEmails(context.Context) ([]string, error) {
	return r.emails, r.err
}

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func testAppeal() *models.AbuseAppeal {
	banned := "2024-03-01T11:00:00Z"
	return &models.AbuseAppeal{
		ID:          uuid.MustParse("6f1c2a8e-3d4b-4c5a-9e7f-1a2b3c4d5e6f"),
		UserID:      uuid.MustParse("0b9a8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d"),
		CreatedAt:   testNow,
		Explanation: "I was testing my own integration.\nSorry.",
		Status:      models.AppealPending,
		Snapshot: models.StateSnapshot{
			Points:              5,
			IsPermanentlyBanned: true,
			LastViolationAt:     &banned,
		},
	}
}

func testEmailConfig() *config.Config {
	return &config.Config{
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		SMTPFrom: "abuse@example.com",
		SiteURL:  "https://maps.example.com",
	}
}

func TestEmailNotifierSendsToAllReviewers(t *testing.T) {
	var sent []sentMail
	n := NewEmailNotifier(testEmailConfig(), staticReviewers{emails: []string{"a@example.com", "b@example.com"}}).
		WithSender(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
			return nil
		})

	require.NoError(t, n.AppealSubmitted(context.Background(), testAppeal()))
	require.Len(t, sent, 1)
	assert.Equal(t, "smtp.example.com:587", sent[0].addr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sent[0].to)
	assert.Contains(t, sent[0].msg, "Subject: New Abuse Appeal from 0b9a8c7d-6e5f-4a3b-8c2d-1e0f9a8b7c6d\r\n")
	assert.Contains(t, sent[0].msg, "https://maps.example.com/api/admin/appeals/6f1c2a8e-3d4b-4c5a-9e7f-1a2b3c4d5e6f")
	assert.Contains(t, sent[0].msg, "Points: 5\r\n")
	assert.Contains(t, sent[0].msg, "Last violation: 2024-03-01T11:00:00Z\r\n")
	assert.Contains(t, sent[0].msg, "Cooldown until: none\r\n")
	assert.Contains(t, sent[0].msg, "integration.\r\nSorry.")
}

func TestEmailNotifierSkipsWithoutReviewers(t *testing.T) {
	called := false
	n := NewEmailNotifier(testEmailConfig(), staticReviewers{}).
		WithSender(func(string, smtp.Auth, string, []string, []byte) error {
			called = true
			return nil
		})

	require.NoError(t, n.AppealSubmitted(context.Background(), testAppeal()))
	assert.False(t, called)
}

func TestEmailNotifierErrors(t *testing.T) {
	var nerr *abuse.NotificationError

	n := NewEmailNotifier(testEmailConfig(), staticReviewers{err: errors.New("db down")})
	require.ErrorAs(t, n.AppealSubmitted(context.Background(), testAppeal()), &nerr)
	assert.Equal(t, "email", nerr.Sink)

	n = NewEmailNotifier(testEmailConfig(), staticReviewers{emails: []string{"a@example.com"}}).
		WithSender(func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 busy") })
	require.ErrorAs(t, n.AppealSubmitted(context.Background(), testAppeal()), &nerr)
	assert.Contains(t, nerr.Error(), "421 busy")
}

func TestRecaptchaVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("secret"))
		assert.Equal(t, "203.0.113.9", r.PostForm.Get("remoteip"))
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("response") == "good" {
			w.Write([]byte(`{"success": true, "hostname": "example.com"}`))
			return
		}
		w.Write([]byte(`{"success": false, "error-codes": ["invalid-input-response"]}`))
	}))
	defer srv.Close()

	v := NewRecaptchaVerifier("secret", srv.URL)
	ctx := context.Background()

	ok, err := v.Verify(ctx, "good", "203.0.113.9")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify(ctx, "bad", "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v.Verify(ctx, "", "203.0.113.9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecaptchaVerifierUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRecaptchaVerifier("secret", srv.URL).Verify(context.Background(), "x", "")
	assert.Error(t, err)
}

func TestViolationEvents(t *testing.T) {
	cooldown := testNow.Add(time.Hour)
	state := &models.AbuseState{UserID: uuid.New(), Points: 3, SensitiveCountInEpisode: 1, CooldownUntil: &cooldown}

	ev := UserViolationEvent(state, true, false)
	assert.Equal(t, models.ViolationKindNewEpisode, ev.Kind)
	assert.Equal(t, state.UserID.String(), ev.UserID)
	assert.Equal(t, 3, ev.Points)
	assert.Equal(t, &cooldown, ev.CooldownUntil)
	assert.False(t, ev.ID.IsZero())

	assert.Equal(t, models.ViolationKindInEpisode, UserViolationEvent(state, false, false).Kind)

	userID := uuid.New()
	v := &models.RateLimitViolation{IPAddress: "198.51.100.4", Endpoint: models.EndpointCoordinateAccess, ViolationCount: 2, UserID: &userID}
	ev = IPViolationEvent(v)
	assert.Equal(t, models.ViolationKindIP, ev.Kind)
	assert.Equal(t, "COORDINATE_ACCESS", ev.Endpoint)
	assert.Equal(t, userID.String(), ev.UserID)
	assert.Equal(t, 2, ev.ViolationCount)
}

func TestViolationLogFilter(t *testing.T) {
	assert.Empty(t, ViolationLogFilter{}.Filter())

	f := ViolationLogFilter{IPAddress: "198.51.100.4", Kind: models.ViolationKindIP}.Filter()
	assert.Equal(t, "198.51.100.4", f["ip_address"])
	assert.Equal(t, models.ViolationKindIP, f["kind"])
	_, hasUser := f["user_id"]
	assert.False(t, hasUser)
}

func TestBuildAppealEmailHeaders(t *testing.T) {
	msg := string(BuildAppealEmail("from@example.com", []string{"a@example.com"}, "https://x.test", testAppeal()))
	head, _, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, head, "From: from@example.com")
	assert.Contains(t, head, "To: a@example.com")
	assert.Contains(t, head, "Content-Type: text/plain; charset=UTF-8")
}
