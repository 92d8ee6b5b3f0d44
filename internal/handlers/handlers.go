package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/AnshRaj112/abuseguard/internal/services"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AbuseEngine evaluates and records sensitive requests.
type AbuseEngine interface {
	Evaluate(ctx context.Context, userID uuid.UUID) (abuse.Decision, error)
	RecordOutcome(ctx context.Context, userID uuid.UUID, wasRateLimited bool) (abuse.Outcome, error)
	State(ctx context.Context, userID uuid.UUID) (*models.AbuseState, error)
}

// Appeals is the appeal workflow as seen by handlers.
type Appeals interface {
	Submit(ctx context.Context, userID uuid.UUID, explanation string) (*models.AbuseAppeal, error)
	Approve(ctx context.Context, appealID, reviewerID uuid.UUID, notes string) (*models.AbuseAppeal, error)
	Deny(ctx context.Context, appealID, reviewerID uuid.UUID, notes string) (*models.AbuseAppeal, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AbuseAppeal, error)
	List(ctx context.Context, status models.AppealStatus, limit int) ([]models.AbuseAppeal, error)
}

// ViolationClearer removes IP violations.
type ViolationClearer interface {
	Clear(ctx context.Context, ip string) (int64, error)
}

// ThresholdStore reads and changes the live thresholds.
type ThresholdStore interface {
	Thresholds(ctx context.Context) (abuse.Thresholds, error)
	Overrides(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) (abuse.Thresholds, error)
	Reset(ctx context.Context) error
}

// AdminDirectory looks up reviewer accounts.
type AdminDirectory interface {
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
}

// SessionIssuer creates and drops sessions.
type SessionIssuer interface {
	Create(ctx context.Context, ownerID uuid.UUID) (string, error)
	Invalidate(ctx context.Context, token string) error
}

// SessionValidator resolves a session token.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (uuid.UUID, bool, error)
}

// ViolationLogReader lists the violation audit log.
type ViolationLogReader interface {
	List(ctx context.Context, f services.ViolationLogFilter) ([]models.ViolationEvent, error)
}

// ReviewPublisher announces reviewer decisions.
type ReviewPublisher interface {
	AppealReviewed(ctx context.Context, appeal *models.AbuseAppeal) error
}

// Handlers holds the dependencies of every HTTP handler. Optional fields may
// be nil; the handlers that need them report 503.
type Handlers struct {
	Engine     AbuseEngine
	Appeals    Appeals
	Violations ViolationClearer
	Thresholds ThresholdStore

	Admins        AdminDirectory
	AdminSessions interface {
		SessionIssuer
		SessionValidator
	}

	Captcha       abuse.CaptchaVerifier
	CaptchaTokens abuse.CaptchaTokens

	ViolationLog ViolationLogReader
	Reviews      ReviewPublisher
	Feed         *services.AppealHub
}

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	writeJSONBody(w, status, resp)
}

func writeJSONBody(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Success: false, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		validation *abuse.ValidationError
		configErr  *abuse.ConfigurationError
		persist    *abuse.PersistenceError
	)
	switch {
	case errors.As(err, &validation):
		writeFail(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &configErr):
		writeFail(w, http.StatusBadRequest, configErr.Error())
	case errors.Is(err, abuse.ErrNotFound):
		writeFail(w, http.StatusNotFound, "Not found")
	case errors.As(err, &persist):
		logrus.WithError(err).Error("Store unavailable")
		writeFail(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		logrus.WithError(err).Error("Unexpected error")
		writeFail(w, http.StatusInternalServerError, "Internal server error")
	}
}
