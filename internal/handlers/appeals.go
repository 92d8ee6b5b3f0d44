package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/middleware"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type submitAppealRequest struct {
	Explanation string `json:"explanation"`
}

// SubmitAppeal lets a permanently banned user ask for review.
func (h *Handlers) SubmitAppeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req submitAppealRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	banned, err := h.isBanned(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !banned {
		writeFail(w, http.StatusConflict, "Only suspended accounts can submit an appeal")
		return
	}

	appeal, err := h.Appeals.Submit(ctx, userID, req.Explanation)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "Your appeal has been submitted and will be reviewed",
		Data:    appeal,
	})
}

func (h *Handlers) isBanned(ctx context.Context, userID uuid.UUID) (bool, error) {
	state, err := h.Engine.State(ctx, userID)
	if errors.Is(err, abuse.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	th, err := h.Thresholds.Thresholds(ctx)
	if err != nil {
		return false, err
	}
	return state.IsPermanentlyBanned(th.PermanentBanThreshold), nil
}

// ListAppeals returns appeals for reviewers, newest first.
func (h *Handlers) ListAppeals(w http.ResponseWriter, r *http.Request) {
	status := models.AppealStatus(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	appeals, err := h.Appeals.List(ctx, status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"appeals": appeals,
		"count":   len(appeals),
	})
}

// GetAppeal returns one appeal with its snapshot.
func (h *Handlers) GetAppeal(w http.ResponseWriter, r *http.Request) {
	id, ok := appealID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	appeal, err := h.Appeals.Get(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, "", appeal)
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// ApproveAppeal lifts the ban.
func (h *Handlers) ApproveAppeal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, models.AppealApproved)
}

// DenyAppeal keeps the ban.
func (h *Handlers) DenyAppeal(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, models.AppealDenied)
}

func (h *Handlers) review(w http.ResponseWriter, r *http.Request, status models.AppealStatus) {
	adminID, ok := middleware.AdminIDFromContext(r.Context())
	if !ok {
		writeFail(w, http.StatusUnauthorized, "Admin authentication required")
		return
	}
	id, ok := appealID(w, r)
	if !ok {
		return
	}

	var req reviewRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var (
		appeal *models.AbuseAppeal
		err    error
	)
	if status == models.AppealApproved {
		appeal, err = h.Appeals.Approve(ctx, id, adminID, req.Notes)
	} else {
		appeal, err = h.Appeals.Deny(ctx, id, adminID, req.Notes)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if h.Reviews != nil {
		if err := h.Reviews.AppealReviewed(ctx, appeal); err != nil {
			logrus.WithError(err).WithField("appeal_id", id.String()).Warn("Failed to publish appeal review")
		}
	}
	writeOK(w, "Appeal "+string(status), appeal)
}

func appealID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid appeal id")
		return uuid.Nil, false
	}
	return id, true
}
