package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/google/uuid"
)

type evaluateRequest struct {
	UserID string `json:"user_id"`
}

// EvaluateResponse is a decision plus a ready-to-show retry hint.
type EvaluateResponse struct {
	abuse.Decision
	RetryAfter        string `json:"retry_after,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// NewEvaluateResponse attaches the retry hint to d.
func NewEvaluateResponse(d abuse.Decision, now time.Time) EvaluateResponse {
	resp := EvaluateResponse{Decision: d}
	if wait := d.RetryAfter(now); wait > 0 {
		resp.RetryAfter = abuse.FormatRetry(wait)
		resp.RetryAfterSeconds = int(wait / time.Second)
	}
	return resp
}

// Evaluate runs the enforcement checks for another service.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	decision, err := h.Engine.Evaluate(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, "", NewEvaluateResponse(decision, time.Now()))
}

type recordRequest struct {
	UserID         string `json:"user_id"`
	WasRateLimited bool   `json:"was_rate_limited"`
}

// Record is the post-request hook for another service.
func (h *Handlers) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeFail(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	outcome, err := h.Engine.RecordOutcome(ctx, userID, req.WasRateLimited)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeOK(w, "", outcome)
}
