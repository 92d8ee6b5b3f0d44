package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/AnshRaj112/abuseguard/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AbuseStateView is a user's stored state with the derived flags reviewers need.
type AbuseStateView struct {
	*models.AbuseState
	IsPermanentlyBanned bool `json:"is_permanently_banned"`
	IsInCooldown        bool `json:"is_in_cooldown"`
}

// GetAbuseState returns the stored state of one user, as last written.
func (h *Handlers) GetAbuseState(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	state, err := h.Engine.State(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	th, err := h.Thresholds.Thresholds(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeOK(w, "", AbuseStateView{
		AbuseState:          state,
		IsPermanentlyBanned: state.IsPermanentlyBanned(th.PermanentBanThreshold),
		IsInCooldown:        state.CooldownUntil != nil && state.CooldownUntil.After(time.Now()),
	})
}

// ClearViolations deletes every IP violation recorded for ?ip=.
func (h *Handlers) ClearViolations(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	if ip == "" {
		writeFail(w, http.StatusBadRequest, "IP address is required")
		return
	}
	if net.ParseIP(ip) == nil {
		writeFail(w, http.StatusBadRequest, "Invalid IP address")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	n, err := h.Violations.Clear(ctx, ip)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Deleted %d violation(s) for IP %s", n, ip),
		"deleted": n,
	})
}

// GetViolationLog lists the violation audit log, newest first.
func (h *Handlers) GetViolationLog(w http.ResponseWriter, r *http.Request) {
	if h.ViolationLog == nil {
		writeFail(w, http.StatusServiceUnavailable, "Violation log is not available")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.ParseInt(q.Get("limit"), 10, 64)
	filter := services.ViolationLogFilter{
		UserID:    q.Get("user_id"),
		IPAddress: q.Get("ip"),
		Kind:      models.ViolationKind(q.Get("kind")),
		Limit:     limit,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	events, err := h.ViolationLog.List(ctx, filter)
	if err != nil {
		logrus.WithError(err).Error("Failed to fetch violation log")
		writeFail(w, http.StatusInternalServerError, "Failed to fetch violations")
		return
	}
	writeJSONBody(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"violations": events,
		"count":      len(events),
	})
}

// AbuseConfigResponse shows the thresholds in force and which keys are overridden.
type AbuseConfigResponse struct {
	Thresholds abuse.Thresholds  `json:"thresholds"`
	Overrides  map[string]string `json:"overrides"`
}

// GetAbuseConfig returns the live thresholds.
func (h *Handlers) GetAbuseConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.writeAbuseConfig(ctx, w, "")
}

func (h *Handlers) writeAbuseConfig(ctx context.Context, w http.ResponseWriter, message string) {
	th, err := h.Thresholds.Thresholds(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	overrides, err := h.Thresholds.Overrides(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to load abuse config overrides")
		writeFail(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	writeOK(w, message, AbuseConfigResponse{Thresholds: th, Overrides: overrides})
}

// UpdateAbuseConfig overrides some thresholds. The body maps threshold keys
// to values; the ladder may be a JSON array.
func (h *Handlers) UpdateAbuseConfig(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body) == 0 {
		writeFail(w, http.StatusBadRequest, "No thresholds given")
		return
	}

	values := make(map[string]string, len(body))
	for key, raw := range body {
		v, err := overrideValue(raw)
		if err != nil {
			writeFail(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", key, err))
			return
		}
		values[key] = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Thresholds.Set(ctx, values); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeAbuseConfig(ctx, w, "Thresholds updated")
}

// ResetAbuseConfig drops every override.
func (h *Handlers) ResetAbuseConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Thresholds.Reset(ctx); err != nil {
		writeServiceError(w, err)
		return
	}
	h.writeAbuseConfig(ctx, w, "Thresholds reset")
}

// overrideValue turns a JSON value into the string stored in the override hash.
func overrideValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var ladder []int
	if err := json.Unmarshal(raw, &ladder); err == nil {
		return services.FormatLadder(ladder), nil
	}
	return "", fmt.Errorf("unsupported value %s", string(raw))
}
