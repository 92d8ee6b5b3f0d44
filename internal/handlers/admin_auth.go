package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/middleware"
	"github.com/AnshRaj112/abuseguard/pkg/utils"
	"github.com/sirupsen/logrus"
)

// AdminSigninRequest represents the request to sign in as admin
type AdminSigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminSigninResponse represents the response after admin signin
type AdminSigninResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Admin   map[string]interface{} `json:"admin,omitempty"`
	Token   string                 `json:"token,omitempty"`
}

// AdminSignin handles admin login. Accounts are created directly in the database.
func (h *Handlers) AdminSignin(w http.ResponseWriter, r *http.Request) {
	var req AdminSigninRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeFail(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	admin, err := h.Admins.FindByUsername(ctx, req.Username)
	if errors.Is(err, abuse.ErrNotFound) {
		writeFail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Admin lookup failed")
		writeFail(w, http.StatusInternalServerError, "Database error")
		return
	}

	valid, err := utils.VerifyPassword(req.Password, admin.PasswordHash)
	if err != nil || !valid {
		writeFail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if !admin.IsActive {
		writeFail(w, http.StatusForbidden, "Admin account is inactive")
		return
	}

	token, err := h.AdminSessions.Create(ctx, admin.ID)
	if err != nil {
		logrus.WithError(err).Error("Failed to create admin session")
		writeFail(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	logrus.WithField("admin_id", admin.ID.String()).Info("Admin signed in")
	writeJSONBody(w, http.StatusOK, AdminSigninResponse{
		Success: true,
		Message: "Signed in successfully",
		Token:   token,
		Admin: map[string]interface{}{
			"id":       admin.ID.String(),
			"username": admin.Username,
			"email":    admin.Email,
		},
	})
}

// AdminSignout drops the caller's admin session.
func (h *Handlers) AdminSignout(w http.ResponseWriter, r *http.Request) {
	token := middleware.SessionTokenFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.AdminSessions.Invalidate(ctx, token); err != nil {
		logrus.WithError(err).Warn("Failed to drop admin session")
	}
	writeOK(w, "Signed out", nil)
}
