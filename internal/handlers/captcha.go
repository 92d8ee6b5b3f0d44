package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/middleware"
	"github.com/AnshRaj112/abuseguard/pkg/clientip"
	"github.com/sirupsen/logrus"
)

type captchaRequest struct {
	Response string `json:"response"`
}

// VerifyCaptcha checks a solved CAPTCHA and grants the session one bypass.
func (h *Handlers) VerifyCaptcha(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionTokenFromContext(r.Context())
	if session == "" {
		writeFail(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if h.Captcha == nil || h.CaptchaTokens == nil {
		writeFail(w, http.StatusServiceUnavailable, "CAPTCHA verification is not configured")
		return
	}

	var req captchaRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ok, err := h.Captcha.Verify(ctx, req.Response, clientip.RealClientIP(r))
	if err != nil {
		logrus.WithError(err).Error("CAPTCHA verification failed")
		writeFail(w, http.StatusBadGateway, "Could not verify CAPTCHA, please try again")
		return
	}
	if !ok {
		writeFail(w, http.StatusBadRequest, "CAPTCHA verification failed")
		return
	}

	if _, err := h.CaptchaTokens.Issue(ctx, session); err != nil {
		logrus.WithError(err).Error("Failed to issue CAPTCHA bypass token")
		writeFail(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	writeOK(w, "CAPTCHA verified", nil)
}
