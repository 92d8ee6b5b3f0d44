package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AbuseEngine is the part of abuse.Engine the middleware drives.
type AbuseEngine interface {
	Evaluate(ctx context.Context, userID uuid.UUID) (abuse.Decision, error)
	RecordOutcome(ctx context.Context, userID uuid.UUID, wasRateLimited bool) (abuse.Outcome, error)
}

// RequestCounter counts a request against the user's rate limit and reports
// whether it went over.
type RequestCounter interface {
	Hit(ctx context.Context, userID uuid.UUID) bool
}

// AbusePrevention gates sensitive requests from signed-in users. Blocked
// users get 429, users over the CAPTCHA threshold get 403 until they redeem a
// bypass token. Allowed requests are counted against the rate limit, served,
// and then reported back to the engine. Anonymous requests pass through.
//
// When the state store is unavailable the request fails with 503, or is let
// through unrecorded if failOpen is set.
func AbusePrevention(engine AbuseEngine, limiter RequestCounter, tokens abuse.CaptchaTokens, failOpen bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			log := logrus.WithFields(logrus.Fields{"user_id": userID.String(), "path": r.URL.Path})

			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			decision, err := engine.Evaluate(ctx, userID)
			cancel()
			if err != nil {
				if failOpen {
					log.WithError(err).Error("Abuse evaluation failed, failing open")
					next.ServeHTTP(w, r)
					return
				}
				log.WithError(err).Error("Abuse evaluation failed")
				writeError(w, http.StatusServiceUnavailable, errorBody{Message: "Service temporarily unavailable. Please try again shortly."})
				return
			}

			if !decision.Allowed {
				WriteBlocked(w, decision, time.Now())
				return
			}

			if decision.RequiresCaptcha && !captchaBypassed(r.Context()) && !consumeBypass(r.Context(), tokens, log) {
				writeError(w, http.StatusForbidden, errorBody{
					Message:         "Please complete the CAPTCHA to continue.",
					Reason:          "CAPTCHA_REQUIRED",
					CaptchaRequired: true,
				})
				return
			}

			wasLimited := limiter.Hit(r.Context(), userID)

			next.ServeHTTP(w, r)

			rctx, rcancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer rcancel()
			if _, err := engine.RecordOutcome(rctx, userID, wasLimited); err != nil {
				log.WithError(err).Error("Failed to record request outcome")
			}
		})
	}
}

func consumeBypass(ctx context.Context, tokens abuse.CaptchaTokens, log *logrus.Entry) bool {
	session := SessionTokenFromContext(ctx)
	if tokens == nil || session == "" {
		return false
	}
	ok, err := tokens.Consume(ctx, session)
	if err != nil {
		log.WithError(err).Warn("Failed to consume CAPTCHA bypass token")
		return false
	}
	return ok
}

// WriteBlocked renders a blocked decision as 429 with the reason and, for
// temporary blocks, when to retry.
func WriteBlocked(w http.ResponseWriter, d abuse.Decision, now time.Time) {
	body := errorBody{Reason: string(d.Reason)}

	switch d.Reason {
	case abuse.ReasonPermanentlyBanned:
		body.Message = "Your access has been suspended due to repeated abuse. You can submit an appeal."
		body.CanAppeal = true
	default:
		wait := d.RetryAfter(now)
		body.RetryAfter = abuse.FormatRetry(wait)
		body.RetryAfterSeconds = int(wait / time.Second)
		body.Message = "Too many requests. Please try again in " + body.RetryAfter + "."
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	}
	writeError(w, http.StatusTooManyRequests, body)
}
