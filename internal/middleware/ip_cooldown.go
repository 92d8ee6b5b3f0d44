package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/config"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/AnshRaj112/abuseguard/pkg/clientip"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// IPTracker is the part of abuse.ViolationTracker the middleware drives.
type IPTracker interface {
	InCooldown(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint) (bool, *models.RateLimitViolation, error)
	CheckCaptchaRequired(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint, sessionID string) (bool, error)
	Record(ctx context.Context, ip string, endpoint models.RateLimitedEndpoint, userID *uuid.UUID) (*models.RateLimitViolation, error)
}

// EndpointFor returns the endpoint a path counts against, if any.
func EndpointFor(prefixes []config.SensitivePrefix, path string) (models.RateLimitedEndpoint, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p.Prefix) {
			return p.Endpoint, true
		}
	}
	return "", false
}

// IPCooldown enforces per-IP violations on sensitive prefixes. An IP in
// cooldown gets 429. An IP with an active violation must redeem a CAPTCHA
// bypass token for each request. Requests beyond the per-IP bucket are
// recorded as violations. Tracker failures are logged and let through.
func IPCooldown(tracker IPTracker, prefixes []config.SensitivePrefix, limiters *IPLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			endpoint, ok := EndpointFor(prefixes, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientip.RealClientIP(r)
			log := logrus.WithFields(logrus.Fields{"ip": ip, "endpoint": endpoint})
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()

			inCooldown, violation, err := tracker.InCooldown(ctx, ip, endpoint)
			if err != nil {
				log.WithError(err).Error("IP violation lookup failed")
				next.ServeHTTP(w, r)
				return
			}
			if inCooldown {
				writeIPCooldown(w, violation, time.Now())
				return
			}

			// Only ask the tracker while a violation is active, so a bypass
			// token is not spent on requests that never needed one.
			if violation != nil && violation.IsActive(time.Now(), abuse.ViolationWindow) {
				required, err := tracker.CheckCaptchaRequired(ctx, ip, endpoint, SessionTokenFromContext(r.Context()))
				switch {
				case err != nil:
					log.WithError(err).Error("IP CAPTCHA check failed")
				case required:
					writeError(w, http.StatusForbidden, errorBody{
						Message:         "Unusual traffic from your network. Please complete the CAPTCHA to continue.",
						Reason:          "CAPTCHA_REQUIRED",
						CaptchaRequired: true,
					})
					return
				default:
					// The token was spent here; the user-level check must not ask again.
					r = withCaptchaBypass(r)
				}
			}

			key := ip + "|" + string(endpoint)
			if !limiters.Allow(key) {
				var userID *uuid.UUID
				if id, ok := UserIDFromContext(r.Context()); ok {
					userID = &id
				}
				v, err := tracker.Record(ctx, ip, endpoint, userID)
				if err != nil {
					log.WithError(err).Error("Failed to record IP violation")
				}
				if v != nil && v.CooldownUntil != nil {
					writeIPCooldown(w, v, time.Now())
					return
				}
				writeError(w, http.StatusTooManyRequests, errorBody{Message: "Too many requests. Please slow down."})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeIPCooldown(w http.ResponseWriter, v *models.RateLimitViolation, now time.Time) {
	body := errorBody{Reason: string(abuse.ReasonCooldown)}
	wait := time.Minute
	if v != nil && v.CooldownUntil != nil && v.CooldownUntil.Sub(now) > wait {
		wait = v.CooldownUntil.Sub(now)
	}
	body.RetryAfter = abuse.FormatRetry(wait)
	body.RetryAfterSeconds = int(wait / time.Second)
	body.Message = "Too many requests from your network. Please try again in " + body.RetryAfter + "."
	w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfterSeconds))
	writeError(w, http.StatusTooManyRequests, body)
}
