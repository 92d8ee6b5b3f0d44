package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	userIDKey        contextKey = "user_id"
	adminIDKey       contextKey = "admin_id"
	sessionTokenKey  contextKey = "session_token"
	captchaBypassKey contextKey = "captcha_bypassed"
)

// SessionValidator resolves a bearer token to its owner.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (uuid.UUID, bool, error)
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>" header.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func validate(r *http.Request, sessions SessionValidator) (uuid.UUID, string, bool) {
	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return uuid.Nil, "", false
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id, ok, err := sessions.Validate(ctx, token)
	if err != nil {
		logrus.WithError(err).Warn("Session lookup failed")
		return uuid.Nil, "", false
	}
	return id, token, ok
}

// Authenticate attaches the user to the request when a valid session token is
// present. Anonymous requests pass through untouched.
func Authenticate(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, token, ok := validate(r, sessions); ok {
				ctx := context.WithValue(r.Context(), userIDKey, userID)
				ctx = context.WithValue(ctx, sessionTokenKey, token)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects requests without a user session. Use after Authenticate.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserIDFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, errorBody{Message: "Authentication required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests without a valid admin session.
func RequireAdmin(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adminID, token, ok := validate(r, sessions)
			if !ok {
				writeError(w, http.StatusUnauthorized, errorBody{Message: "Admin authentication required"})
				return
			}
			ctx := context.WithValue(r.Context(), adminIDKey, adminID)
			ctx = context.WithValue(ctx, sessionTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

func AdminIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(adminIDKey).(uuid.UUID)
	return id, ok
}

// SessionTokenFromContext is the bearer token the request authenticated with.
// It also scopes CAPTCHA bypass tokens.
func SessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}

// WithUser returns ctx carrying an authenticated user, for handlers mounted
// behind a different auth scheme and for tests.
func WithUser(ctx context.Context, userID uuid.UUID, sessionToken string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionTokenKey, sessionToken)
}

// WithAdmin returns ctx carrying an authenticated admin.
func WithAdmin(ctx context.Context, adminID uuid.UUID) context.Context {
	return context.WithValue(ctx, adminIDKey, adminID)
}

func withCaptchaBypass(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), captchaBypassKey, true))
}

func captchaBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(captchaBypassKey).(bool)
	return v
}

// RequireAPIToken guards service-to-service endpoints with a shared bearer token.
func RequireAPIToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, errorBody{Message: "Invalid API token"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
