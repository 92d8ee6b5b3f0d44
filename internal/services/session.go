package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionDuration is 7 days
	SessionDuration = 7 * 24 * time.Hour

	// User sessions are issued by the main application and share its keys.
	SessionKeyPrefix     = "session:"
	UserSessionKeyPrefix = "user_session:"

	AdminSessionKeyPrefix   = "admin_session:"
	AdminToSessionKeyPrefix = "admin_to_session:"
)

// SessionStore maps opaque tokens to an owner id in Redis. Each owner holds at
// most one session; creating a new one drops the old.
type SessionStore struct {
	rdb         redis.Cmdable
	prefix      string
	ownerPrefix string
	ttl         time.Duration
}

// NewUserSessions reads the end-user sessions of the protected application.
func NewUserSessions(rdb redis.Cmdable) *SessionStore {
	return &SessionStore{rdb: rdb, prefix: SessionKeyPrefix, ownerPrefix: UserSessionKeyPrefix, ttl: SessionDuration}
}

// NewAdminSessions manages reviewer sessions.
func NewAdminSessions(rdb redis.Cmdable) *SessionStore {
	return &SessionStore{rdb: rdb, prefix: AdminSessionKeyPrefix, ownerPrefix: AdminToSessionKeyPrefix, ttl: SessionDuration}
}

// newToken returns 32 random bytes, URL-safe base64 encoded.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Create starts a session for ownerID and returns its token.
func (s *SessionStore) Create(ctx context.Context, ownerID uuid.UUID) (string, error) {
	_ = s.InvalidateOwner(ctx, ownerID)

	token, err := newToken()
	if err != nil {
		return "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.prefix+token, ownerID.String(), s.ttl)
		pipe.Set(ctx, s.ownerPrefix+ownerID.String(), token, s.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate returns the owner of token. A missing or expired session is not an error.
func (s *SessionStore) Validate(ctx context.Context, token string) (uuid.UUID, bool, error) {
	if token == "" {
		return uuid.Nil, false, nil
	}

	ownerID, err := s.rdb.Get(ctx, s.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load session: %w", err)
	}

	id, err := uuid.Parse(ownerID)
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// Refresh extends the session by the full duration from now.
func (s *SessionStore) Refresh(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("session token is empty")
	}

	ownerID, err := s.rdb.Get(ctx, s.prefix+token).Result()
	if err != nil {
		return err
	}
	if err := s.rdb.Expire(ctx, s.prefix+token, s.ttl).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.ownerPrefix+ownerID, s.ttl).Err()
}

// Invalidate removes one session.
func (s *SessionStore) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	ownerID, err := s.rdb.Get(ctx, s.prefix+token).Result()
	if err == nil && ownerID != "" {
		_ = s.rdb.Del(ctx, s.ownerPrefix+ownerID).Err()
	}
	return s.rdb.Del(ctx, s.prefix+token).Err()
}

// InvalidateOwner removes whatever session ownerID currently holds.
func (s *SessionStore) InvalidateOwner(ctx context.Context, ownerID uuid.UUID) error {
	key := s.ownerPrefix + ownerID.String()

	token, err := s.rdb.Get(ctx, key).Result()
	if err == nil && token != "" {
		_ = s.rdb.Del(ctx, s.prefix+token).Err()
	}
	return s.rdb.Del(ctx, key).Err()
}
