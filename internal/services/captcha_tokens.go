package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	CaptchaTokenKeyPrefix = "captcha_bypass:"
	// CaptchaTokenTTL bounds how long an unused bypass survives.
	CaptchaTokenTTL = 10 * time.Minute
)

// CaptchaTokens stores one-time CAPTCHA bypass tokens in Redis, one per session.
type CaptchaTokens struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewCaptchaTokens(rdb redis.Cmdable) *CaptchaTokens {
	return &CaptchaTokens{rdb: rdb, ttl: CaptchaTokenTTL}
}

// Issue replaces any token the session already holds.
func (c *CaptchaTokens) Issue(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("captcha token: empty session")
	}
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, CaptchaTokenKeyPrefix+sessionID, token, c.ttl).Err(); err != nil {
		return "", fmt.Errorf("store captcha token: %w", err)
	}
	return token, nil
}

// Consume atomically deletes the session's token and reports whether there was one.
func (c *CaptchaTokens) Consume(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	err := c.rdb.GetDel(ctx, CaptchaTokenKeyPrefix+sessionID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume captcha token: %w", err)
	}
	return true, nil
}
