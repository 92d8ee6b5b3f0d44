package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// ConfigHashKey holds live threshold overrides, one field per key.
	ConfigHashKey = "abuse:config"
	// DefaultConfigCacheTTL is how stale a read may be after an override changes.
	DefaultConfigCacheTTL = 5 * time.Second

	thresholdsCacheKey = "thresholds"
)

// RedisConfigProvider layers overrides stored in Redis on top of base
// thresholds. Reads are cached briefly. A broken or unreachable override set
// falls back to the last thresholds that validated.
type RedisConfigProvider struct {
	rdb   redis.Cmdable
	base  abuse.Thresholds
	cache *cache.Cache

	mu       sync.Mutex
	lastGood abuse.Thresholds
}

func NewRedisConfigProvider(rdb redis.Cmdable, base abuse.Thresholds, ttl time.Duration) *RedisConfigProvider {
	if ttl <= 0 {
		ttl = DefaultConfigCacheTTL
	}
	return &RedisConfigProvider{
		rdb:      rdb,
		base:     base,
		cache:    cache.New(ttl, 2*ttl),
		lastGood: base,
	}
}

func (p *RedisConfigProvider) Thresholds(ctx context.Context) (abuse.Thresholds, error) {
	if v, ok := p.cache.Get(thresholdsCacheKey); ok {
		return v.(abuse.Thresholds), nil
	}

	th, err := p.load(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Ignoring abuse config overrides, using last good thresholds")
		p.mu.Lock()
		th = p.lastGood
		p.mu.Unlock()
	} else {
		p.mu.Lock()
		p.lastGood = th
		p.mu.Unlock()
	}
	p.cache.SetDefault(thresholdsCacheKey, th)
	return th, nil
}

func (p *RedisConfigProvider) load(ctx context.Context) (abuse.Thresholds, error) {
	overrides, err := p.rdb.HGetAll(ctx, ConfigHashKey).Result()
	if err != nil {
		return abuse.Thresholds{}, fmt.Errorf("load overrides: %w", err)
	}
	th, err := ApplyOverrides(p.base, overrides)
	if err != nil {
		return abuse.Thresholds{}, err
	}
	return th, th.Validate()
}

// Overrides returns the raw override fields currently stored.
func (p *RedisConfigProvider) Overrides(ctx context.Context) (map[string]string, error) {
	overrides, err := p.rdb.HGetAll(ctx, ConfigHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	return overrides, nil
}

// Set validates and stores overrides. The merged result must validate as a
// whole, otherwise nothing is written.
func (p *RedisConfigProvider) Set(ctx context.Context, values map[string]string) (abuse.Thresholds, error) {
	current, err := p.Overrides(ctx)
	if err != nil {
		return abuse.Thresholds{}, err
	}
	for k, v := range values {
		current[k] = v
	}
	th, err := ApplyOverrides(p.base, current)
	if err != nil {
		return abuse.Thresholds{}, err
	}
	if err := th.Validate(); err != nil {
		return abuse.Thresholds{}, err
	}

	fields := make([]interface{}, 0, 2*len(values))
	for k, v := range values {
		fields = append(fields, k, v)
	}
	if err := p.rdb.HSet(ctx, ConfigHashKey, fields...).Err(); err != nil {
		return abuse.Thresholds{}, fmt.Errorf("store overrides: %w", err)
	}
	p.invalidate(th)

	logrus.WithField("keys", sortedKeys(values)).Info("Abuse config overrides updated")
	return th, nil
}

// Reset drops every override.
func (p *RedisConfigProvider) Reset(ctx context.Context) error {
	if err := p.rdb.Del(ctx, ConfigHashKey).Err(); err != nil {
		return fmt.Errorf("reset overrides: %w", err)
	}
	p.invalidate(p.base)
	logrus.Info("Abuse config overrides cleared")
	return nil
}

func (p *RedisConfigProvider) invalidate(th abuse.Thresholds) {
	p.mu.Lock()
	p.lastGood = th
	p.mu.Unlock()
	p.cache.Delete(thresholdsCacheKey)
}

// ApplyOverrides returns base with each override applied. Values are strings
// as stored in the Redis hash; the ladder is a comma-separated list, with or
// without brackets.
func ApplyOverrides(base abuse.Thresholds, overrides map[string]string) (abuse.Thresholds, error) {
	th := base
	th.CooldownLadder = append(abuse.Ladder(nil), base.CooldownLadder...)

	for _, key := range sortedKeys(overrides) {
		value := strings.TrimSpace(overrides[key])
		var err error
		switch key {
		case "rate_limit":
			th.RateLimit = value
		case "episode_inactivity_minutes":
			th.EpisodeInactivityMinutes, err = strconv.Atoi(value)
		case "sensitive_cap_per_episode":
			th.SensitiveCapPerEpisode, err = strconv.Atoi(value)
		case "points_decay_hours":
			th.PointsDecayHours, err = strconv.Atoi(value)
		case "permanent_ban_threshold":
			th.PermanentBanThreshold, err = strconv.Atoi(value)
		case "captcha_threshold":
			th.CaptchaThreshold, err = strconv.Atoi(value)
		case "cooldown_ladder":
			th.CooldownLadder, err = parseLadder(value)
		default:
			return base, &abuse.ConfigurationError{Key: key, Reason: "unknown threshold key"}
		}
		if err != nil {
			return base, &abuse.ConfigurationError{Key: key, Reason: err.Error()}
		}
	}
	return th, nil
}

func parseLadder(s string) (abuse.Ladder, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty ladder")
	}
	var ladder abuse.Ladder
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad ladder entry %q", part)
		}
		ladder = append(ladder, n)
	}
	return ladder, nil
}

// FormatLadder is the stored form of a ladder.
func FormatLadder(l abuse.Ladder) string {
	parts := make([]string, len(l))
	for i, m := range l {
		parts[i] = strconv.Itoa(m)
	}
	return strings.Join(parts, ",")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
