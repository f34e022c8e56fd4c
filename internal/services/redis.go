package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const EventsChannel = "campusride:events"

// InitRedis connects to redisURL and pings it.
func InitRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// SweepLock is a best-effort cross-instance lock built on SET NX with a TTL. The key is
// never released explicitly; it lapses after ttl so one sweep runs per interval.
type SweepLock struct {
	client *redis.Client
	owner  string
}

func NewSweepLock(client *redis.Client, owner string) *SweepLock {
	return &SweepLock{client: client, owner: owner}
}

func (l *SweepLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, "campusride:"+key, l.owner, ttl).Result()
}

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix, limit: limit, window: window}
}

// Allow counts one hit against key and reports whether it is within the limit, plus
// how many hits remain in the current window.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	k := fmt.Sprintf("ratelimit:%s:%s", r.prefix, key)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, r.limit, err
	}

	n := int(incr.Val())
	remaining := r.limit - n
	if remaining < 0 {
		remaining = 0
	}
	return n <= r.limit, remaining, nil
}

// LoginGuard locks an email out after too many failed logins.
type LoginGuard struct {
	client      *redis.Client
	maxAttempts int
	lockout     time.Duration
}

func NewLoginGuard(client *redis.Client, maxAttempts int, lockout time.Duration) *LoginGuard {
	return &LoginGuard{client: client, maxAttempts: maxAttempts, lockout: lockout}
}

func loginKey(email string) string {
	return "login:failed:" + strings.ToLower(strings.TrimSpace(email))
}

// Locked returns the remaining lockout for email, zero when logins are allowed.
func (g *LoginGuard) Locked(ctx context.Context, email string) (time.Duration, error) {
	n, err := g.client.Get(ctx, loginKey(email)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n < g.maxAttempts {
		return 0, nil
	}
	ttl, err := g.client.TTL(ctx, loginKey(email)).Result()
	if err != nil || ttl < 0 {
		return g.lockout, err
	}
	return ttl, nil
}

// Failed records a failed attempt and returns the attempts left before lockout.
func (g *LoginGuard) Failed(ctx context.Context, email string) (int, error) {
	key := loginKey(email)
	pipe := g.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, g.lockout)
	if _, err := pipe.Exec(ctx); err != nil {
		return g.maxAttempts, err
	}
	left := g.maxAttempts - int(incr.Val())
	if left < 0 {
		left = 0
	}
	return left, nil
}

func (g *LoginGuard) Reset(ctx context.Context, email string) error {
	return g.client.Del(ctx, loginKey(email)).Err()
}

// PublishEvent publishes v as JSON on channel.
func PublishEvent(ctx context.Context, client *redis.Client, channel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, data).Err()
}
