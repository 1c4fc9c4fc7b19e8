package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any backend failure so callers can decide
// whether to fail open or closed.
var ErrRedisUnavailable = errors.New("rate: redis unavailable")

// Algorithm names a counting strategy.
type Algorithm string

const (
	// FixedWindow counts hits in aligned windows of Policy.Window. Cheap
	// and exact within a window; allows up to 2x the limit across a
	// window boundary.
	FixedWindow Algorithm = "fixed_window"

	// TokenBucket refills Policy.Limit tokens per Policy.Window and lets
	// bursts drain the bucket. State read and write are separate Redis
	// calls, so concurrent hits can slightly overspend; acceptable for
	// throttling, not for billing.
	TokenBucket Algorithm = "token_bucket"
)

// Policy is one limit: at most Limit hits per Window under Algorithm.
type Policy struct {
	Limit     int
	Window    time.Duration
	Algorithm Algorithm
}

func (p Policy) validate() error {
	if p.Limit <= 0 {
		return errors.New("rate: limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("rate: window must be positive")
	}
	switch p.Algorithm {
	case FixedWindow, TokenBucket, "":
	default:
		return fmt.Errorf("rate: unknown algorithm %q", p.Algorithm)
	}
	return nil
}

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter enforces per-key policies with Redis counters. Keys are scoped
// by a prefix so several limiters can share one Redis.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func New(redisClient redis.UniversalClient, prefix string) *Limiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Limiter{redis: redisClient, prefix: prefix, now: time.Now}
}

// Allow records one hit against key under the policy and reports whether
// it fits the budget. A denied hit still consumes window state so
// hammering a closed limit does not reset it.
func (l *Limiter) Allow(ctx context.Context, key string, p Policy) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	switch p.Algorithm {
	case TokenBucket:
		return l.allowBucket(ctx, key, p)
	default:
		return l.allowFixed(ctx, key, p)
	}
}

// Reset clears all state for key across both algorithms.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.fixedKey(key), l.bucketKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) allowFixed(ctx context.Context, key string, p Policy) (Result, error) {
	redisKey := l.fixedKey(key)

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	// The window opens on the first hit: EXPIRE NX leaves an existing
	// deadline alone so later hits cannot stretch it.
	_, err := l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, p.Window)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	count := incr.Val()
	resetAt := l.now().Add(p.Window)
	if d := ttl.Val(); d > 0 {
		resetAt = l.now().Add(d)
	}

	remaining := int64(p.Limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(p.Limit),
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}, nil
}

type bucketState struct {
	Tokens     float64 `json:"tokens"`
	LastRefill int64   `json:"last_refill"`
}

func (l *Limiter) allowBucket(ctx context.Context, key string, p Policy) (Result, error) {
	redisKey := l.bucketKey(key)
	now := l.now()

	state := bucketState{Tokens: float64(p.Limit), LastRefill: now.Unix()}
	raw, err := l.redis.Get(ctx, redisKey).Bytes()
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &state); jsonErr != nil {
			// Corrupt state is discarded and the bucket starts full.
			state = bucketState{Tokens: float64(p.Limit), LastRefill: now.Unix()}
		}
	case errors.Is(err, redis.Nil):
	default:
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	elapsed := now.Unix() - state.LastRefill
	if elapsed > 0 {
		refill := float64(elapsed) * float64(p.Limit) / p.Window.Seconds()
		state.Tokens += refill
		if state.Tokens > float64(p.Limit) {
			state.Tokens = float64(p.Limit)
		}
	}
	state.LastRefill = now.Unix()

	allowed := state.Tokens >= 1
	if allowed {
		state.Tokens--
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return Result{}, err
	}
	if err := l.redis.SetEx(ctx, redisKey, encoded, 2*p.Window).Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	secondsPerToken := p.Window.Seconds() / float64(p.Limit)
	resetAt := now
	if state.Tokens < 1 {
		deficit := 1 - state.Tokens
		resetAt = now.Add(time.Duration(deficit * secondsPerToken * float64(time.Second)))
	}
	return Result{
		Allowed:   allowed,
		Remaining: int(state.Tokens),
		ResetAt:   resetAt,
	}, nil
}

func (l *Limiter) fixedKey(key string) string {
	return l.prefix + ":fixed:" + key
}

func (l *Limiter) bucketKey(key string) string {
	return l.prefix + ":bucket:" + key
}
