package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters shared by every rule.
type Config struct {
	Prefix          string
	DecisionTimeout time.Duration
	// FailClosedRetryAfter is reported to callers when the backend cannot
	// produce a decision in time.
	FailClosedRetryAfter time.Duration
}

// Rule is a fixed-window budget: at most Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of a single limiter consultation.
type Decision struct {
	Allowed    bool
	Count      int64
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces fixed-window budgets and resend cooldowns on Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// windowLua increments the window counter and applies the TTL on the first
// hit in one round trip so concurrent callers never observe a counter
// without expiry.
// KEYS[1] = counter key
// ARGV[1] = window in milliseconds
// Returns {count, pttl}.
var windowLua = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "mrl"
	}
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = 250 * time.Millisecond
	}
	if cfg.FailClosedRetryAfter <= 0 {
		cfg.FailClosedRetryAfter = time.Second
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow records one hit against key and reports whether it is within rule.
// Backend failures and timeouts deny the request and return an error
// wrapping [ErrRedisUnavailable].
func (l *Limiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()

	res, err := windowLua.Run(ctx, l.redis, []string{l.key(key)}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return l.failClosed(err)
	}
	if len(res) != 2 {
		return l.failClosed(errors.New("unexpected window script result"))
	}

	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	d := Decision{
		Allowed:   count <= int64(rule.Limit),
		Count:     count,
		Remaining: max(rule.Limit-int(count), 0),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// Check reports whether key already reached the rule budget without
// recording a hit. Used for failure counters that only grow on mistakes.
func (l *Limiter) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}, nil
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()

	pipe := l.redis.Pipeline()
	getCmd := pipe.Get(ctx, l.key(key))
	ttlCmd := pipe.PTTL(ctx, l.key(key))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return l.failClosed(err)
	}

	count, err := getCmd.Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Decision{Allowed: true, Remaining: rule.Limit}, nil
		}
		return l.failClosed(err)
	}

	d := Decision{
		Allowed:   count < int64(rule.Limit),
		Count:     count,
		Remaining: max(rule.Limit-int(count), 0),
	}
	if !d.Allowed {
		d.RetryAfter = max(ttlCmd.Val(), 0)
	}
	return d, nil
}

// Cooldown claims key for d. The first caller inside the window is allowed;
// later callers are denied with the remaining time as RetryAfter.
func (l *Limiter) Cooldown(ctx context.Context, key string, d time.Duration) (Decision, error) {
	if d <= 0 {
		return Decision{Allowed: true}, nil
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()

	ok, err := l.redis.SetNX(ctx, l.key(key), "1", d).Result()
	if err != nil {
		return l.failClosed(err)
	}
	if ok {
		return Decision{Allowed: true, Count: 1}, nil
	}

	ttl, err := l.redis.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return l.failClosed(err)
	}
	if ttl <= 0 {
		ttl = d
	}
	return Decision{Allowed: false, Count: 2, RetryAfter: ttl}, nil
}

// Stamp starts (or restarts) a cooldown window unconditionally.
func (l *Limiter) Stamp(ctx context.Context, key string, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()

	if err := l.redis.Set(ctx, l.key(key), "1", d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Reset clears counters, typically after a successful verification.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := l.bounded(ctx)
	defer cancel()

	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, l.key(k))
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(k string) string {
	return l.config.Prefix + ":" + k
}

func (l *Limiter) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, l.config.DecisionTimeout)
}

func (l *Limiter) failClosed(err error) (Decision, error) {
	return Decision{Allowed: false, RetryAfter: l.config.FailClosedRetryAfter},
		fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// IssueKey scopes challenge issuance per user and context.
func IssueKey(userID, context string) string {
	return "issue:" + context + ":" + userID
}

// CooldownKey scopes resend cooldowns per user and context.
func CooldownKey(userID, context string) string {
	return "cool:" + context + ":" + userID
}

// EndpointKey scopes verification-heavy endpoints per identity.
func EndpointKey(endpoint, identity string) string {
	return "ep:" + endpoint + ":" + identity
}

// FailureKey scopes failure-only counters such as backup code misses.
func FailureKey(scope, userID string) string {
	return "fail:" + scope + ":" + userID
}

// RetryAfterSeconds rounds d up to whole seconds for Retry-After headers.
func RetryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return strconv.FormatInt(secs, 10)
}
