package goMFA

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/MrEthical07/goMFA/internal/notify"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/MrEthical07/goMFA/internal/secretbox"
	"github.com/MrEthical07/goMFA/jwt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxCommitAttempts bounds the optimistic-concurrency retry loop.
const maxCommitAttempts = 4

// Engine orchestrates MFA enrollment, verification and step-up login.
//
// Engine is safe for concurrent use. Per-user races are resolved by
// versioned profile commits and atomic Redis scripts, not by locks.
type Engine struct {
	config        Config
	redis         redis.UniversalClient
	store         Store
	directory     UserDirectory
	notifier      Notifier
	ceremony      WebAuthnCeremony
	challenges    *challenge.Store
	limiter       *rate.Limiter
	notifications *notify.Dispatcher
	audit         *audit.Dispatcher
	metrics       *Metrics
	hasher        *hashing.Hasher
	box           *secretbox.Box
	tokens        *jwt.Manager
	totp          *totpManager
	logger        *zap.Logger
	now           func() time.Time
	newCode       func(digits int) (string, error)
	methods       map[Method]MfaMethod
}

// Close stops the notification workers and drains the audit buffer.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.notifications != nil {
		e.notifications.Close()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// NotificationsDropped reports code deliveries lost to a full queue.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil || e.notifications == nil {
		return 0
	}
	return e.notifications.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot returns empty maps when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeVerify(start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(MetricVerifyLatency, e.now().Sub(start))
}

// Method returns the registered implementation of m.
func (e *Engine) Method(m Method) (MfaMethod, bool) {
	impl, ok := e.methods[m]
	return impl, ok
}

// mutateProfile reads the profile, lets apply edit a copy and commits the
// result with a version check. A nil commit from apply is a no-op. Version
// conflicts retry from a fresh read.
func (e *Engine) mutateProfile(ctx context.Context, userID string, apply func(p *Profile) (*ProfileCommit, error)) (*Profile, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		current, err := e.store.GetProfile(ctx, userID)
		if err != nil {
			return nil, e.storeErr("get profile", err)
		}

		next := current.Clone()
		commit, err := apply(next)
		if err != nil {
			return nil, err
		}
		if commit == nil {
			return current, nil
		}

		next.UserID = userID
		next.Version = current.Version
		next.UpdatedAt = e.now().UTC()
		if next.CreatedAt.IsZero() {
			next.CreatedAt = next.UpdatedAt
		}
		next.normalize()
		commit.Profile = next

		saved, err := e.store.CommitProfile(ctx, *commit)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, e.storeErr("commit profile", err)
		}
		return saved, nil
	}

	e.logger.Error("profile commit retries exhausted", zap.String("user_id", userID))
	return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, ErrVersionConflict)
}

func (e *Engine) profile(ctx context.Context, userID string) (*Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUnauthenticated
	}
	p, err := e.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, e.storeErr("get profile", err)
	}
	return p, nil
}

func (e *Engine) user(ctx context.Context, userID string) (UserRecord, error) {
	u, err := e.directory.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, e.storeErr("get user", err)
	}
	return u, nil
}

// storeErr passes taxonomy errors through and collapses everything else to
// ErrStoreUnavailable after logging it.
func (e *Engine) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindServer || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	e.logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// allow consumes one hit of rule for key and converts a denial into a
// *RateLimitError.
func (e *Engine) allow(ctx context.Context, scope, key, userID string, rule RateLimitRule) error {
	d, err := e.limiter.Allow(ctx, key, rate.Rule{Limit: rule.Limit, Window: rule.Window})
	return e.rateDecision(ctx, scope, userID, d, err)
}

func (e *Engine) checkFailures(ctx context.Context, scope, key, userID string, rule RateLimitRule) error {
	d, err := e.limiter.Check(ctx, key, rate.Rule{Limit: rule.Limit, Window: rule.Window})
	return e.rateDecision(ctx, scope, userID, d, err)
}

func (e *Engine) rateDecision(ctx context.Context, scope, userID string, d rate.Decision, err error) error {
	if err != nil {
		e.logger.Warn("rate limiter unavailable, failing closed", zap.String("scope", scope), zap.Error(err))
	}
	if d.Allowed {
		return nil
	}
	e.emitRateLimit(ctx, scope, userID, nil)
	return &RateLimitError{Scope: scope, RetryAfter: d.RetryAfter}
}

func (e *Engine) recordFailure(ctx context.Context, key string, rule RateLimitRule) {
	if _, err := e.limiter.Allow(ctx, key, rate.Rule{Limit: rule.Limit, Window: rule.Window}); err != nil {
		e.logger.Warn("failed to record verification failure", zap.Error(err))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// undeliverableNotifier is installed when no Notifier is configured.
type undeliverableNotifier struct {
	logger *zap.Logger
}

func (n undeliverableNotifier) SendCode(_ context.Context, c CodeNotification) error {
	n.logger.Warn("no notifier configured, code not delivered",
		zap.String("user_id", c.UserID),
		zap.String("context", string(c.Context)))
	return nil
}
