package goMFA

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/internal"
	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/MrEthical07/goMFA/internal/notify"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChallengeTicket is the public view of an issued challenge. It never
// carries the secret.
type ChallengeTicket struct {
	ID        string             `json:"ceremonyId"`
	Method    Method             `json:"method"`
	Kind      string             `json:"kind"`
	Context   ChallengeContext   `json:"context"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Options   json.RawMessage    `json:"options,omitempty"`
	Questions []SecurityQuestion `json:"questions,omitempty"`
}

type challengeSpec struct {
	subject string
	kind    ChallengeKind
	context ChallengeContext
	role    Role
	secret  string
	state   []byte
	ttl     time.Duration
}

// putChallenge persists spec as the only outstanding challenge for its
// subject and context.
func (e *Engine) putChallenge(ctx context.Context, spec challengeSpec) (*challenge.Record, error) {
	ttl := spec.ttl
	if ttl <= 0 {
		ttl = e.config.Challenge.TTL
	}
	now := e.now()
	rec := &challenge.Record{
		ID:        uuid.NewString(),
		Subject:   spec.subject,
		Kind:      uint8(spec.kind),
		Context:   string(spec.context),
		Role:      string(spec.role),
		State:     spec.state,
		Attempts:  uint16(e.config.Challenge.MaxAttempts),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	if spec.secret != "" {
		rec.HasSecret = true
		rec.SecretHash = internal.HashCode(spec.subject, spec.secret)
	}

	if _, err := e.challenges.Issue(ctx, rec, ttl); err != nil {
		return nil, e.challengeErr(err)
	}
	e.metricInc(MetricChallengeIssued)
	return rec, nil
}

func ticketFor(rec *challenge.Record, method Method) *ChallengeTicket {
	return &ChallengeTicket{
		ID:        rec.ID,
		Method:    method,
		Kind:      ChallengeKind(rec.Kind).String(),
		Context:   ChallengeContext(rec.Context),
		ExpiresAt: time.UnixMilli(rec.ExpiresAt).UTC(),
	}
}

// challengeErr maps store errors onto the public taxonomy.
func (e *Engine) challengeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, challenge.ErrNotFound):
		return ErrChallengeNotFound
	case errors.Is(err, challenge.ErrExpired):
		e.metricInc(MetricChallengeExpired)
		return ErrChallengeExpired
	case errors.Is(err, challenge.ErrMismatch):
		e.metricInc(MetricChallengeInvalid)
		return ErrInvalidCode
	case errors.Is(err, challenge.ErrExhausted):
		e.metricInc(MetricChallengeExhausted)
		return ErrAttemptsExhausted
	default:
		e.logger.Error("challenge store failure", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrChallengeUnavailable, err)
	}
}

// outstanding returns the live challenge of kind for subject and context.
func (e *Engine) outstanding(ctx context.Context, subject string, cctx ChallengeContext, kind ChallengeKind) (*challenge.Record, error) {
	rec, err := e.challenges.Lookup(ctx, subject, string(cctx))
	if err != nil {
		return nil, e.challengeErr(err)
	}
	if ChallengeKind(rec.Kind) != kind {
		return nil, ErrChallengeNotFound
	}
	return rec, nil
}

// issueEmailCode throttles, persists and then hands the code to the
// notification queue. Delivery is never awaited.
func (e *Engine) issueEmailCode(ctx context.Context, user UserRecord, cctx ChallengeContext) (*ChallengeTicket, error) {
	if err := e.allow(ctx, "challenge_issue", rate.IssueKey(user.UserID, string(cctx)), user.UserID, e.config.RateLimit.ChallengeIssue); err != nil {
		return nil, err
	}

	code, err := e.newCode(e.config.Challenge.CodeDigits)
	if err != nil {
		return nil, err
	}

	rec, err := e.putChallenge(ctx, challengeSpec{
		subject: user.UserID,
		kind:    ChallengeEmailOTP,
		context: cctx,
		secret:  code,
	})
	if err != nil {
		return nil, err
	}

	ticket := ticketFor(rec, MethodEmail)
	n := CodeNotification{
		UserID:    user.UserID,
		Email:     user.Email,
		Context:   cctx,
		Code:      code,
		ExpiresAt: ticket.ExpiresAt,
	}
	notifier := e.notifier
	if !e.notifications.Enqueue(notify.Job{
		UserID: user.UserID,
		Send: func(ctx context.Context) error {
			return notifier.SendCode(ctx, n)
		},
	}) {
		e.metricInc(MetricNotificationDropped)
		e.logger.Warn("notification queue full, code dropped", zap.String("user_id", user.UserID))
	}

	e.emitAudit(ctx, auditEventChallengeIssued, true, user.UserID, MethodEmail, nil, func() map[string]string {
		return map[string]string{"context": string(cctx)}
	})
	return ticket, nil
}

// verifyEmailCode checks code against the outstanding email challenge. The
// comparison and attempt accounting happen atomically in the store.
func (e *Engine) verifyEmailCode(ctx context.Context, userID string, cctx ChallengeContext, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidCode
	}
	rec, err := e.outstanding(ctx, userID, cctx, ChallengeEmailOTP)
	if err != nil {
		return err
	}

	if _, err := e.challenges.Verify(ctx, rec.ID, internal.HashCode(userID, code)); err != nil {
		mapped := e.challengeErr(err)
		e.auditChallengeFailure(ctx, userID, MethodEmail, cctx, mapped)
		return mapped
	}
	e.metricInc(MetricChallengeVerified)
	return nil
}

// settleAttempt runs check against a challenge whose value is verified
// outside the store (TOTP, backup codes, security answers). Success consumes
// the challenge; a business-rule failure spends one attempt. When create is
// set and no challenge of kind is outstanding, a fresh one is issued first.
func (e *Engine) settleAttempt(ctx context.Context, userID string, cctx ChallengeContext, kind ChallengeKind, method Method, create bool, check func() error) error {
	rec, err := e.outstanding(ctx, userID, cctx, kind)
	if err != nil {
		if !create || !(errors.Is(err, ErrChallengeNotFound) || errors.Is(err, ErrChallengeExpired)) {
			return err
		}
		rec, err = e.putChallenge(ctx, challengeSpec{subject: userID, kind: kind, context: cctx})
		if err != nil {
			return err
		}
	}

	checkErr := check()
	if checkErr == nil {
		if _, err := e.challenges.Take(ctx, rec.ID); err != nil &&
			!errors.Is(err, challenge.ErrNotFound) && !errors.Is(err, challenge.ErrExpired) {
			return e.challengeErr(err)
		}
		e.metricInc(MetricChallengeVerified)
		return nil
	}
	if KindOf(checkErr) != KindBusinessRule {
		return checkErr
	}

	failErr := e.challenges.Fail(ctx, rec.ID)
	switch {
	case errors.Is(failErr, challenge.ErrExhausted):
		mapped := e.challengeErr(failErr)
		e.auditChallengeFailure(ctx, userID, method, cctx, mapped)
		return mapped
	case errors.Is(failErr, challenge.ErrMismatch),
		errors.Is(failErr, challenge.ErrNotFound),
		errors.Is(failErr, challenge.ErrExpired):
		e.metricInc(MetricChallengeInvalid)
		e.auditChallengeFailure(ctx, userID, method, cctx, checkErr)
		return checkErr
	default:
		return e.challengeErr(failErr)
	}
}

func (e *Engine) auditChallengeFailure(ctx context.Context, userID string, method Method, cctx ChallengeContext, err error) {
	event := auditEventChallengeFailed
	if errors.Is(err, ErrAttemptsExhausted) {
		event = auditEventChallengeExhausted
	}
	e.emitAudit(ctx, event, false, userID, method, err, func() map[string]string {
		return map[string]string{"context": string(cctx)}
	})
}

// IssueChallenge describes the issuechallenge operation and its observable behavior.
//
// IssueChallenge starts a challenge for method in context cctx, replacing
// any challenge outstanding for the same user and context. Email challenges
// are throttled and delivered through the Notifier.
func (e *Engine) IssueChallenge(ctx context.Context, userID string, method Method, cctx ChallengeContext) (*ChallengeTicket, error) {
	impl, ok := e.methods[method]
	if !ok {
		return nil, ErrInvalidMethod
	}
	if _, err := ParseChallengeContext(string(cctx)); err != nil {
		return nil, err
	}
	return impl.IssueChallenge(ctx, userID, cctx)
}

// ResendEmailCode describes the resendemailcode operation and its observable behavior.
//
// ResendEmailCode issues a fresh email code for cctx after the resend
// cooldown, invalidating the previous one. The config context requires an
// outstanding config challenge, login requires a started step-up, and
// disable may issue the first code.
func (e *Engine) ResendEmailCode(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error) {
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.resend(ctx, user, cctx)
}

// ResendLoginCode resolves email and resends its login code.
func (e *Engine) ResendLoginCode(ctx context.Context, email string) (*ChallengeTicket, error) {
	user, err := e.directory.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, e.storeErr("get user by email", err)
	}
	return e.resend(ctx, user, ContextLogin)
}

func (e *Engine) resend(ctx context.Context, user UserRecord, cctx ChallengeContext) (*ChallengeTicket, error) {
	switch cctx {
	case ContextConfig:
		if _, err := e.outstanding(ctx, user.UserID, cctx, ChallengeEmailOTP); err != nil {
			if errors.Is(err, ErrChallengeExpired) {
				return nil, ErrChallengeNotFound
			}
			return nil, err
		}
	case ContextLogin:
		pending, err := e.stepUpPending(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		if !pending {
			return nil, ErrStepUpNotStarted
		}
		if err := e.requireEnabled(ctx, user.UserID, MethodEmail); err != nil {
			return nil, err
		}
	case ContextDisable:
		if err := e.requireEnabled(ctx, user.UserID, MethodEmail); err != nil {
			return nil, err
		}
	default:
		return nil, ErrInvalidContext
	}

	if err := e.enforceCooldown(ctx, user.UserID, cctx); err != nil {
		return nil, err
	}

	ticket, err := e.issueEmailCode(ctx, user, cctx)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricChallengeResent)
	e.emitAudit(ctx, auditEventChallengeResent, true, user.UserID, MethodEmail, nil, func() map[string]string {
		return map[string]string{"context": string(cctx)}
	})
	return ticket, nil
}

// enforceCooldown claims the resend cooldown for cctx or returns a
// *RateLimitError while it is still running.
func (e *Engine) enforceCooldown(ctx context.Context, userID string, cctx ChallengeContext) error {
	cooldown := e.config.RateLimit.ResendCooldown
	if cooldown <= 0 {
		return nil
	}
	d, err := e.limiter.Cooldown(ctx, rate.CooldownKey(userID, string(cctx)), cooldown)
	return e.rateDecision(ctx, "resend", userID, d, err)
}

// enrollmentErr reports ErrEnrollmentSuperseded when the config challenge
// that err failed to find was replaced by another method's enrollment.
func (e *Engine) enrollmentErr(ctx context.Context, userID string, want ChallengeKind, err error) error {
	if !errors.Is(err, ErrChallengeNotFound) {
		return err
	}
	rec, lerr := e.challenges.Lookup(ctx, userID, string(ContextConfig))
	if lerr == nil && ChallengeKind(rec.Kind) != want {
		return ErrEnrollmentSuperseded
	}
	return err
}

// stampCooldown starts the resend cooldown after a first issuance so an
// immediate resend is refused.
func (e *Engine) stampCooldown(ctx context.Context, userID string, cctx ChallengeContext) {
	cooldown := e.config.RateLimit.ResendCooldown
	if cooldown <= 0 {
		return
	}
	if err := e.limiter.Stamp(ctx, rate.CooldownKey(userID, string(cctx)), cooldown); err != nil {
		e.logger.Warn("failed to stamp resend cooldown", zap.String("user_id", userID), zap.Error(err))
	}
}

func (e *Engine) requireEnabled(ctx context.Context, userID string, m Method) error {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return err
	}
	if !p.HasMethod(m) {
		return ErrMethodNotEnabled
	}
	return nil
}
