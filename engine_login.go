package goMFA

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/MrEthical07/goMFA/jwt"
	"go.uber.org/zap"
)

// LoginChallenge is returned by [Engine.BeginLogin]. When MFARequired is
// false the primary credentials were sufficient and Token is already set.
type LoginChallenge struct {
	UserID          string           `json:"userId"`
	MFARequired     bool             `json:"mfaRequired"`
	Methods         []Method         `json:"methods,omitempty"`
	PreferredMethod Method           `json:"preferredMethod"`
	Challenge       *ChallengeTicket `json:"challenge,omitempty"`
	Token           string           `json:"token,omitempty"`
	ExpiresAt       time.Time        `json:"expiresAt"`
}

// LoginRequest is the second step of a step-up login.
type LoginRequest struct {
	Email      string          `json:"email"`
	Method     Method          `json:"method"`
	Value      string          `json:"value"`
	RememberMe bool            `json:"rememberMe"`
	CeremonyID string          `json:"ceremonyId,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Answers    []AnswerInput   `json:"answers,omitempty"`
}

// LoginResult carries the step-up token. RememberMe is echoed for the
// client; the server never extends lifetimes because of it.
type LoginResult struct {
	UserID     string    `json:"userId"`
	Method     Method    `json:"method"`
	Token      string    `json:"token"`
	RememberMe bool      `json:"rememberMe"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

func (e *Engine) stepUpKey(userID string) string {
	return e.config.StepUp.RedisPrefix + ":" + userID
}

// stepUpPending reports whether BeginLogin succeeded for userID within the
// pending window.
func (e *Engine) stepUpPending(ctx context.Context, userID string) (bool, error) {
	n, err := e.redis.Exists(ctx, e.stepUpKey(userID)).Result()
	if err != nil {
		e.logger.Error("step-up marker lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false, ErrChallengeUnavailable
	}
	return n == 1, nil
}

func (e *Engine) markStepUp(ctx context.Context, userID string) error {
	if err := e.redis.Set(ctx, e.stepUpKey(userID), e.now().UnixMilli(), e.config.StepUp.PendingTTL).Err(); err != nil {
		e.logger.Error("step-up marker write failed", zap.String("user_id", userID), zap.Error(err))
		return ErrChallengeUnavailable
	}
	return nil
}

func (e *Engine) clearStepUp(ctx context.Context, userID string) {
	if err := e.redis.Del(ctx, e.stepUpKey(userID)).Err(); err != nil {
		e.logger.Warn("step-up marker delete failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (e *Engine) resolveUser(ctx context.Context, userID, email string) (UserRecord, error) {
	if userID != "" {
		return e.user(ctx, userID)
	}
	email = normalizeEmail(email)
	if email == "" {
		return UserRecord{}, ErrInvalidInput
	}
	u, err := e.directory.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, e.storeErr("get user by email", err)
	}
	return u, nil
}

// BeginLogin describes the beginlogin operation and its observable behavior.
//
// BeginLogin checks the primary password and starts a step-up for users
// with MFA enabled. Unknown users and wrong passwords both return
// ErrInvalidCredentials. The preferred method's challenge is issued
// immediately for email and app; webauthn waits for BeginAuthentication.
func (e *Engine) BeginLogin(ctx context.Context, email, password string) (*LoginChallenge, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidInput
	}
	if err := e.allow(ctx, "login_begin", rate.EndpointKey("login_begin", email), "", e.config.RateLimit.Login); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	user, err := e.resolveUser(ctx, "", email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := e.verifyPassword(ctx, user.UserID, password); err != nil {
		if errors.Is(err, ErrProofRejected) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"phase": "primary"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	p, err := e.profile(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	if len(p.EnabledMethods) == 0 {
		result, err := e.completeLogin(ctx, user.UserID, MethodNone, false)
		if err != nil {
			return nil, err
		}
		return &LoginChallenge{
			UserID:          user.UserID,
			PreferredMethod: MethodNone,
			Token:           result.Token,
			ExpiresAt:       result.ExpiresAt,
		}, nil
	}

	if err := e.markStepUp(ctx, user.UserID); err != nil {
		return nil, err
	}
	methods, err := e.loginMethods(ctx, user.UserID, p)
	if err != nil {
		return nil, err
	}
	out := &LoginChallenge{
		UserID:          user.UserID,
		MFARequired:     true,
		Methods:         methods,
		PreferredMethod: p.PreferredMethod,
		ExpiresAt:       e.now().Add(e.config.StepUp.PendingTTL).UTC(),
	}

	switch p.PreferredMethod {
	case MethodEmail:
		ticket, err := e.issueEmailCode(ctx, user, ContextLogin)
		if err != nil {
			return nil, err
		}
		e.stampCooldown(ctx, user.UserID, ContextLogin)
		out.Challenge = ticket
	case MethodApp:
		ticket, err := e.methods[MethodApp].IssueChallenge(ctx, user.UserID, ContextLogin)
		if err != nil {
			return nil, err
		}
		out.Challenge = ticket
	}

	e.emitAudit(ctx, auditEventStepUpStarted, true, user.UserID, p.PreferredMethod, nil, nil)
	return out, nil
}

// loginMethods lists the enabled methods followed by the recovery methods
// that are currently usable.
func (e *Engine) loginMethods(ctx context.Context, userID string, p *Profile) ([]Method, error) {
	methods := append([]Method{}, p.EnabledMethods...)
	remaining, err := e.unusedBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if remaining > 0 {
		methods = append(methods, MethodBackupCode)
	}
	answers, err := e.store.GetSecurityAnswers(ctx, userID)
	if err != nil {
		return nil, e.storeErr("get security answers", err)
	}
	if len(answers) > 0 {
		methods = append(methods, MethodSecurityQuestion)
	}
	return methods, nil
}

// Login describes the login operation and its observable behavior.
//
// Login verifies one second factor for a step-up started by BeginLogin and
// returns a signed step-up token. Attempts are limited per email. When the
// challenge runs out of attempts the step-up is cancelled and the user must
// start over.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, ErrInvalidInput
	}
	m, err := ParseMethod(string(req.Method))
	if err != nil || m == MethodNone {
		return nil, ErrInvalidMethod
	}
	if err := e.allow(ctx, "login", rate.EndpointKey("login", email), "", e.config.RateLimit.Login); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return nil, err
	}

	user, err := e.resolveUser(ctx, "", email)
	if err != nil {
		return nil, err
	}
	p, err := e.profile(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	if len(p.EnabledMethods) == 0 {
		return nil, ErrMethodNotEnabled
	}
	if m.Enrollable() && !p.HasMethod(m) {
		return nil, ErrMethodNotEnabled
	}
	if e.config.StepUp.RequirePrimaryAuth {
		pending, err := e.stepUpPending(ctx, user.UserID)
		if err != nil {
			return nil, err
		}
		if !pending {
			return nil, ErrStepUpNotStarted
		}
	}

	proof := Proof{
		Kind:       proofKindFor(m),
		Value:      strings.TrimSpace(req.Value),
		CeremonyID: req.CeremonyID,
		Response:   req.Response,
		Answers:    req.Answers,
	}
	start := e.now()
	err = e.methods[m].Verify(ctx, user.UserID, ContextLogin, proof)
	e.observeVerify(start)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, m, err, nil)
		if errors.Is(err, ErrAttemptsExhausted) {
			e.clearStepUp(ctx, user.UserID)
		}
		return nil, err
	}

	e.clearStepUp(ctx, user.UserID)
	result, err := e.completeLogin(ctx, user.UserID, m, req.RememberMe)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func proofKindFor(m Method) ProofKind {
	switch m {
	case MethodBackupCode:
		return ProofBackupCode
	case MethodWebAuthn:
		return ProofWebAuthn
	case MethodSecurityQuestion:
		return ProofSecurityQuestions
	default:
		return ProofOTP
	}
}

// completeLogin signs the step-up token for a verified login.
func (e *Engine) completeLogin(ctx context.Context, userID string, m Method, remember bool) (*LoginResult, error) {
	var methods []string
	if m != MethodNone {
		methods = []string{string(m)}
	}
	token, err := e.tokens.Issue(jwt.PurposeStepUp, userID, methods, remember, 0)
	if err != nil {
		e.logger.Error("step-up token signing failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrEngineNotReady
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, userID, m, nil, nil)
	return &LoginResult{
		UserID:     userID,
		Method:     m,
		Token:      token,
		RememberMe: remember,
		ExpiresAt:  e.now().Add(e.tokens.TTL()).UTC(),
	}, nil
}

// VerifyStepUpToken validates a token issued by Login or PasswordlessLogin.
// Any failure is reported as ErrUnauthenticated.
func (e *Engine) VerifyStepUpToken(token string) (*jwt.Claims, error) {
	claims, err := e.tokens.Parse(token, jwt.PurposeStepUp)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}
