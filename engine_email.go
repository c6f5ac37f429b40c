package goMFA

import (
	"context"
	"errors"
)

type emailMethod struct {
	e *Engine
}

func (m *emailMethod) Method() Method { return MethodEmail }

func (m *emailMethod) IssueChallenge(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error) {
	user, err := m.e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	return m.e.issueEmailCode(ctx, user, cctx)
}

func (m *emailMethod) Verify(ctx context.Context, userID string, cctx ChallengeContext, proof Proof) error {
	return m.e.verifyEmailCode(ctx, userID, cctx, proof.Value)
}

// Describe reports Verifying while a config code is outstanding.
func (m *emailMethod) Describe(ctx context.Context, userID string, p *Profile) (MethodDescription, error) {
	if p.HasMethod(MethodEmail) {
		return describeEnabled(MethodEmail, p), nil
	}
	d := MethodDescription{Method: MethodEmail, State: StateUnconfigured}
	_, err := m.e.outstanding(ctx, userID, ContextConfig, ChallengeEmailOTP)
	switch {
	case err == nil:
		d.State = StateVerifying
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
	default:
		return d, err
	}
	return d, nil
}

// ConfigureEmail describes the configureemail operation and its observable behavior.
//
// ConfigureEmail sends a config-context code to the account address. It
// fails with ErrEmailUnverified when verification is required and missing,
// and starts the resend cooldown.
func (e *Engine) ConfigureEmail(ctx context.Context, userID string) (*ChallengeTicket, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.HasMethod(MethodEmail) {
		return nil, ErrMethodAlreadyEnabled
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	if e.config.Email.RequireVerifiedEmail && !user.EmailVerified {
		return nil, ErrEmailUnverified
	}

	// A repeat while a code is outstanding is a resend.
	_, err = e.outstanding(ctx, userID, ContextConfig, ChallengeEmailOTP)
	switch {
	case err == nil:
		if err := e.enforceCooldown(ctx, userID, ContextConfig); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
	default:
		return nil, err
	}

	ticket, err := e.issueEmailCode(ctx, user, ContextConfig)
	if err != nil {
		return nil, err
	}
	e.stampCooldown(ctx, userID, ContextConfig)
	e.emitAudit(ctx, auditEventMethodConfigured, true, userID, MethodEmail, nil, nil)
	return ticket, nil
}

// EnableEmail verifies the config code and enables email.
func (e *Engine) EnableEmail(ctx context.Context, userID, code string) (*EnableResult, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.HasMethod(MethodEmail) {
		return nil, ErrMethodAlreadyEnabled
	}

	start := e.now()
	err = e.verifyEmailCode(ctx, userID, ContextConfig, code)
	e.observeVerify(start)
	if err != nil {
		return nil, e.enrollmentErr(ctx, userID, ChallengeEmailOTP, err)
	}
	return e.enableMethod(ctx, userID, MethodEmail, nil)
}
