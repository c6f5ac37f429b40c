package goMFA

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	anonymousSubjectPrefix = "anon:"
	defaultDeviceName      = "Security key"
	maxDeviceNameRunes     = 64
)

// RegistrationResult is returned by [Engine.CompleteRegistration].
// BackupCodes is set when the registration enabled webauthn as the first
// method and a fresh set was generated.
type RegistrationResult struct {
	Credential      WebAuthnCredential `json:"credential"`
	MethodEnabled   bool               `json:"methodEnabled"`
	PreferredMethod Method             `json:"preferredMethod"`
	BackupCodes     []string           `json:"backupCodes,omitempty"`
}

// AuthenticationRequest starts an assertion ceremony. Primary requests
// without a user start a discoverable (usernameless) ceremony.
type AuthenticationRequest struct {
	Role    Role
	UserID  string
	Email   string
	Context ChallengeContext
}

// AuthenticationFinish completes an assertion ceremony in the login
// context.
type AuthenticationFinish struct {
	Role       Role
	Email      string
	CeremonyID string
	Response   json.RawMessage
	RememberMe bool
}

type webauthnMethod struct {
	e *Engine
}

func (m *webauthnMethod) Method() Method { return MethodWebAuthn }

func (m *webauthnMethod) IssueChallenge(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error) {
	return m.e.beginAssertion(ctx, userID, RoleSecondary, cctx)
}

// Verify finishes a secondary assertion started for cctx.
func (m *webauthnMethod) Verify(ctx context.Context, userID string, cctx ChallengeContext, proof Proof) error {
	return m.e.finishAssertion(ctx, userID, RoleSecondary, cctx, proof.CeremonyID, proof.Response)
}

// Describe reports Verifying while a secondary registration ceremony is
// outstanding.
func (m *webauthnMethod) Describe(ctx context.Context, userID string, p *Profile) (MethodDescription, error) {
	if p.HasMethod(MethodWebAuthn) {
		return describeEnabled(MethodWebAuthn, p), nil
	}
	d := MethodDescription{Method: MethodWebAuthn, State: StateUnconfigured}
	rec, err := m.e.outstanding(ctx, userID, ContextRegister, ChallengeWebAuthnAssertion)
	switch {
	case err == nil:
		if Role(rec.Role) == RoleSecondary {
			d.State = StateVerifying
		}
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
	default:
		return d, err
	}
	return d, nil
}

func (e *Engine) requireCeremony() error {
	if e.ceremony == nil {
		return ErrFeatureDisabled
	}
	return nil
}

func (e *Engine) webauthnUser(ctx context.Context, user UserRecord, role Role) (WebAuthnUser, error) {
	creds, err := e.store.ListCredentials(ctx, user.UserID, role)
	if err != nil {
		return WebAuthnUser{}, e.storeErr("list credentials", err)
	}
	name := user.Email
	if name == "" {
		name = user.UserID
	}
	display := user.DisplayName
	if display == "" {
		display = name
	}
	return WebAuthnUser{
		ID:          []byte(user.UserID),
		Name:        name,
		DisplayName: display,
		Credentials: creds,
	}, nil
}

// takeCeremony consumes the ceremony record before any verification, so a
// failed ceremony can never be retried with the same nonce.
func (e *Engine) takeCeremony(ctx context.Context, ceremonyID, subject string, cctx ChallengeContext, role Role) (*challenge.Record, error) {
	if strings.TrimSpace(ceremonyID) == "" {
		return nil, ErrChallengeNotFound
	}
	rec, err := e.challenges.Take(ctx, ceremonyID)
	if err != nil {
		return nil, e.challengeErr(err)
	}
	if ChallengeKind(rec.Kind) != ChallengeWebAuthnAssertion ||
		ChallengeContext(rec.Context) != cctx ||
		Role(rec.Role) != role {
		return nil, ErrChallengeNotFound
	}
	if subject != "" && rec.Subject != subject {
		return nil, ErrChallengeNotFound
	}
	return rec, nil
}

// BeginRegistration describes the beginregistration operation and its observable behavior.
//
// BeginRegistration opens a registration ceremony for role and returns the
// creation options. Credentials already registered in role are excluded.
func (e *Engine) BeginRegistration(ctx context.Context, userID string, role Role) (*ChallengeTicket, error) {
	if err := e.requireCeremony(); err != nil {
		return nil, err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	if err := e.allowCeremony(ctx, userID, userID); err != nil {
		return nil, err
	}
	if _, err := e.profile(ctx, userID); err != nil {
		return nil, err
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	wu, err := e.webauthnUser(ctx, user, role)
	if err != nil {
		return nil, err
	}

	options, state, err := e.ceremony.BeginRegistration(wu, wu.Credentials)
	if err != nil {
		e.logger.Error("webauthn registration options failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrWebAuthnFailed
	}

	rec, err := e.putChallenge(ctx, challengeSpec{
		subject: userID,
		kind:    ChallengeWebAuthnAssertion,
		context: ContextRegister,
		role:    role,
		state:   state,
		ttl:     e.config.WebAuthn.CeremonyTTL,
	})
	if err != nil {
		return nil, err
	}
	ticket := ticketFor(rec, MethodWebAuthn)
	ticket.Options = options
	return ticket, nil
}

// CompleteRegistration describes the completeregistration operation and its observable behavior.
//
// CompleteRegistration consumes the ceremony, verifies the attestation and
// stores the credential with a zero sign count. The first secondary
// credential enables webauthn in the same commit.
func (e *Engine) CompleteRegistration(ctx context.Context, userID string, role Role, ceremonyID string, response json.RawMessage, deviceName string) (*RegistrationResult, error) {
	if err := e.requireCeremony(); err != nil {
		return nil, err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	name, err := cleanDeviceName(deviceName)
	if err != nil {
		return nil, err
	}
	rec, err := e.takeCeremony(ctx, ceremonyID, userID, ContextRegister, role)
	if err != nil {
		return nil, err
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	wu, err := e.webauthnUser(ctx, user, role)
	if err != nil {
		return nil, err
	}

	verified, err := e.ceremony.FinishRegistration(wu, rec.State, response)
	if err != nil {
		e.emitAudit(ctx, auditEventWebAuthnFailed, false, userID, MethodWebAuthn, ErrWebAuthnFailed, func() map[string]string {
			return map[string]string{"phase": "register", "role": string(role)}
		})
		e.logger.Debug("webauthn registration rejected", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrWebAuthnFailed
	}
	for _, c := range wu.Credentials {
		if bytes.Equal(c.ExternalID, verified.ExternalID) {
			return nil, ErrCredentialAlreadyRegistered
		}
	}

	cred := *verified
	cred.ID = uuid.NewString()
	cred.UserID = userID
	cred.Role = role
	cred.SignCount = 0
	cred.DeviceName = name
	cred.CreatedAt = e.now().UTC()
	cred.LastUsedAt = nil

	result, err := e.addCredential(ctx, userID, &cred)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricWebAuthnRegistered)
	e.emitAudit(ctx, auditEventWebAuthnRegistered, true, userID, MethodWebAuthn, nil, func() map[string]string {
		return map[string]string{"role": string(role), "credential_id": cred.ID}
	})
	cred.PublicKey = nil
	result.Credential = cred
	return result, nil
}

// addCredential commits cred. A secondary credential on a profile without
// webauthn enables the method, with the same backup-code rules as any first
// enable.
func (e *Engine) addCredential(ctx context.Context, userID string, cred *WebAuthnCredential) (*RegistrationResult, error) {
	var (
		codes   []string
		enabled bool
	)
	saved, err := e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		commit := &ProfileCommit{AddCredential: cred}
		codes, enabled = nil, false
		if cred.Role == RoleSecondary && !p.HasMethod(MethodWebAuthn) {
			var err error
			if codes, err = e.seedBackupCodes(ctx, userID, p, commit); err != nil {
				return nil, err
			}
			p.addMethod(MethodWebAuthn)
			enabled = true
		}
		return commit, nil
	})
	if err != nil {
		return nil, err
	}
	if enabled {
		e.methodEnabled(ctx, userID, MethodWebAuthn, codes)
	}
	return &RegistrationResult{
		MethodEnabled:   enabled,
		PreferredMethod: saved.PreferredMethod,
		BackupCodes:     codes,
	}, nil
}

// BeginAuthentication describes the beginauthentication operation and its observable behavior.
//
// BeginAuthentication returns assertion options. A primary request without
// a user starts a discoverable ceremony under an anonymous subject; all
// other requests resolve the user by id or email.
func (e *Engine) BeginAuthentication(ctx context.Context, req AuthenticationRequest) (*ChallengeTicket, error) {
	if err := e.requireCeremony(); err != nil {
		return nil, err
	}
	if _, err := ParseRole(string(req.Role)); err != nil {
		return nil, err
	}
	cctx := req.Context
	if cctx == "" {
		cctx = ContextLogin
	}
	if cctx != ContextLogin && cctx != ContextDisable {
		return nil, ErrInvalidContext
	}

	identity := req.UserID
	switch {
	case identity != "":
	case req.Email != "":
		identity = "email:" + normalizeEmail(req.Email)
	default:
		identity = clientIdentity(ctx)
	}
	if err := e.allowCeremony(ctx, identity, req.UserID); err != nil {
		return nil, err
	}

	if req.Role == RolePrimary && req.UserID == "" && req.Email == "" {
		if cctx != ContextLogin {
			return nil, ErrInvalidContext
		}
		options, state, err := e.ceremony.BeginDiscoverableLogin()
		if err != nil {
			e.logger.Error("webauthn discoverable options failed", zap.Error(err))
			return nil, ErrWebAuthnFailed
		}
		rec, err := e.putChallenge(ctx, challengeSpec{
			subject: anonymousSubjectPrefix + uuid.NewString(),
			kind:    ChallengeWebAuthnAssertion,
			context: ContextLogin,
			role:    RolePrimary,
			state:   state,
			ttl:     e.config.WebAuthn.CeremonyTTL,
		})
		if err != nil {
			return nil, err
		}
		ticket := ticketFor(rec, MethodWebAuthn)
		ticket.Options = options
		return ticket, nil
	}

	user, err := e.resolveUser(ctx, req.UserID, req.Email)
	if err != nil {
		return nil, err
	}
	p, err := e.profile(ctx, user.UserID)
	if err != nil {
		return nil, err
	}
	switch req.Role {
	case RolePrimary:
		if !p.LoginWithWebAuthn {
			return nil, ErrPasswordlessDisabled
		}
	case RoleSecondary:
		if !p.HasMethod(MethodWebAuthn) {
			return nil, ErrMethodNotEnabled
		}
		if cctx == ContextLogin && e.config.StepUp.RequirePrimaryAuth {
			pending, err := e.stepUpPending(ctx, user.UserID)
			if err != nil {
				return nil, err
			}
			if !pending {
				return nil, ErrStepUpNotStarted
			}
		}
	}
	return e.beginAssertion(ctx, user.UserID, req.Role, cctx)
}

// allowCeremony spends one WebAuthnBegin hit for identity.
func (e *Engine) allowCeremony(ctx context.Context, identity, userID string) error {
	return e.allow(ctx, "webauthn_begin", rate.EndpointKey("webauthn_begin", identity), userID, e.config.RateLimit.WebAuthnBegin)
}

// clientIdentity keys anonymous throttles by caller IP. Callers without an
// IP in ctx share one bucket.
func clientIdentity(ctx context.Context) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}

func (e *Engine) beginAssertion(ctx context.Context, userID string, role Role, cctx ChallengeContext) (*ChallengeTicket, error) {
	if err := e.requireCeremony(); err != nil {
		return nil, err
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	wu, err := e.webauthnUser(ctx, user, role)
	if err != nil {
		return nil, err
	}
	if len(wu.Credentials) == 0 {
		if role == RolePrimary {
			return nil, ErrNoPrimaryCredential
		}
		return nil, ErrMethodNotEnabled
	}

	options, state, err := e.ceremony.BeginLogin(wu)
	if err != nil {
		e.logger.Error("webauthn assertion options failed", zap.String("user_id", userID), zap.Error(err))
		return nil, ErrWebAuthnFailed
	}
	rec, err := e.putChallenge(ctx, challengeSpec{
		subject: userID,
		kind:    ChallengeWebAuthnAssertion,
		context: cctx,
		role:    role,
		state:   state,
		ttl:     e.config.WebAuthn.CeremonyTTL,
	})
	if err != nil {
		return nil, err
	}
	ticket := ticketFor(rec, MethodWebAuthn)
	ticket.Options = options
	return ticket, nil
}

// finishAssertion consumes the ceremony for userID and verifies the
// assertion against the user's credentials in role.
func (e *Engine) finishAssertion(ctx context.Context, userID string, role Role, cctx ChallengeContext, ceremonyID string, response json.RawMessage) error {
	if err := e.requireCeremony(); err != nil {
		return err
	}
	rec, err := e.takeCeremony(ctx, ceremonyID, userID, cctx, role)
	if err != nil {
		return err
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return err
	}
	wu, err := e.webauthnUser(ctx, user, role)
	if err != nil {
		return err
	}

	outcome, err := e.ceremony.FinishLogin(wu, rec.State, response)
	if err != nil {
		return e.assertionFailed(ctx, userID, role, err)
	}
	cred := matchCredential(wu.Credentials, outcome.ExternalID)
	if cred == nil {
		return e.assertionFailed(ctx, userID, role, ErrCredentialNotFound)
	}
	return e.advanceSignCount(ctx, cred, outcome)
}

func (e *Engine) assertionFailed(ctx context.Context, userID string, role Role, cause error) error {
	e.metricInc(MetricWebAuthnAssertionFailure)
	e.emitAudit(ctx, auditEventWebAuthnFailed, false, userID, MethodWebAuthn, ErrWebAuthnFailed, func() map[string]string {
		return map[string]string{"phase": "assert", "role": string(role)}
	})
	e.logger.Debug("webauthn assertion rejected", zap.String("user_id", userID), zap.Error(cause))
	return ErrWebAuthnFailed
}

func matchCredential(creds []WebAuthnCredential, externalID []byte) *WebAuthnCredential {
	for i := range creds {
		if bytes.Equal(creds[i].ExternalID, externalID) {
			return &creds[i]
		}
	}
	return nil
}

// advanceSignCount enforces a strictly increasing counter. A pair of zero
// counters passes only for counterless authenticators when allowed. The
// store update is a compare-and-set, so two concurrent assertions carrying
// the same counter cannot both succeed.
func (e *Engine) advanceSignCount(ctx context.Context, cred *WebAuthnCredential, outcome *AssertionOutcome) error {
	stored, next := cred.SignCount, outcome.SignCount
	counterless := stored == 0 && next == 0 && e.config.WebAuthn.AllowCounterlessAuthenticators
	if next <= stored && !counterless {
		return e.cloneDetected(ctx, cred, next)
	}

	ok, err := e.store.TouchCredential(ctx, cred.ID, stored, next, e.now().UTC())
	if err != nil {
		return e.storeErr("touch credential", err)
	}
	if !ok {
		return e.cloneDetected(ctx, cred, next)
	}
	e.metricInc(MetricWebAuthnAssertionSuccess)
	return nil
}

func (e *Engine) cloneDetected(ctx context.Context, cred *WebAuthnCredential, presented uint32) error {
	e.metricInc(MetricWebAuthnCloneDetected)
	e.metricInc(MetricWebAuthnAssertionFailure)
	e.emitAudit(ctx, auditEventWebAuthnCloneDetected, false, cred.UserID, MethodWebAuthn, ErrSignCountReplay, func() map[string]string {
		return map[string]string{
			"credential_id": cred.ID,
			"role":          string(cred.Role),
			"stored":        uitoa(cred.SignCount),
			"presented":     uitoa(presented),
		}
	})
	e.logger.Warn("webauthn sign count did not advance",
		zap.String("user_id", cred.UserID),
		zap.String("credential_id", cred.ID),
		zap.Uint32("stored", cred.SignCount),
		zap.Uint32("presented", presented))
	return ErrSignCountReplay
}

// FinishAuthentication describes the finishauthentication operation and its observable behavior.
//
// FinishAuthentication completes a login-context assertion. A primary
// assertion is a passwordless login; a secondary one completes MFA for a
// step-up started by BeginLogin.
func (e *Engine) FinishAuthentication(ctx context.Context, req AuthenticationFinish) (*LoginResult, error) {
	switch req.Role {
	case RolePrimary:
		return e.PasswordlessLogin(ctx, req.CeremonyID, req.Response, req.RememberMe)
	case RoleSecondary:
		return e.Login(ctx, LoginRequest{
			Email:      req.Email,
			Method:     MethodWebAuthn,
			CeremonyID: req.CeremonyID,
			Response:   req.Response,
			RememberMe: req.RememberMe,
		})
	default:
		return nil, ErrInvalidRole
	}
}

// PasswordlessLogin describes the passwordlesslogin operation and its observable behavior.
//
// PasswordlessLogin verifies a primary assertion and issues a step-up token
// without a password. The owning account must have loginWithWebAuthn set.
// Discoverable ceremonies resolve the account from the credential id and
// user handle in the assertion.
func (e *Engine) PasswordlessLogin(ctx context.Context, ceremonyID string, response json.RawMessage, rememberMe bool) (*LoginResult, error) {
	if err := e.requireCeremony(); err != nil {
		return nil, err
	}
	failKey := rate.FailureKey("passwordless", clientIdentity(ctx))
	failRule := e.config.RateLimit.PasswordlessFailures
	if err := e.checkFailures(ctx, "passwordless", failKey, "", failRule); err != nil {
		return nil, err
	}
	rec, err := e.takeCeremony(ctx, ceremonyID, "", ContextLogin, RolePrimary)
	if err != nil {
		return nil, err
	}

	start := e.now()
	defer e.observeVerify(start)

	var (
		outcome *AssertionOutcome
		owner   *WebAuthnCredential
		userID  string
	)
	if strings.HasPrefix(rec.Subject, anonymousSubjectPrefix) {
		var resolveErr error
		outcome, err = e.ceremony.FinishDiscoverableLogin(rec.State, response, func(externalID, userHandle []byte) (WebAuthnUser, error) {
			wu, cred, err := e.resolveDiscoverable(ctx, externalID, userHandle)
			if err != nil {
				resolveErr = err
				return WebAuthnUser{}, err
			}
			owner = cred
			return wu, nil
		})
		if resolveErr != nil && KindOf(resolveErr) != KindNotFound && KindOf(resolveErr) != KindBusinessRule {
			return nil, resolveErr
		}
		if owner != nil {
			userID = owner.UserID
		}
	} else {
		userID = rec.Subject
		var user UserRecord
		if user, err = e.user(ctx, userID); err != nil {
			return nil, err
		}
		var wu WebAuthnUser
		if wu, err = e.webauthnUser(ctx, user, RolePrimary); err != nil {
			return nil, err
		}
		outcome, err = e.ceremony.FinishLogin(wu, rec.State, response)
		if err == nil {
			if owner = matchCredential(wu.Credentials, outcome.ExternalID); owner == nil {
				err = ErrCredentialNotFound
			}
		}
	}
	if err != nil || owner == nil {
		if err == nil {
			err = ErrCredentialNotFound
		}
		e.recordFailure(ctx, failKey, failRule)
		return nil, e.assertionFailed(ctx, userID, RolePrimary, err)
	}

	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !p.LoginWithWebAuthn {
		return nil, ErrPasswordlessDisabled
	}
	if err := e.advanceSignCount(ctx, owner, outcome); err != nil {
		if errors.Is(err, ErrSignCountReplay) {
			e.recordFailure(ctx, failKey, failRule)
		}
		return nil, err
	}

	result, err := e.completeLogin(ctx, userID, MethodWebAuthn, rememberMe)
	if err != nil {
		return nil, err
	}
	e.emitAudit(ctx, auditEventPasswordlessLogin, true, userID, MethodWebAuthn, nil, func() map[string]string {
		return map[string]string{"credential_id": owner.ID}
	})
	return result, nil
}

// resolveDiscoverable maps a discoverable assertion to its owner. The user
// handle, when present, must name the same account as the credential.
func (e *Engine) resolveDiscoverable(ctx context.Context, externalID, userHandle []byte) (WebAuthnUser, *WebAuthnCredential, error) {
	cred, err := e.store.FindCredentialByExternalID(ctx, RolePrimary, externalID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return WebAuthnUser{}, nil, ErrCredentialNotFound
		}
		return WebAuthnUser{}, nil, e.storeErr("find credential", err)
	}
	if len(userHandle) > 0 && string(userHandle) != cred.UserID {
		return WebAuthnUser{}, nil, ErrCredentialNotFound
	}
	user, err := e.user(ctx, cred.UserID)
	if err != nil {
		return WebAuthnUser{}, nil, err
	}
	wu, err := e.webauthnUser(ctx, user, RolePrimary)
	if err != nil {
		return WebAuthnUser{}, nil, err
	}
	owner := matchCredential(wu.Credentials, externalID)
	if owner == nil {
		return WebAuthnUser{}, nil, ErrCredentialNotFound
	}
	return wu, owner, nil
}

// TransferCredential describes the transfercredential operation and its observable behavior.
//
// TransferCredential copies a credential into the other role with the same
// public key and external id. The source record is kept. Transferring into
// secondary enables webauthn when it is not yet enabled.
func (e *Engine) TransferCredential(ctx context.Context, userID, credentialID string, from, to Role) (*RegistrationResult, error) {
	if _, err := ParseRole(string(from)); err != nil {
		return nil, err
	}
	if _, err := ParseRole(string(to)); err != nil {
		return nil, err
	}
	if from == to {
		return nil, ErrInvalidRole
	}
	if _, err := e.profile(ctx, userID); err != nil {
		return nil, err
	}

	src, err := e.store.GetCredential(ctx, userID, credentialID)
	if err != nil {
		return nil, e.credentialErr(err)
	}
	if src.Role != from {
		return nil, ErrCredentialNotFound
	}
	existing, err := e.store.ListCredentials(ctx, userID, to)
	if err != nil {
		return nil, e.storeErr("list credentials", err)
	}
	if matchCredential(existing, src.ExternalID) != nil {
		return nil, ErrCredentialAlreadyRegistered
	}

	cred := *src
	cred.ID = uuid.NewString()
	cred.Role = to
	cred.CreatedAt = e.now().UTC()
	cred.LastUsedAt = nil

	result, err := e.addCredential(ctx, userID, &cred)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricCredentialTransferred)
	e.emitAudit(ctx, auditEventCredentialTransferred, true, userID, MethodWebAuthn, nil, func() map[string]string {
		return map[string]string{"from": string(from), "to": string(to), "credential_id": cred.ID}
	})
	cred.PublicKey = nil
	result.Credential = cred
	return result, nil
}

// DeleteCredential describes the deletecredential operation and its observable behavior.
//
// DeleteCredential removes one credential. Removing the last primary
// credential turns passwordless login off; removing the last secondary one
// disables webauthn and reassigns the preferred method.
func (e *Engine) DeleteCredential(ctx context.Context, userID string, role Role, credentialID string) (*Status, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}
	var disabled bool
	_, err := e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		creds, err := e.store.ListCredentials(ctx, userID, role)
		if err != nil {
			return nil, e.storeErr("list credentials", err)
		}
		found := false
		for _, c := range creds {
			if c.ID == credentialID {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrCredentialNotFound
		}

		disabled = false
		if len(creds) == 1 {
			switch role {
			case RolePrimary:
				p.LoginWithWebAuthn = false
			case RoleSecondary:
				if p.HasMethod(MethodWebAuthn) {
					p.removeMethod(MethodWebAuthn)
					disabled = true
				}
			}
		}
		return &ProfileCommit{DeleteCredentialIDs: []string{credentialID}}, nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricCredentialDeleted)
	e.emitAudit(ctx, auditEventCredentialDeleted, true, userID, MethodWebAuthn, nil, func() map[string]string {
		return map[string]string{"role": string(role), "credential_id": credentialID}
	})
	if disabled {
		e.metricInc(MetricMethodDisabled)
		e.emitAudit(ctx, auditEventMethodDisabled, true, userID, MethodWebAuthn, nil, func() map[string]string {
			return map[string]string{"reason": "last_credential_deleted"}
		})
	}
	return e.Status(ctx, userID)
}

// RenameCredential sets a credential's display name.
func (e *Engine) RenameCredential(ctx context.Context, userID, credentialID, name string) error {
	clean, err := cleanDeviceName(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return ErrInvalidInput
	}
	if _, err := e.profile(ctx, userID); err != nil {
		return err
	}
	if err := e.store.RenameCredential(ctx, userID, credentialID, clean); err != nil {
		return e.credentialErr(err)
	}
	e.emitAudit(ctx, auditEventCredentialRenamed, true, userID, MethodWebAuthn, nil, func() map[string]string {
		return map[string]string{"credential_id": credentialID}
	})
	return nil
}

func (e *Engine) credentialErr(err error) error {
	if errors.Is(err, ErrCredentialNotFound) {
		return ErrCredentialNotFound
	}
	return e.storeErr("credential", err)
}

func cleanDeviceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultDeviceName, nil
	}
	if utf8.RuneCountInString(name) > maxDeviceNameRunes {
		return "", ErrInvalidInput
	}
	return name, nil
}

func uitoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
