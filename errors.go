package goMFA

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// Validation: malformed input.
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidMethod          = errors.New("invalid mfa method")
	ErrInvalidContext         = errors.New("invalid challenge context")
	ErrInvalidRole            = errors.New("invalid credential role")
	ErrSecurityAnswersInvalid = errors.New("security answers invalid")

	// Business rules: surfaced verbatim for UI feedback.
	ErrMethodAlreadyEnabled        = errors.New("mfa method already enabled")
	ErrMethodNotEnabled            = errors.New("mfa method not enabled")
	ErrInvalidCode                 = errors.New("invalid code")
	ErrChallengeExpired            = errors.New("challenge expired")
	ErrAttemptsExhausted           = errors.New("challenge attempts exhausted")
	ErrChallengeNotFound           = errors.New("challenge not found")
	ErrEnrollmentSuperseded        = errors.New("enrollment superseded by another method")
	ErrBackupCodeAlreadyUsed       = errors.New("backup code already used")
	ErrBackupCodesExhausted        = errors.New("backup codes exhausted")
	ErrVerificationRequired        = errors.New("verification required")
	ErrProofRejected               = errors.New("verification rejected")
	ErrCredentialAlreadyRegistered = errors.New("credential already registered")
	ErrSignCountReplay             = errors.New("authenticator sign count did not advance")
	ErrNoPrimaryCredential         = errors.New("no primary webauthn credential")
	ErrPasswordlessDisabled        = errors.New("passwordless login disabled")
	ErrWebAuthnFailed              = errors.New("webauthn verification failed")
	ErrSecurityQuestionsNotSet     = errors.New("security questions not set")

	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrStepUpNotStarted   = errors.New("mfa step-up not started")
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailUnverified = errors.New("email not verified")
	ErrFeatureDisabled = errors.New("feature disabled")

	ErrUserNotFound       = errors.New("user not found")
	ErrCredentialNotFound = errors.New("credential not found")

	ErrRateLimited = errors.New("rate limited")

	ErrChallengeUnavailable = errors.New("challenge backend unavailable")
	ErrStoreUnavailable     = errors.New("mfa store unavailable")
	ErrEngineNotReady       = errors.New("engine not initialized")
	// ErrVersionConflict is returned by stores when a profile commit carries
	// a stale version. The engine retries internally.
	ErrVersionConflict = errors.New("profile version conflict")
)

// RateLimitError carries the time after which the caller may retry. It
// unwraps to [ErrRateLimited].
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s retry after %s", ErrRateLimited, e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter extracts the retry delay from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// ErrorKind classifies errors for transport mapping.
type ErrorKind uint8

const (
	KindServer ErrorKind = iota
	KindValidation
	KindBusinessRule
	KindUnauthenticated
	KindPrecondition
	KindNotFound
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "server"
	}
}

// KindOf maps err to its taxonomy kind. Unknown errors are [KindServer].
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindServer
	}
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrInvalidContext),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, ErrSecurityAnswersInvalid):
		return KindValidation
	case errors.Is(err, ErrMethodAlreadyEnabled),
		errors.Is(err, ErrMethodNotEnabled),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrChallengeExpired),
		errors.Is(err, ErrAttemptsExhausted),
		errors.Is(err, ErrChallengeNotFound),
		errors.Is(err, ErrEnrollmentSuperseded),
		errors.Is(err, ErrBackupCodeAlreadyUsed),
		errors.Is(err, ErrBackupCodesExhausted),
		errors.Is(err, ErrVerificationRequired),
		errors.Is(err, ErrProofRejected),
		errors.Is(err, ErrCredentialAlreadyRegistered),
		errors.Is(err, ErrSignCountReplay),
		errors.Is(err, ErrNoPrimaryCredential),
		errors.Is(err, ErrPasswordlessDisabled),
		errors.Is(err, ErrWebAuthnFailed),
		errors.Is(err, ErrSecurityQuestionsNotSet):
		return KindBusinessRule
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrStepUpNotStarted),
		errors.Is(err, ErrInvalidCredentials):
		return KindUnauthenticated
	case errors.Is(err, ErrEmailUnverified),
		errors.Is(err, ErrFeatureDisabled):
		return KindPrecondition
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrCredentialNotFound):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindServer
	}
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation, KindBusinessRule:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPrecondition:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// IsCodeFailure reports errors caused by a wrong, stale or spent code. The
// login endpoint answers these with 401 instead of 400.
func IsCodeFailure(err error) bool {
	return errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrChallengeExpired) ||
		errors.Is(err, ErrAttemptsExhausted) ||
		errors.Is(err, ErrChallengeNotFound) ||
		errors.Is(err, ErrBackupCodeAlreadyUsed) ||
		errors.Is(err, ErrProofRejected) ||
		errors.Is(err, ErrWebAuthnFailed) ||
		errors.Is(err, ErrSignCountReplay)
}

// ErrorCode returns a stable machine-readable code for err. It is used in
// API envelopes and audit events; server errors collapse to
// "internal_error".
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, "invalid_input"},
	{ErrInvalidMethod, "invalid_method"},
	{ErrInvalidContext, "invalid_context"},
	{ErrInvalidRole, "invalid_role"},
	{ErrSecurityAnswersInvalid, "security_answers_invalid"},
	{ErrMethodAlreadyEnabled, "method_already_enabled"},
	{ErrMethodNotEnabled, "method_not_enabled"},
	{ErrInvalidCode, "invalid_code"},
	{ErrChallengeExpired, "challenge_expired"},
	{ErrAttemptsExhausted, "attempts_exhausted"},
	{ErrChallengeNotFound, "challenge_not_found"},
	{ErrEnrollmentSuperseded, "enrollment_superseded"},
	{ErrBackupCodeAlreadyUsed, "backup_code_already_used"},
	{ErrBackupCodesExhausted, "backup_codes_exhausted"},
	{ErrVerificationRequired, "verification_required"},
	{ErrProofRejected, "verification_rejected"},
	{ErrCredentialAlreadyRegistered, "credential_already_registered"},
	{ErrSignCountReplay, "sign_count_replay"},
	{ErrNoPrimaryCredential, "no_primary_credential"},
	{ErrPasswordlessDisabled, "passwordless_disabled"},
	{ErrWebAuthnFailed, "webauthn_failed"},
	{ErrSecurityQuestionsNotSet, "security_questions_not_set"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrStepUpNotStarted, "step_up_not_started"},
	{ErrInvalidCredentials, "invalid_credentials"},
	{ErrEmailUnverified, "email_unverified"},
	{ErrFeatureDisabled, "feature_disabled"},
	{ErrUserNotFound, "user_not_found"},
	{ErrCredentialNotFound, "credential_not_found"},
	{ErrRateLimited, "rate_limited"},
}
