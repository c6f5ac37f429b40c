package internaldefs

import (
	goMFA "github.com/MrEthical07/goMFA"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goMFA.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: goMFA.MetricChallengeIssued, Name: "gomfa_challenge_issued_total", Help: "Challenges issued."},
	{ID: goMFA.MetricChallengeVerified, Name: "gomfa_challenge_verified_total", Help: "Challenges verified successfully."},
	{ID: goMFA.MetricChallengeInvalid, Name: "gomfa_challenge_invalid_total", Help: "Challenge verifications with a wrong code."},
	{ID: goMFA.MetricChallengeExpired, Name: "gomfa_challenge_expired_total", Help: "Challenge verifications after expiry."},
	{ID: goMFA.MetricChallengeExhausted, Name: "gomfa_challenge_exhausted_total", Help: "Challenges invalidated by the attempt cap."},
	{ID: goMFA.MetricChallengeResent, Name: "gomfa_challenge_resent_total", Help: "Email codes resent."},
	{ID: goMFA.MetricMethodEnabled, Name: "gomfa_method_enabled_total", Help: "Second factors enabled."},
	{ID: goMFA.MetricMethodDisabled, Name: "gomfa_method_disabled_total", Help: "Second factors disabled."},
	{ID: goMFA.MetricDisableAll, Name: "gomfa_disable_all_total", Help: "Disable-all operations."},
	{ID: goMFA.MetricPreferredChanged, Name: "gomfa_preferred_changed_total", Help: "Preferred method changes."},
	{ID: goMFA.MetricLoginSuccess, Name: "gomfa_login_success_total", Help: "Completed step-up logins."},
	{ID: goMFA.MetricLoginFailure, Name: "gomfa_login_failure_total", Help: "Failed primary or step-up logins."},
	{ID: goMFA.MetricLoginRateLimited, Name: "gomfa_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: goMFA.MetricTOTPReplay, Name: "gomfa_totp_replay_total", Help: "Rejected reuse of an authenticator-app code."},
	{ID: goMFA.MetricWebAuthnRegistered, Name: "gomfa_webauthn_registered_total", Help: "WebAuthn credentials registered."},
	{ID: goMFA.MetricWebAuthnAssertionSuccess, Name: "gomfa_webauthn_assertion_success_total", Help: "Successful WebAuthn assertions."},
	{ID: goMFA.MetricWebAuthnAssertionFailure, Name: "gomfa_webauthn_assertion_failure_total", Help: "Failed WebAuthn assertions."},
	{ID: goMFA.MetricWebAuthnCloneDetected, Name: "gomfa_webauthn_clone_detected_total", Help: "Assertions rejected for a non-increasing sign count."},
	{ID: goMFA.MetricCredentialTransferred, Name: "gomfa_credential_transferred_total", Help: "Credentials copied between roles."},
	{ID: goMFA.MetricCredentialDeleted, Name: "gomfa_credential_deleted_total", Help: "Credentials deleted."},
	{ID: goMFA.MetricBackupCodesGenerated, Name: "gomfa_backup_codes_generated_total", Help: "Backup code sets generated."},
	{ID: goMFA.MetricBackupCodeUsed, Name: "gomfa_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: goMFA.MetricBackupCodeFailed, Name: "gomfa_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: goMFA.MetricSecurityAnswersSet, Name: "gomfa_security_answers_set_total", Help: "Security answer sets saved."},
	{ID: goMFA.MetricSecurityAnswersFailed, Name: "gomfa_security_answers_failed_total", Help: "Rejected security answer submissions."},
	{ID: goMFA.MetricRateLimitHit, Name: "gomfa_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: goMFA.MetricNotificationDropped, Name: "gomfa_notification_dropped_total", Help: "Code notifications dropped by a full queue."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: goMFA.MetricVerifyLatency, Name: "gomfa_verify_latency_seconds", Help: "Second-factor verification latency."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's fixed
// latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds metric-name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

const (
	AuditDroppedName = "gomfa_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// NormalizeBuckets copies raw into a fixed array, padding missing buckets
// with zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form both
// exposition formats use.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
