package goMFA

import (
	"encoding/json"
	"strings"
	"time"
)

// Method identifies a second factor.
type Method string

const (
	MethodNone             Method = "none"
	MethodEmail            Method = "email"
	MethodApp              Method = "app"
	MethodWebAuthn         Method = "webauthn"
	MethodBackupCode       Method = "backup_code"
	MethodSecurityQuestion Method = "security_question"
)

// enrollableOrder is the canonical order of enabledMethods.
var enrollableOrder = []Method{MethodEmail, MethodApp, MethodWebAuthn}

// preferredPriority decides the replacement when the preferred method is
// removed.
var preferredPriority = []Method{MethodApp, MethodWebAuthn, MethodEmail}

// ParseMethod parses a wire method name. The empty string is rejected.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodNone, MethodEmail, MethodApp, MethodWebAuthn, MethodBackupCode, MethodSecurityQuestion:
		return m, nil
	}
	return "", ErrInvalidMethod
}

// Enrollable reports whether m can appear in a profile's enabled set.
func (m Method) Enrollable() bool {
	return m == MethodEmail || m == MethodApp || m == MethodWebAuthn
}

// Role scopes a WebAuthn credential.
type Role string

const (
	// RolePrimary credentials sign in without a password.
	RolePrimary Role = "primary"
	// RoleSecondary credentials act as a second factor.
	RoleSecondary Role = "secondary"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RolePrimary, RoleSecondary:
		return r, nil
	}
	return "", ErrInvalidRole
}

// ChallengeContext is the flow a challenge belongs to. At most one challenge
// is outstanding per (subject, context).
type ChallengeContext string

const (
	ContextLogin    ChallengeContext = "login"
	ContextConfig   ChallengeContext = "config"
	ContextDisable  ChallengeContext = "disable"
	ContextRegister ChallengeContext = "register"
)

func ParseChallengeContext(s string) (ChallengeContext, error) {
	switch c := ChallengeContext(strings.ToLower(strings.TrimSpace(s))); c {
	case ContextLogin, ContextConfig, ContextDisable, ContextRegister:
		return c, nil
	}
	return "", ErrInvalidContext
}

// ChallengeKind is persisted in the challenge record header.
type ChallengeKind uint8

const (
	ChallengeEmailOTP ChallengeKind = iota + 1
	ChallengeAppTOTP
	ChallengeWebAuthnAssertion
	ChallengeBackupCode
	ChallengeSecurityQuestion
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeEmailOTP:
		return "email_otp"
	case ChallengeAppTOTP:
		return "app_totp"
	case ChallengeWebAuthnAssertion:
		return "webauthn_assertion"
	case ChallengeBackupCode:
		return "backup_code"
	case ChallengeSecurityQuestion:
		return "security_question"
	default:
		return "unknown"
	}
}

// Profile is the per-user MFA state. It is created lazily with every method
// disabled and is never hard-deleted.
type Profile struct {
	UserID            string
	EnabledMethods    []Method
	PreferredMethod   Method
	LoginWithWebAuthn bool
	Version           uint64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewProfile returns the default profile for userID.
func NewProfile(userID string) *Profile {
	return &Profile{
		UserID:          userID,
		PreferredMethod: MethodNone,
	}
}

func (p *Profile) HasMethod(m Method) bool {
	for _, have := range p.EnabledMethods {
		if have == m {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.EnabledMethods = append([]Method(nil), p.EnabledMethods...)
	return &out
}

func (p *Profile) addMethod(m Method) {
	if !p.HasMethod(m) {
		p.EnabledMethods = append(p.EnabledMethods, m)
	}
	p.normalize()
}

func (p *Profile) removeMethod(m Method) {
	out := p.EnabledMethods[:0]
	for _, have := range p.EnabledMethods {
		if have != m {
			out = append(out, have)
		}
	}
	p.EnabledMethods = out
	p.normalize()
}

// normalize restores canonical order and the preferred-method invariant:
// none iff nothing is enabled, otherwise a member of the enabled set.
func (p *Profile) normalize() {
	ordered := make([]Method, 0, len(enrollableOrder))
	for _, m := range enrollableOrder {
		if p.HasMethod(m) {
			ordered = append(ordered, m)
		}
	}
	p.EnabledMethods = ordered

	if len(ordered) == 0 {
		p.PreferredMethod = MethodNone
		return
	}
	if p.PreferredMethod != MethodNone && p.HasMethod(p.PreferredMethod) {
		return
	}
	for _, m := range preferredPriority {
		if p.HasMethod(m) {
			p.PreferredMethod = m
			return
		}
	}
}

// EnrollmentState is derived per request from the persisted factor and any
// outstanding challenge.
type EnrollmentState string

const (
	StateUnconfigured EnrollmentState = "unconfigured"
	StateConfiguring  EnrollmentState = "configuring"
	StateVerifying    EnrollmentState = "verifying"
	StateEnabled      EnrollmentState = "enabled"
)

// AppSecret is the persisted authenticator-app factor. Sealed holds the
// secretbox ciphertext of the raw TOTP key.
type AppSecret struct {
	Sealed      []byte
	Enabled     bool
	LastCounter int64
	CreatedAt   time.Time
}

// WebAuthnCredential is a role-scoped public-key credential. The same
// authenticator may be registered once per role.
type WebAuthnCredential struct {
	ID         string     `json:"id"`
	UserID     string     `json:"-"`
	Role       Role       `json:"role"`
	ExternalID []byte     `json:"externalId"`
	PublicKey  []byte     `json:"-"`
	SignCount  uint32     `json:"signCount"`
	AAGUID     []byte     `json:"aaguid,omitempty"`
	Transports []string   `json:"transports,omitempty"`
	DeviceName string     `json:"deviceName"`
	DeviceType string     `json:"deviceType,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// BackupCode is one hashed recovery code.
type BackupCode struct {
	Hash      [32]byte
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// ConsumeResult is the outcome of marking a backup code used.
type ConsumeResult uint8

const (
	ConsumeUnknown ConsumeResult = iota
	ConsumeOK
	ConsumeAlreadyUsed
)

type SecurityQuestion struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

type SecurityAnswer struct {
	QuestionID int
	AnswerHash string
}

// AnswerInput is a plaintext answer submitted by the user.
type AnswerInput struct {
	QuestionID int    `json:"questionId"`
	Answer     string `json:"answer"`
}

// ProfileCommit is the unit of atomic change applied by a [ProfileStore].
// Profile.Version carries the expected current version; stores reject a
// stale commit with ErrVersionConflict.
type ProfileCommit struct {
	Profile *Profile

	EnableAppSecret bool
	DeleteAppSecret bool

	// ReplaceBackupCodes replaces the whole set when non-nil.
	ReplaceBackupCodes []BackupCode
	DeleteBackupCodes  bool

	AddCredential           *WebAuthnCredential
	DeleteCredentialIDs     []string
	DeleteCredentialsByRole Role
}

// ProofKind names the verification accepted by disable operations.
type ProofKind string

const (
	ProofPassword          ProofKind = "password"
	ProofOTP               ProofKind = "otp"
	ProofBackupCode        ProofKind = "backup_code"
	ProofWebAuthn          ProofKind = "webauthn"
	ProofSecurityQuestions ProofKind = "security_questions"
)

// Proof is any-one verification for sensitive mutations. Value carries a
// password, an OTP or a backup code; WebAuthn proofs carry CeremonyID and
// Response; security-question proofs carry Answers.
type Proof struct {
	Kind       ProofKind       `json:"method"`
	Value      string          `json:"value,omitempty"`
	CeremonyID string          `json:"ceremonyId,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Answers    []AnswerInput   `json:"answers,omitempty"`
}

// UserRecord is the subset of the primary account consumed by MFA.
type UserRecord struct {
	UserID        string
	Email         string
	DisplayName   string
	EmailVerified bool
	PasswordHash  string
}

// CodeNotification is handed to the [Notifier] after an email challenge is
// persisted.
type CodeNotification struct {
	UserID    string
	Email     string
	Context   ChallengeContext
	Code      string
	ExpiresAt time.Time
}
