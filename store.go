package goMFA

import (
	"context"
	"time"
)

// ProfileStore persists MFA profiles and applies commits atomically.
type ProfileStore interface {
	// GetProfile returns the stored profile or a fresh default one with
	// Version 0 when none exists.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	// CommitProfile applies commit when the stored version equals
	// commit.Profile.Version and returns the saved profile with the version
	// incremented. Stale commits fail with ErrVersionConflict; a credential
	// that already exists for (user, role, externalId) fails with
	// ErrCredentialAlreadyRegistered.
	CommitProfile(ctx context.Context, commit ProfileCommit) (*Profile, error)
}

// AppSecretStore persists the authenticator-app factor.
type AppSecretStore interface {
	// GetAppSecret returns nil, nil when no secret exists.
	GetAppSecret(ctx context.Context, userID string) (*AppSecret, error)
	// SavePendingAppSecret stores a disabled secret, replacing any pending
	// one. It never overwrites an enabled secret.
	SavePendingAppSecret(ctx context.Context, userID string, sealed []byte, at time.Time) error
	// AdvanceAppCounter records counter as used when it is greater than the
	// last accepted one and reports whether it was.
	AdvanceAppCounter(ctx context.Context, userID string, counter int64) (bool, error)
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	// ListCredentials lists a user's credentials in role, or all of them
	// when role is empty.
	ListCredentials(ctx context.Context, userID string, role Role) ([]WebAuthnCredential, error)
	GetCredential(ctx context.Context, userID, credentialID string) (*WebAuthnCredential, error)
	// FindCredentialByExternalID resolves a discoverable assertion to its
	// owner. It returns ErrCredentialNotFound when absent.
	FindCredentialByExternalID(ctx context.Context, role Role, externalID []byte) (*WebAuthnCredential, error)
	// TouchCredential sets the sign count to next and stamps lastUsedAt
	// only while the stored count still equals expected.
	TouchCredential(ctx context.Context, credentialID string, expected, next uint32, usedAt time.Time) (bool, error)
	RenameCredential(ctx context.Context, userID, credentialID, name string) error
}

// BackupCodeStore persists hashed recovery codes.
type BackupCodeStore interface {
	ListBackupCodes(ctx context.Context, userID string) ([]BackupCode, error)
	// ConsumeBackupCode marks the code used if it exists and is unused.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, at time.Time) (ConsumeResult, error)
}

// SecurityQuestionStore holds the shared catalog and per-user answers.
type SecurityQuestionStore interface {
	ListSecurityQuestions(ctx context.Context) ([]SecurityQuestion, error)
	GetSecurityAnswers(ctx context.Context, userID string) ([]SecurityAnswer, error)
	ReplaceSecurityAnswers(ctx context.Context, userID string, answers []SecurityAnswer) error
}

// Store is the full persistence contract required by the [Engine].
type Store interface {
	ProfileStore
	AppSecretStore
	CredentialStore
	BackupCodeStore
	SecurityQuestionStore
}

// UserDirectory resolves the primary account. It returns ErrUserNotFound
// for unknown users.
type UserDirectory interface {
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (UserRecord, error)
}

// Notifier delivers one-time codes out of band. It is invoked from the
// notification worker pool, never on the request path.
type Notifier interface {
	SendCode(ctx context.Context, n CodeNotification) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, n CodeNotification) error

func (f NotifierFunc) SendCode(ctx context.Context, n CodeNotification) error {
	return f(ctx, n)
}
