package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/stretchr/testify/require"
)

func TestGetProfileDefaults(t *testing.T) {
	s := New()
	p, err := s.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", p.UserID)
	require.Equal(t, goMFA.MethodNone, p.PreferredMethod)
	require.Zero(t, p.Version)
	require.Empty(t, p.EnabledMethods)
}

func TestCommitProfileVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := goMFA.NewProfile("u1")
	p.EnabledMethods = []goMFA.Method{goMFA.MethodEmail}
	p.PreferredMethod = goMFA.MethodEmail

	saved, err := s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: p})
	require.NoError(t, err)
	require.Equal(t, uint64(1), saved.Version)

	_, err = s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: p})
	require.ErrorIs(t, err, goMFA.ErrVersionConflict)

	got, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []goMFA.Method{goMFA.MethodEmail}, got.EnabledMethods)
}

func TestConcurrentCommitsOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: goMFA.NewProfile("u1")})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestCommitRejectsDuplicateCredentialPerRole(t *testing.T) {
	ctx := context.Background()
	s := New()

	cred := &goMFA.WebAuthnCredential{ID: "c1", UserID: "u1", Role: goMFA.RoleSecondary, ExternalID: []byte("ext")}
	_, err := s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: goMFA.NewProfile("u1"), AddCredential: cred})
	require.NoError(t, err)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	dup := &goMFA.WebAuthnCredential{ID: "c2", UserID: "u1", Role: goMFA.RoleSecondary, ExternalID: []byte("ext")}
	_, err = s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: p, AddCredential: dup})
	require.ErrorIs(t, err, goMFA.ErrCredentialAlreadyRegistered)

	// The same authenticator may live in the other role.
	primary := &goMFA.WebAuthnCredential{ID: "c3", UserID: "u1", Role: goMFA.RolePrimary, ExternalID: []byte("ext")}
	_, err = s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: p, AddCredential: primary})
	require.NoError(t, err)

	all, err := s.ListCredentials(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTouchCredentialCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	cred := &goMFA.WebAuthnCredential{ID: "c1", UserID: "u1", Role: goMFA.RolePrimary, ExternalID: []byte("ext")}
	_, err := s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: goMFA.NewProfile("u1"), AddCredential: cred})
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	ok, err := s.TouchCredential(ctx, "c1", 0, 5, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TouchCredential(ctx, "c1", 0, 6, now)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.GetCredential(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, uint32(5), got.SignCount)
	require.NotNil(t, got.LastUsedAt)
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	hash := [32]byte{1, 2, 3}
	_, err := s.CommitProfile(ctx, goMFA.ProfileCommit{
		Profile:            goMFA.NewProfile("u1"),
		ReplaceBackupCodes: []goMFA.BackupCode{{Hash: hash}},
	})
	require.NoError(t, err)

	res, err := s.ConsumeBackupCode(ctx, "u1", hash, time.Now())
	require.NoError(t, err)
	require.Equal(t, goMFA.ConsumeOK, res)

	res, err = s.ConsumeBackupCode(ctx, "u1", hash, time.Now())
	require.NoError(t, err)
	require.Equal(t, goMFA.ConsumeAlreadyUsed, res)

	res, err = s.ConsumeBackupCode(ctx, "u1", [32]byte{9}, time.Now())
	require.NoError(t, err)
	require.Equal(t, goMFA.ConsumeUnknown, res)
}

func TestAppSecretLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SavePendingAppSecret(ctx, "u1", []byte("sealed"), time.Now()))
	secret, err := s.GetAppSecret(ctx, "u1")
	require.NoError(t, err)
	require.False(t, secret.Enabled)

	_, err = s.CommitProfile(ctx, goMFA.ProfileCommit{Profile: goMFA.NewProfile("u1"), EnableAppSecret: true})
	require.NoError(t, err)
	require.ErrorIs(t, s.SavePendingAppSecret(ctx, "u1", []byte("other"), time.Now()), goMFA.ErrMethodAlreadyEnabled)

	ok, err := s.AdvanceAppCounter(ctx, "u1", 100)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.AdvanceAppCounter(ctx, "u1", 100)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUserDirectoryCaseInsensitiveEmail(t *testing.T) {
	s := New()
	s.PutUser(goMFA.UserRecord{UserID: "u1", Email: "Alice@Example.com"})

	u, err := s.GetUserByEmail(context.Background(), "alice@example.COM")
	require.NoError(t, err)
	require.Equal(t, "u1", u.UserID)

	_, err = s.GetUserByID(context.Background(), "missing")
	require.ErrorIs(t, err, goMFA.ErrUserNotFound)
}
