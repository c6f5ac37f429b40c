// Package memory provides an in-process goMFA.Store and UserDirectory.
//
// It is intended for tests and single-node demos. Every method is guarded
// by one mutex, which also makes profile commits atomic.
package memory

import (
	"bytes"
	"context"
	"crypto/subtle"
	"sort"
	"strings"
	"sync"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/google/uuid"
)

// DefaultQuestions is the catalog seeded by [New].
var DefaultQuestions = []goMFA.SecurityQuestion{
	{ID: 1, Text: "What was the name of your first pet?"},
	{ID: 2, Text: "In what city were you born?"},
	{ID: 3, Text: "What was the make of your first car?"},
	{ID: 4, Text: "What is the name of the street you grew up on?"},
	{ID: 5, Text: "What was your childhood nickname?"},
}

// Store keeps all MFA state in maps.
type Store struct {
	mu sync.Mutex

	profiles    map[string]goMFA.Profile
	appSecrets  map[string]goMFA.AppSecret
	credentials map[string]goMFA.WebAuthnCredential
	backupCodes map[string][]goMFA.BackupCode
	answers     map[string][]goMFA.SecurityAnswer
	questions   []goMFA.SecurityQuestion

	users map[string]goMFA.UserRecord
}

var (
	_ goMFA.Store         = (*Store)(nil)
	_ goMFA.UserDirectory = (*Store)(nil)
)

// New returns an empty store seeded with [DefaultQuestions].
func New() *Store {
	return &Store{
		profiles:    make(map[string]goMFA.Profile),
		appSecrets:  make(map[string]goMFA.AppSecret),
		credentials: make(map[string]goMFA.WebAuthnCredential),
		backupCodes: make(map[string][]goMFA.BackupCode),
		answers:     make(map[string][]goMFA.SecurityAnswer),
		questions:   append([]goMFA.SecurityQuestion(nil), DefaultQuestions...),
		users:       make(map[string]goMFA.UserRecord),
	}
}

// PutUser adds or replaces a directory entry. Emails are matched
// case-insensitively.
func (s *Store) PutUser(u goMFA.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	s.users[u.UserID] = u
}

func (s *Store) GetUserByID(_ context.Context, userID string) (goMFA.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return goMFA.UserRecord{}, goMFA.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (goMFA.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return goMFA.UserRecord{}, goMFA.ErrUserNotFound
}

func (s *Store) GetProfile(_ context.Context, userID string) (*goMFA.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return goMFA.NewProfile(userID), nil
	}
	return p.Clone(), nil
}

// CommitProfile applies every part of commit or none of it.
func (s *Store) CommitProfile(_ context.Context, commit goMFA.ProfileCommit) (*goMFA.Profile, error) {
	if commit.Profile == nil {
		return nil, goMFA.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	userID := commit.Profile.UserID
	current := s.profiles[userID]
	if current.Version != commit.Profile.Version {
		return nil, goMFA.ErrVersionConflict
	}

	if c := commit.AddCredential; c != nil {
		for _, have := range s.credentials {
			if have.UserID == c.UserID && have.Role == c.Role && bytes.Equal(have.ExternalID, c.ExternalID) {
				return nil, goMFA.ErrCredentialAlreadyRegistered
			}
		}
	}

	next := commit.Profile.Clone()
	next.Version = current.Version + 1
	s.profiles[userID] = *next

	if commit.EnableAppSecret {
		if secret, ok := s.appSecrets[userID]; ok {
			secret.Enabled = true
			s.appSecrets[userID] = secret
		}
	}
	if commit.DeleteAppSecret {
		delete(s.appSecrets, userID)
	}
	if commit.DeleteBackupCodes {
		delete(s.backupCodes, userID)
	}
	if commit.ReplaceBackupCodes != nil {
		s.backupCodes[userID] = append([]goMFA.BackupCode(nil), commit.ReplaceBackupCodes...)
	}
	for _, id := range commit.DeleteCredentialIDs {
		if c, ok := s.credentials[id]; ok && c.UserID == userID {
			delete(s.credentials, id)
		}
	}
	if role := commit.DeleteCredentialsByRole; role != "" {
		for id, c := range s.credentials {
			if c.UserID == userID && c.Role == role {
				delete(s.credentials, id)
			}
		}
	}
	if c := commit.AddCredential; c != nil {
		stored := cloneCredential(*c)
		if stored.ID == "" {
			stored.ID = uuid.NewString()
		}
		s.credentials[stored.ID] = stored
	}

	return next.Clone(), nil
}

func (s *Store) GetAppSecret(_ context.Context, userID string) (*goMFA.AppSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.appSecrets[userID]
	if !ok {
		return nil, nil
	}
	secret.Sealed = append([]byte(nil), secret.Sealed...)
	return &secret, nil
}

func (s *Store) SavePendingAppSecret(_ context.Context, userID string, sealed []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.appSecrets[userID]; ok && existing.Enabled {
		return goMFA.ErrMethodAlreadyEnabled
	}
	s.appSecrets[userID] = goMFA.AppSecret{
		Sealed:      append([]byte(nil), sealed...),
		LastCounter: -1,
		CreatedAt:   at,
	}
	return nil
}

func (s *Store) AdvanceAppCounter(_ context.Context, userID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.appSecrets[userID]
	if !ok {
		return false, nil
	}
	if counter <= secret.LastCounter {
		return false, nil
	}
	secret.LastCounter = counter
	s.appSecrets[userID] = secret
	return true, nil
}

func (s *Store) ListCredentials(_ context.Context, userID string, role goMFA.Role) ([]goMFA.WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]goMFA.WebAuthnCredential, 0)
	for _, c := range s.credentials {
		if c.UserID != userID || (role != "" && c.Role != role) {
			continue
		}
		out = append(out, cloneCredential(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetCredential(_ context.Context, userID, credentialID string) (*goMFA.WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok || c.UserID != userID {
		return nil, goMFA.ErrCredentialNotFound
	}
	out := cloneCredential(c)
	return &out, nil
}

func (s *Store) FindCredentialByExternalID(_ context.Context, role goMFA.Role, externalID []byte) (*goMFA.WebAuthnCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.credentials {
		if c.Role == role && bytes.Equal(c.ExternalID, externalID) {
			out := cloneCredential(c)
			return &out, nil
		}
	}
	return nil, goMFA.ErrCredentialNotFound
}

func (s *Store) TouchCredential(_ context.Context, credentialID string, expected, next uint32, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok || c.SignCount != expected {
		return false, nil
	}
	c.SignCount = next
	c.LastUsedAt = &usedAt
	s.credentials[credentialID] = c
	return true, nil
}

func (s *Store) RenameCredential(_ context.Context, userID, credentialID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok || c.UserID != userID {
		return goMFA.ErrCredentialNotFound
	}
	c.DeviceName = name
	s.credentials[credentialID] = c
	return nil
}

func (s *Store) ListBackupCodes(_ context.Context, userID string) ([]goMFA.BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]goMFA.BackupCode(nil), s.backupCodes[userID]...), nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte, at time.Time) (goMFA.ConsumeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backupCodes[userID]
	for i := range codes {
		if subtle.ConstantTimeCompare(codes[i].Hash[:], hash[:]) != 1 {
			continue
		}
		if codes[i].Used {
			return goMFA.ConsumeAlreadyUsed, nil
		}
		codes[i].Used = true
		usedAt := at
		codes[i].UsedAt = &usedAt
		return goMFA.ConsumeOK, nil
	}
	return goMFA.ConsumeUnknown, nil
}

func (s *Store) ListSecurityQuestions(context.Context) ([]goMFA.SecurityQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]goMFA.SecurityQuestion(nil), s.questions...), nil
}

func (s *Store) GetSecurityAnswers(_ context.Context, userID string) ([]goMFA.SecurityAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]goMFA.SecurityAnswer(nil), s.answers[userID]...), nil
}

func (s *Store) ReplaceSecurityAnswers(_ context.Context, userID string, answers []goMFA.SecurityAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[userID] = append([]goMFA.SecurityAnswer(nil), answers...)
	return nil
}

func cloneCredential(c goMFA.WebAuthnCredential) goMFA.WebAuthnCredential {
	c.ExternalID = append([]byte(nil), c.ExternalID...)
	c.PublicKey = append([]byte(nil), c.PublicKey...)
	c.AAGUID = append([]byte(nil), c.AAGUID...)
	c.Transports = append([]string(nil), c.Transports...)
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		c.LastUsedAt = &t
	}
	return c
}
