// Package postgres implements goMFA.Store and goMFA.UserDirectory on top of
// a pgx connection pool.
//
// The schema lives in migrations/ and is applied with [Migrate]. Profile
// commits run in one transaction guarded by the profile version column.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PoolConfig tunes the connection pool. Zero fields take the defaults used
// by [NewPool].
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
	if c.MinConns == 0 {
		c.MinConns = min(5, c.MaxConns)
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 10 * time.Minute
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

// NewPool opens a pool for url and pings it once.
func NewPool(ctx context.Context, url string, cfg PoolConfig) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, errors.New("postgres: database url is empty")
	}
	cfg = cfg.withDefaults()

	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Store is a goMFA.Store backed by Postgres.
type Store struct {
	db *pgxpool.Pool
}

var (
	_ goMFA.Store         = (*Store)(nil)
	_ goMFA.UserDirectory = (*Store)(nil)
)

// New wraps an open pool. The caller owns the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", goMFA.ErrStoreUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (goMFA.UserRecord, error) {
	return s.getUser(ctx, `WHERE user_id = $1`, userID)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (goMFA.UserRecord, error) {
	return s.getUser(ctx, `WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) getUser(ctx context.Context, where string, arg string) (goMFA.UserRecord, error) {
	var u goMFA.UserRecord
	err := s.db.QueryRow(ctx,
		`SELECT user_id, email, display_name, email_verified, password_hash
		 FROM mfa_users `+where, arg,
	).Scan(&u.UserID, &u.Email, &u.DisplayName, &u.EmailVerified, &u.PasswordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return goMFA.UserRecord{}, goMFA.ErrUserNotFound
		}
		return goMFA.UserRecord{}, unavailable(err)
	}
	return u, nil
}

// PutUser upserts a directory row. It exists for seeding and demos; the
// primary account system normally owns mfa_users.
func (s *Store) PutUser(ctx context.Context, u goMFA.UserRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO mfa_users (user_id, email, display_name, email_verified, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   email = EXCLUDED.email,
		   display_name = EXCLUDED.display_name,
		   email_verified = EXCLUDED.email_verified,
		   password_hash = EXCLUDED.password_hash`,
		u.UserID, strings.ToLower(strings.TrimSpace(u.Email)), u.DisplayName, u.EmailVerified, u.PasswordHash,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*goMFA.Profile, error) {
	p := goMFA.NewProfile(userID)
	var methods []string
	var preferred string
	var version int64
	err := s.db.QueryRow(ctx,
		`SELECT enabled_methods, preferred_method, login_with_webauthn, version, created_at, updated_at
		 FROM mfa_profiles WHERE user_id = $1`, userID,
	).Scan(&methods, &preferred, &p.LoginWithWebAuthn, &version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, nil
		}
		return nil, unavailable(err)
	}
	p.EnabledMethods = methodsFromStrings(methods)
	p.PreferredMethod = goMFA.Method(preferred)
	p.Version = uint64(version)
	return p, nil
}

// CommitProfile applies commit in one transaction. The profile row is
// written first so a concurrent commit on the same user serializes on it.
func (s *Store) CommitProfile(ctx context.Context, commit goMFA.ProfileCommit) (*goMFA.Profile, error) {
	if commit.Profile == nil {
		return nil, goMFA.ErrInvalidInput
	}
	next := commit.Profile.Clone()
	next.Version = commit.Profile.Version + 1
	now := time.Now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if next.UpdatedAt.IsZero() {
		next.UpdatedAt = now
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := writeProfile(ctx, tx, next, commit.Profile.Version); err != nil {
			return err
		}
		return applyCommit(ctx, tx, next.UserID, commit)
	})
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, goMFA.ErrVersionConflict):
		return nil, goMFA.ErrVersionConflict
	case isUniqueViolation(err):
		return nil, goMFA.ErrCredentialAlreadyRegistered
	default:
		return nil, unavailable(err)
	}
}

func writeProfile(ctx context.Context, tx pgx.Tx, p *goMFA.Profile, expected uint64) error {
	methods := methodsToStrings(p.EnabledMethods)
	var tag pgconn.CommandTag
	var err error
	if expected == 0 {
		tag, err = tx.Exec(ctx,
			`INSERT INTO mfa_profiles
			   (user_id, enabled_methods, preferred_method, login_with_webauthn, version, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (user_id) DO NOTHING`,
			p.UserID, methods, string(p.PreferredMethod), p.LoginWithWebAuthn, int64(p.Version), p.CreatedAt, p.UpdatedAt,
		)
	} else {
		tag, err = tx.Exec(ctx,
			`UPDATE mfa_profiles SET
			   enabled_methods = $2, preferred_method = $3, login_with_webauthn = $4,
			   version = $5, updated_at = $6
			 WHERE user_id = $1 AND version = $7`,
			p.UserID, methods, string(p.PreferredMethod), p.LoginWithWebAuthn, int64(p.Version), p.UpdatedAt, int64(expected),
		)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return goMFA.ErrVersionConflict
	}
	return nil
}

func applyCommit(ctx context.Context, tx pgx.Tx, userID string, commit goMFA.ProfileCommit) error {
	if commit.EnableAppSecret {
		if _, err := tx.Exec(ctx, `UPDATE mfa_app_secrets SET enabled = TRUE WHERE user_id = $1`, userID); err != nil {
			return err
		}
	}
	if commit.DeleteAppSecret {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_app_secrets WHERE user_id = $1`, userID); err != nil {
			return err
		}
	}
	if commit.DeleteBackupCodes || commit.ReplaceBackupCodes != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
	}
	if commit.ReplaceBackupCodes != nil {
		rows := make([][]any, 0, len(commit.ReplaceBackupCodes))
		for _, c := range commit.ReplaceBackupCodes {
			rows = append(rows, []any{userID, c.Hash[:], c.Used, c.UsedAt, c.CreatedAt})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"mfa_backup_codes"},
			[]string{"user_id", "hash", "used", "used_at", "created_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return err
		}
	}
	if len(commit.DeleteCredentialIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`DELETE FROM mfa_webauthn_credentials WHERE user_id = $1 AND id = ANY($2)`,
			userID, commit.DeleteCredentialIDs,
		); err != nil {
			return err
		}
	}
	if role := commit.DeleteCredentialsByRole; role != "" {
		if _, err := tx.Exec(ctx,
			`DELETE FROM mfa_webauthn_credentials WHERE user_id = $1 AND role = $2`,
			userID, string(role),
		); err != nil {
			return err
		}
	}
	if c := commit.AddCredential; c != nil {
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		transports := c.Transports
		if transports == nil {
			transports = []string{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO mfa_webauthn_credentials
			   (id, user_id, role, external_id, public_key, sign_count, aaguid, transports,
			    device_name, device_type, created_at, last_used_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			id, userID, string(c.Role), c.ExternalID, c.PublicKey, int64(c.SignCount), c.AAGUID, transports,
			c.DeviceName, c.DeviceType, c.CreatedAt, c.LastUsedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetAppSecret(ctx context.Context, userID string) (*goMFA.AppSecret, error) {
	var secret goMFA.AppSecret
	err := s.db.QueryRow(ctx,
		`SELECT sealed, enabled, last_counter, created_at FROM mfa_app_secrets WHERE user_id = $1`, userID,
	).Scan(&secret.Sealed, &secret.Enabled, &secret.LastCounter, &secret.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	return &secret, nil
}

func (s *Store) SavePendingAppSecret(ctx context.Context, userID string, sealed []byte, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO mfa_app_secrets (user_id, sealed, enabled, last_counter, created_at)
		 VALUES ($1, $2, FALSE, -1, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
		   sealed = EXCLUDED.sealed, last_counter = -1, created_at = EXCLUDED.created_at
		 WHERE mfa_app_secrets.enabled = FALSE`,
		userID, sealed, at,
	)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return goMFA.ErrMethodAlreadyEnabled
	}
	return nil
}

func (s *Store) AdvanceAppCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE mfa_app_secrets SET last_counter = $2 WHERE user_id = $1 AND last_counter < $2`,
		userID, counter,
	)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

const credentialColumns = `id, user_id, role, external_id, public_key, sign_count, aaguid, transports,
	device_name, device_type, created_at, last_used_at`

func scanCredential(row pgx.Row) (goMFA.WebAuthnCredential, error) {
	var c goMFA.WebAuthnCredential
	var role string
	var signCount int64
	err := row.Scan(&c.ID, &c.UserID, &role, &c.ExternalID, &c.PublicKey, &signCount, &c.AAGUID,
		&c.Transports, &c.DeviceName, &c.DeviceType, &c.CreatedAt, &c.LastUsedAt)
	if err != nil {
		return goMFA.WebAuthnCredential{}, err
	}
	c.Role = goMFA.Role(role)
	c.SignCount = uint32(signCount)
	return c, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID string, role goMFA.Role) ([]goMFA.WebAuthnCredential, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+credentialColumns+`
		 FROM mfa_webauthn_credentials
		 WHERE user_id = $1 AND ($2::text = '' OR role = $2::text)
		 ORDER BY created_at, id`,
		userID, string(role),
	)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (goMFA.WebAuthnCredential, error) {
		return scanCredential(row)
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) GetCredential(ctx context.Context, userID, credentialID string) (*goMFA.WebAuthnCredential, error) {
	c, err := scanCredential(s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM mfa_webauthn_credentials WHERE id = $1 AND user_id = $2`,
		credentialID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goMFA.ErrCredentialNotFound
		}
		return nil, unavailable(err)
	}
	return &c, nil
}

func (s *Store) FindCredentialByExternalID(ctx context.Context, role goMFA.Role, externalID []byte) (*goMFA.WebAuthnCredential, error) {
	c, err := scanCredential(s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM mfa_webauthn_credentials
		 WHERE role = $1 AND external_id = $2
		 ORDER BY created_at LIMIT 1`,
		string(role), externalID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goMFA.ErrCredentialNotFound
		}
		return nil, unavailable(err)
	}
	return &c, nil
}

func (s *Store) TouchCredential(ctx context.Context, credentialID string, expected, next uint32, usedAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE mfa_webauthn_credentials SET sign_count = $3, last_used_at = $4
		 WHERE id = $1 AND sign_count = $2`,
		credentialID, int64(expected), int64(next), usedAt,
	)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RenameCredential(ctx context.Context, userID, credentialID, name string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE mfa_webauthn_credentials SET device_name = $3 WHERE id = $1 AND user_id = $2`,
		credentialID, userID, name,
	)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return goMFA.ErrCredentialNotFound
	}
	return nil
}

func (s *Store) ListBackupCodes(ctx context.Context, userID string) ([]goMFA.BackupCode, error) {
	rows, err := s.db.Query(ctx,
		`SELECT hash, used, used_at, created_at FROM mfa_backup_codes
		 WHERE user_id = $1 ORDER BY created_at, hash`, userID,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (goMFA.BackupCode, error) {
		var c goMFA.BackupCode
		var hash []byte
		if err := row.Scan(&hash, &c.Used, &c.UsedAt, &c.CreatedAt); err != nil {
			return c, err
		}
		if len(hash) != len(c.Hash) {
			return c, fmt.Errorf("backup code hash has %d bytes", len(hash))
		}
		copy(c.Hash[:], hash)
		return c, nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// ConsumeBackupCode flips the used flag with a conditional update so two
// concurrent consumers of the same code cannot both succeed.
func (s *Store) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte, at time.Time) (goMFA.ConsumeResult, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE mfa_backup_codes SET used = TRUE, used_at = $3
		 WHERE user_id = $1 AND hash = $2 AND NOT used`,
		userID, hash[:], at,
	)
	if err != nil {
		return goMFA.ConsumeUnknown, unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return goMFA.ConsumeOK, nil
	}

	var exists bool
	err = s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mfa_backup_codes WHERE user_id = $1 AND hash = $2)`,
		userID, hash[:],
	).Scan(&exists)
	switch {
	case err != nil:
		return goMFA.ConsumeUnknown, unavailable(err)
	case exists:
		return goMFA.ConsumeAlreadyUsed, nil
	default:
		return goMFA.ConsumeUnknown, nil
	}
}

func (s *Store) ListSecurityQuestions(ctx context.Context) ([]goMFA.SecurityQuestion, error) {
	rows, err := s.db.Query(ctx, `SELECT id, text FROM mfa_security_questions ORDER BY id`)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[goMFA.SecurityQuestion])
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) GetSecurityAnswers(ctx context.Context, userID string) ([]goMFA.SecurityAnswer, error) {
	rows, err := s.db.Query(ctx,
		`SELECT question_id, answer_hash FROM mfa_security_answers WHERE user_id = $1 ORDER BY question_id`,
		userID,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[goMFA.SecurityAnswer])
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *Store) ReplaceSecurityAnswers(ctx context.Context, userID string, answers []goMFA.SecurityAnswer) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_security_answers WHERE user_id = $1`, userID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, a := range answers {
			batch.Queue(
				`INSERT INTO mfa_security_answers (user_id, question_id, answer_hash) VALUES ($1, $2, $3)`,
				userID, a.QuestionID, a.AnswerHash,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func methodsToStrings(methods []goMFA.Method) []string {
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, string(m))
	}
	return out
}

func methodsFromStrings(in []string) []goMFA.Method {
	out := make([]goMFA.Method, 0, len(in))
	for _, s := range in {
		if m, err := goMFA.ParseMethod(s); err == nil && m.Enrollable() {
			out = append(out, m)
		}
	}
	return out
}
