package goMFA_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	testUserID   = "u1"
	testEmail    = "alice@example.com"
	testPassword = "correct horse battery staple"
)

type harness struct {
	t      *testing.T
	mr     *miniredis.Miniredis
	store  *memory.Store
	engine *goMFA.Engine
	sent   *recordingNotifier

	mu   sync.Mutex
	now  time.Time
	code string
}

func testConfig(t *testing.T) goMFA.Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cfg := goMFA.DefaultConfig()
	cfg.App.SecretKey = make([]byte, 32)
	if _, err := rand.Read(cfg.App.SecretKey); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Hashing.Memory = 8 * 1024
	cfg.Hashing.Time = 1
	cfg.Hashing.Parallelism = 1
	return cfg
}

func newHarness(t *testing.T, mutate ...func(*goMFA.Config)) *harness {
	t.Helper()
	return newHarnessWithSink(t, nil, mutate...)
}

func newHarnessWithSink(t *testing.T, sink goMFA.AuditSink, mutate ...func(*goMFA.Config)) *harness {
	t.Helper()
	return buildHarness(t, sink, nil, mutate...)
}

// buildHarness wires the engine; wrap, when set, decorates the memory store
// handed to the engine.
func buildHarness(t *testing.T, sink goMFA.AuditSink, wrap func(*memory.Store) goMFA.Store, mutate ...func(*goMFA.Config)) *harness {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(&cfg)
	}

	h := &harness{
		t:     t,
		mr:    mr,
		store: memory.New(),
		sent:  &recordingNotifier{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		code:  "123456",
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	h.store.PutUser(goMFA.UserRecord{
		UserID:        testUserID,
		Email:         testEmail,
		DisplayName:   "Alice",
		EmailVerified: true,
		PasswordHash:  string(hash),
	})

	var store goMFA.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}

	builder := goMFA.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(store).
		WithUserDirectory(h.store).
		WithNotifier(h.sent).
		WithWebAuthn(fakeCeremony{}).
		WithClock(h.clock).
		WithCodeGenerator(func(int) (string, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.code, nil
		})
	if sink != nil {
		builder = builder.WithAuditSink(sink)
	}

	engine, err := builder.Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	h.engine = engine

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// advance moves both the engine clock and Redis key expiry forward.
func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
	h.mr.FastForward(d)
}

func (h *harness) nextCode(code string) {
	h.mu.Lock()
	h.code = code
	h.mu.Unlock()
}

// enableEmail runs the configure/enable flow with code 123456.
func (h *harness) enableEmail(ctx context.Context) *goMFA.EnableResult {
	h.t.Helper()
	h.nextCode("123456")
	if _, err := h.engine.ConfigureEmail(ctx, testUserID); err != nil {
		h.t.Fatalf("ConfigureEmail failed: %v", err)
	}
	res, err := h.engine.EnableEmail(ctx, testUserID, "123456")
	if err != nil {
		h.t.Fatalf("EnableEmail failed: %v", err)
	}
	return res
}

// enableApp enrolls the authenticator app and returns its base32 secret.
func (h *harness) enableApp(ctx context.Context) (string, *goMFA.EnableResult) {
	h.t.Helper()
	setup, err := h.engine.ConfigureApp(ctx, testUserID)
	if err != nil {
		h.t.Fatalf("ConfigureApp failed: %v", err)
	}
	res, err := h.engine.EnableApp(ctx, testUserID, h.totpCode(setup.Secret))
	if err != nil {
		h.t.Fatalf("EnableApp failed: %v", err)
	}
	return setup.Secret, res
}

func (h *harness) totpCode(secret string) string {
	h.t.Helper()
	code, err := totp.GenerateCodeCustom(secret, h.clock(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		h.t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	return code
}

// registerSecondary registers a secondary credential with external id ext.
func (h *harness) register(ctx context.Context, role goMFA.Role, ext string) *goMFA.RegistrationResult {
	h.t.Helper()
	ticket, err := h.engine.BeginRegistration(ctx, testUserID, role)
	if err != nil {
		h.t.Fatalf("BeginRegistration failed: %v", err)
	}
	res, err := h.engine.CompleteRegistration(ctx, testUserID, role, ticket.ID, fakeResponse(ext, 0, false), "")
	if err != nil {
		h.t.Fatalf("CompleteRegistration failed: %v", err)
	}
	return res
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []goMFA.CodeNotification
}

func (n *recordingNotifier) SendCode(_ context.Context, c goMFA.CodeNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// fakeCeremony stands in for go-webauthn. Responses are JSON objects naming
// the credential and the authenticator counter.
type fakeCeremony struct{}

type fakeAssertion struct {
	ID         string `json:"id"`
	SignCount  uint32 `json:"signCount"`
	UserHandle string `json:"userHandle,omitempty"`
	Fail       bool   `json:"fail,omitempty"`
}

func fakeResponse(id string, signCount uint32, fail bool) json.RawMessage {
	raw, _ := json.Marshal(fakeAssertion{ID: id, SignCount: signCount, Fail: fail})
	return raw
}

func discoverableResponse(id, userHandle string, signCount uint32) json.RawMessage {
	raw, _ := json.Marshal(fakeAssertion{ID: id, SignCount: signCount, UserHandle: userHandle})
	return raw
}

var errFakeRejected = errors.New("fake ceremony rejected response")

func parseFake(response json.RawMessage) (fakeAssertion, error) {
	var a fakeAssertion
	if err := json.Unmarshal(response, &a); err != nil {
		return a, err
	}
	if a.Fail || a.ID == "" {
		return a, errFakeRejected
	}
	return a, nil
}

func (fakeCeremony) BeginRegistration(user goMFA.WebAuthnUser, _ []goMFA.WebAuthnCredential) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{}}`), []byte("reg:" + string(user.ID)), nil
}

func (fakeCeremony) FinishRegistration(_ goMFA.WebAuthnUser, _ []byte, response json.RawMessage) (*goMFA.WebAuthnCredential, error) {
	a, err := parseFake(response)
	if err != nil {
		return nil, err
	}
	return &goMFA.WebAuthnCredential{
		ExternalID: []byte(a.ID),
		PublicKey:  []byte("pk-" + a.ID),
		SignCount:  a.SignCount,
	}, nil
}

func (fakeCeremony) BeginLogin(user goMFA.WebAuthnUser) (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{}}`), []byte("login:" + string(user.ID)), nil
}

func (fakeCeremony) BeginDiscoverableLogin() (json.RawMessage, []byte, error) {
	return json.RawMessage(`{"publicKey":{}}`), []byte("discoverable"), nil
}

func (fakeCeremony) FinishLogin(user goMFA.WebAuthnUser, _ []byte, response json.RawMessage) (*goMFA.AssertionOutcome, error) {
	a, err := parseFake(response)
	if err != nil {
		return nil, err
	}
	return &goMFA.AssertionOutcome{UserID: user.ID, ExternalID: []byte(a.ID), SignCount: a.SignCount}, nil
}

func (fakeCeremony) FinishDiscoverableLogin(_ []byte, response json.RawMessage, resolve goMFA.DiscoverableResolver) (*goMFA.AssertionOutcome, error) {
	a, err := parseFake(response)
	if err != nil {
		return nil, err
	}
	user, err := resolve([]byte(a.ID), []byte(a.UserHandle))
	if err != nil {
		return nil, err
	}
	return &goMFA.AssertionOutcome{UserID: user.ID, ExternalID: []byte(a.ID), SignCount: a.SignCount}, nil
}
