package challenge

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Store, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(rdb, "mfc", func() time.Time { return now })
	return mr, s, &now
}

func newRecord(id, subject, context, secret string, attempts uint16, now time.Time, ttl time.Duration) *Record {
	rec := &Record{
		ID:        id,
		Subject:   subject,
		Kind:      1,
		Context:   context,
		Role:      "primary",
		Attempts:  attempts,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}
	if secret != "" {
		rec.HasSecret = true
		rec.SecretHash = sha256.Sum256([]byte(secret))
	}
	return rec
}

func TestRecordRoundTrip(t *testing.T) {
	in := &Record{
		Subject:    "user-1",
		Kind:       3,
		Context:    "register",
		Role:       "secondary",
		HasSecret:  true,
		SecretHash: sha256.Sum256([]byte("x")),
		State:      []byte(`{"challenge":"abc"}`),
		Attempts:   7,
		ExpiresAt:  1700000000123,
		CreatedAt:  1700000000000,
	}
	data, err := encodeRecord(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Subject != in.Subject || out.Kind != in.Kind || out.Context != in.Context || out.Role != in.Role {
		t.Fatalf("identity fields mismatch: %+v", out)
	}
	if out.Attempts != 7 || out.ExpiresAt != in.ExpiresAt || out.CreatedAt != in.CreatedAt {
		t.Fatalf("counters mismatch: %+v", out)
	}
	if !out.HasSecret || out.SecretHash != in.SecretHash || string(out.State) != string(in.State) {
		t.Fatalf("payload mismatch: %+v", out)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, err := decodeRecord([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected truncated record to fail")
	}
}

func TestIssueReplacesOutstanding(t *testing.T) {
	_, s, now := newTestStore(t)
	ctx := context.Background()

	first := newRecord("c1", "u1", "login", "111111", 5, *now, 10*time.Minute)
	prev, err := s.Issue(ctx, first, 10*time.Minute)
	if err != nil || prev != "" {
		t.Fatalf("first issue: prev=%q err=%v", prev, err)
	}

	second := newRecord("c2", "u1", "login", "222222", 5, *now, 10*time.Minute)
	prev, err = s.Issue(ctx, second, 10*time.Minute)
	if err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if prev != "c1" {
		t.Fatalf("expected replaced id c1, got %q", prev)
	}

	if _, err := s.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old challenge should be gone, got %v", err)
	}
	got, err := s.Lookup(ctx, "u1", "login")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != "c2" {
		t.Fatalf("lookup returned %q", got.ID)
	}

	// A different context is independent.
	other := newRecord("c3", "u1", "config", "333333", 5, *now, 10*time.Minute)
	if prev, err := s.Issue(ctx, other, 10*time.Minute); err != nil || prev != "" {
		t.Fatalf("config issue: prev=%q err=%v", prev, err)
	}
	if _, err := s.Get(ctx, "c2"); err != nil {
		t.Fatalf("login challenge should survive config issue: %v", err)
	}
}

func TestVerifyConsumesOnMatch(t *testing.T) {
	_, s, now := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Issue(ctx, newRecord("c1", "u1", "login", "123456", 5, *now, time.Minute), time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}

	rec, err := s.Verify(ctx, "c1", sha256.Sum256([]byte("123456")))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if rec.Subject != "u1" || rec.Context != "login" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, err := s.Verify(ctx, "c1", sha256.Sum256([]byte("123456"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second verify should not find record, got %v", err)
	}
}

func TestVerifyMismatchSpendsAttempts(t *testing.T) {
	_, s, now := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Issue(ctx, newRecord("c1", "u1", "login", "123456", 3, *now, time.Minute), time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}

	wrong := sha256.Sum256([]byte("000000"))
	for i := 0; i < 2; i++ {
		if _, err := s.Verify(ctx, "c1", wrong); !errors.Is(err, ErrMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i, err)
		}
	}

	rec, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("expected 1 attempt left, got %d", rec.Attempts)
	}

	if _, err := s.Verify(ctx, "c1", wrong); !errors.Is(err, ErrExhausted) {
		t.Fatalf("last attempt should exhaust, got %v", err)
	}
	if _, err := s.Verify(ctx, "c1", sha256.Sum256([]byte("123456"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("exhausted challenge must be gone, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	_, s, now := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Issue(ctx, newRecord("c1", "u1", "login", "123456", 5, *now, time.Minute), time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}
	*now = now.Add(2 * time.Minute)

	if _, err := s.Verify(ctx, "c1", sha256.Sum256([]byte("123456"))); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := s.Get(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be deleted, got %v", err)
	}
}

func TestFailAndTake(t *testing.T) {
	_, s, now := newTestStore(t)
	ctx := context.Background()

	rec := newRecord("c1", "u1", "disable", "", 2, *now, time.Minute)
	rec.State = []byte("ceremony")
	if _, err := s.Issue(ctx, rec, time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if err := s.Fail(ctx, "c1"); !errors.Is(err, ErrMismatch) {
		t.Fatalf("first fail: %v", err)
	}

	got, err := s.Take(ctx, "c1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if string(got.State) != "ceremony" || got.Attempts != 1 {
		t.Fatalf("unexpected taken record: %+v", got)
	}
	if _, err := s.Take(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("take is single use, got %v", err)
	}
}

func TestFailExhausts(t *testing.T) {
	_, s, now := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Issue(ctx, newRecord("c1", "u1", "login", "", 1, *now, time.Minute), time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := s.Fail(ctx, "c1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	mr, s, now := newTestStore(t)
	mr.Close()

	_, err := s.Issue(context.Background(), newRecord("c1", "u1", "login", "1", 5, *now, time.Minute), time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
