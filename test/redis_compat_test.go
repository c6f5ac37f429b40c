//go:build integration
// +build integration

package test

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/MrEthical07/goMFA/internal/rate"
)

func TestRedisCompatChallengeLifecycle(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb := mode.setup(t)
			store := challenge.NewStore(rdb, "compat", nil)
			ctx := context.Background()

			first := makeRecord("u1", "111111", 3)
			if _, err := store.Issue(ctx, first, time.Minute); err != nil {
				t.Fatalf("issue first: %v", err)
			}
			second := makeRecord("u1", "222222", 3)
			prev, err := store.Issue(ctx, second, time.Minute)
			if err != nil {
				t.Fatalf("issue second: %v", err)
			}
			if prev != first.ID {
				t.Fatalf("replaced id = %q, want %q", prev, first.ID)
			}
			if _, err := store.Get(ctx, first.ID); !errors.Is(err, challenge.ErrNotFound) {
				t.Fatalf("replaced challenge should be gone, got %v", err)
			}

			got, err := store.Lookup(ctx, "u1", "login")
			if err != nil {
				t.Fatalf("lookup: %v", err)
			}
			if got.ID != second.ID {
				t.Fatalf("lookup id = %q, want %q", got.ID, second.ID)
			}

			wrong := sha256.Sum256([]byte("999999"))
			if _, err := store.Verify(ctx, second.ID, wrong); !errors.Is(err, challenge.ErrMismatch) {
				t.Fatalf("first wrong code: got %v", err)
			}
			rec, err := store.Get(ctx, second.ID)
			if err != nil {
				t.Fatalf("get after mismatch: %v", err)
			}
			if rec.Attempts != 2 {
				t.Fatalf("attempts = %d, want 2", rec.Attempts)
			}

			if _, err := store.Verify(ctx, second.ID, second.SecretHash); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if _, err := store.Verify(ctx, second.ID, second.SecretHash); !errors.Is(err, challenge.ErrNotFound) {
				t.Fatalf("verified challenge must be single-use, got %v", err)
			}
		})
	}
}

func TestRedisCompatChallengeExhaustion(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb := mode.setup(t)
			store := challenge.NewStore(rdb, "compat", nil)
			ctx := context.Background()

			rec := makeRecord("u2", "123456", 2)
			if _, err := store.Issue(ctx, rec, time.Minute); err != nil {
				t.Fatalf("issue: %v", err)
			}
			if err := store.Fail(ctx, rec.ID); !errors.Is(err, challenge.ErrMismatch) {
				t.Fatalf("first fail: got %v", err)
			}
			if err := store.Fail(ctx, rec.ID); !errors.Is(err, challenge.ErrExhausted) {
				t.Fatalf("second fail: got %v", err)
			}
			if _, err := store.Verify(ctx, rec.ID, rec.SecretHash); !errors.Is(err, challenge.ErrNotFound) {
				t.Fatalf("exhausted challenge should be gone, got %v", err)
			}
		})
	}
}

func TestRedisCompatLimiterWindow(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb := mode.setup(t)
			limiter := rate.New(rdb, rate.Config{Prefix: "compat"})
			ctx := context.Background()
			rule := rate.Rule{Limit: 2, Window: time.Minute}
			key := rate.IssueKey("u3", "login")

			for i := 0; i < 2; i++ {
				d, err := limiter.Allow(ctx, key, rule)
				if err != nil {
					t.Fatalf("allow %d: %v", i, err)
				}
				if !d.Allowed {
					t.Fatalf("hit %d should be allowed", i)
				}
			}
			d, err := limiter.Allow(ctx, key, rule)
			if err != nil {
				t.Fatalf("allow: %v", err)
			}
			if d.Allowed || d.RetryAfter <= 0 {
				t.Fatalf("third hit: %+v, want denied with retry-after", d)
			}

			if err := limiter.Reset(ctx, key); err != nil {
				t.Fatalf("reset: %v", err)
			}
			if d, _ := limiter.Allow(ctx, key, rule); !d.Allowed {
				t.Fatal("reset should reopen the window")
			}
		})
	}
}
