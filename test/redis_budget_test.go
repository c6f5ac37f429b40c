//go:build integration
// +build integration

package test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/MrEthical07/goMFA/internal/rate"
)

// go-redis sends EVALSHA and falls back to EVAL on a script cache miss, so
// a single Lua call costs at most 2 commands.
const luaBudget = 2

func TestChallengeIssueRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	store := challenge.NewStore(rdb, "budget", nil)
	ctx := context.Background()

	if _, err := store.Issue(ctx, makeRecord("u1", "111111", 5), time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cmds := counter.Commands(); cmds > luaBudget {
		t.Errorf("Issue used %d Redis commands; budget is %d", cmds, luaBudget)
	}

	// replacing the outstanding challenge is still one script
	counter.Reset()
	if _, err := store.Issue(ctx, makeRecord("u1", "222222", 5), time.Hour); err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("warm Issue used %d Redis commands; want 1", cmds)
	}
}

func TestChallengeVerifyRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	store := challenge.NewStore(rdb, "budget", nil)
	ctx := context.Background()

	rec := makeRecord("u2", "123456", 5)
	if _, err := store.Issue(ctx, rec, time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}

	counter.Reset()
	if _, err := store.Verify(ctx, rec.ID, sha256.Sum256([]byte("000000"))); err == nil {
		t.Fatal("expected mismatch")
	}
	if cmds := counter.Commands(); cmds > luaBudget {
		t.Errorf("failed Verify used %d Redis commands; budget is %d", cmds, luaBudget)
	}

	counter.Reset()
	if _, err := store.Verify(ctx, rec.ID, rec.SecretHash); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("warm Verify used %d Redis commands; want 1", cmds)
	}
	t.Logf("Verify: %d commands, %d pipelines", counter.Commands(), counter.Pipelines())
}

func TestChallengeLookupRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	store := challenge.NewStore(rdb, "budget", nil)
	ctx := context.Background()

	if _, err := store.Issue(ctx, makeRecord("u3", "123456", 5), time.Hour); err != nil {
		t.Fatalf("issue: %v", err)
	}

	counter.Reset()
	if _, err := store.Lookup(ctx, "u3", "login"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	// pointer GET + record GET
	if cmds := counter.Commands(); cmds != 2 {
		t.Errorf("Lookup used %d Redis commands; want 2", cmds)
	}
}

func TestLimiterAllowRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	limiter := rate.New(rdb, rate.Config{Prefix: "budget"})
	ctx := context.Background()
	rule := rate.Rule{Limit: 3, Window: time.Minute}

	for i := 0; i < 5; i++ {
		counter.Reset()
		if _, err := limiter.Allow(ctx, rate.EndpointKey("verify", "u4"), rule); err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if cmds := counter.Commands(); cmds > luaBudget {
			t.Errorf("Allow #%d used %d Redis commands; budget is %d", i, cmds, luaBudget)
		}
	}
}

func TestLimiterCooldownRedisBudget(t *testing.T) {
	rdb, counter := newCountedClient(t)
	limiter := rate.New(rdb, rate.Config{Prefix: "budget"})
	ctx := context.Background()
	key := rate.CooldownKey("u5", "login")

	if _, err := limiter.Cooldown(ctx, key, time.Minute); err != nil {
		t.Fatalf("cooldown: %v", err)
	}
	if cmds := counter.Commands(); cmds != 1 {
		t.Errorf("granted Cooldown used %d Redis commands; want 1 (SETNX)", cmds)
	}

	counter.Reset()
	d, err := limiter.Cooldown(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("cooldown: %v", err)
	}
	if d.Allowed {
		t.Fatal("second cooldown claim should be denied")
	}
	// SETNX + PTTL
	if cmds := counter.Commands(); cmds != 2 {
		t.Errorf("denied Cooldown used %d Redis commands; want 2", cmds)
	}
}
