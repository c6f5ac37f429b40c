// Command mfa-loadtest measures challenge store throughput against Redis
// (or an embedded miniredis when no address is given).
package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const challengeTTL = 10 * time.Minute

type subjectState struct {
	subject string
	mu      sync.Mutex
}

func main() {
	var (
		subjects    = flag.Int("subjects", 50000, "number of users with an outstanding challenge")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (lookup, issue+verify)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, MFA_REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "mfc-load", "challenge key prefix")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("MFA_REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := challenge.NewStore(client, *prefix, nil)

	states := make([]subjectState, *subjects)
	fmt.Printf("seeding %d challenges...\n", *subjects)
	startSeed := time.Now()
	for i := range states {
		states[i].subject = fmt.Sprintf("user-%d", i)
		if _, err := store.Issue(ctx, newRecord(states[i].subject, i), challengeTTL); err != nil {
			fmt.Fprintf(os.Stderr, "issue failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookupStats := runPhase(states, *ops, *concurrency, 7919, func(state *subjectState, _ int) error {
		_, err := store.Lookup(ctx, state.subject, "login")
		return err
	})
	verifyStats := runPhase(states, *ops, *concurrency, 6151, func(state *subjectState, i int) error {
		// issue and verify must not interleave for one subject
		state.mu.Lock()
		defer state.mu.Unlock()
		rec := newRecord(state.subject, i)
		if _, err := store.Issue(ctx, rec, challengeTTL); err != nil {
			return err
		}
		_, err := store.Verify(ctx, rec.ID, rec.SecretHash)
		return err
	})

	fmt.Println("---- results ----")
	printStats("lookup", lookupStats)
	printStats("issue+verify", verifyStats)
}

func runPhase(states []subjectState, ops, concurrency int, seed int64, op func(*subjectState, int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				t0 := time.Now()
				err := op(state, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func newRecord(subject string, salt int) *challenge.Record {
	now := time.Now()
	return &challenge.Record{
		ID:         uuid.NewString(),
		Subject:    subject,
		Kind:       1,
		Context:    "login",
		HasSecret:  true,
		SecretHash: sha256.Sum256([]byte(fmt.Sprintf("%06d", salt%1000000))),
		Attempts:   5,
		ExpiresAt:  now.Add(challengeTTL).UnixMilli(),
		CreatedAt:  now.UnixMilli(),
	}
}
