// Package rate provides the Redis-backed limiter primitives used to throttle
// challenge issuance, resends and verification-heavy MFA endpoints.
//
// # Window semantics
//
// Fixed-window counters: INCR + PEXPIRE on first hit, executed in one Lua
// script. Cooldowns use SET NX PX. Key prefixes (after the configured prefix):
//   - issue: challenge issuance per user and context
//   - cool:  resend cooldown per user and context
//   - ep:    endpoint budget per identity
//   - fail:  failure-only counters
//
// # Failure mode
//
// Every call runs under a bounded context. Backend errors and timeouts
// return a denying Decision together with an error wrapping
// ErrRedisUnavailable, so callers fail closed.
package rate
