// Package goMFA orchestrates multi-factor authentication: enrollment,
// challenge issuance and verification, step-up login and recovery.
//
// Supported factors are email one-time codes, authenticator-app TOTP,
// WebAuthn credentials in a primary (passwordless) and a secondary
// (second factor) role, single-use backup codes and security questions.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// goMFA is the public surface: [Engine], [Builder], [Config], the [Store]
// and [UserDirectory] contracts and the value types they exchange.
// Challenges, rate limits and step-up markers live in Redis behind
// internal/challenge and internal/rate; durable factor state lives behind
// [Store] (see store/memory and store/postgres). WebAuthn cryptography is
// delegated to a [WebAuthnCeremony] (see passkey).
//
// # Consistency
//
// Profile changes are applied as one versioned [ProfileCommit] and retried
// on conflict. Challenge verification, attempt accounting and consumption
// are single Redis scripts, so a code verifies at most once.
//
// # Failure mode
//
// Redis errors never grant access: limiter failures deny and challenge
// backend failures surface as ErrChallengeUnavailable.
package goMFA
