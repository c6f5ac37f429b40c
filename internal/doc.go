// Package internal contains helpers that are private to goMFA, chiefly
// secure random code generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - backupcode: recovery code generation, formatting and hashing
//   - challenge: Redis-backed single-use challenge records
//   - config: environment-driven configuration for cmd binaries
//   - notify: bounded asynchronous delivery queue
//   - rate: Redis-backed rate limit primitives
//   - secretbox: authenticated encryption for secrets at rest
//
// # What this package must NOT do
//
//   - Export types that appear in the public goMFA API.
//   - Be imported by any package outside the goMFA module.
package internal
