// Package jwt mints and verifies purpose-scoped tokens: the MFA step-up
// assertion returned by a successful login challenge, and the session token
// accepted by the session guard.
package jwt
