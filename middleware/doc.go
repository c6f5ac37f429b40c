// Package middleware exposes net/http adapters that sit in front of the MFA
// endpoints.
//
// # Guards
//
//   - [RequireSession] resolves the caller through a [SessionResolver] and
//     injects the user id into the request context.
//   - [JWTSessionResolver] accepts bearer tokens minted with
//     jwt.PurposeSession.
//   - [ClientMetadata] copies the client IP and User-Agent into the context
//     so audit events carry them.
//
// # Architecture boundaries
//
// Primary authentication belongs to the host application. This package only
// answers "which user is this request for"; it never touches Redis or MFA
// state and never decides whether a second factor is required.
package middleware
