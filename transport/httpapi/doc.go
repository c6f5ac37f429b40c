// Package httpapi exposes the MFA engine over HTTP with a chi router.
//
// Every response uses the envelope
//
//	{"success": bool, "message": "...", "error": "code", ...payload}
//
// where payload fields are merged at the top level. Errors map through
// goMFA.KindOf and goMFA.HTTPStatus; rate-limited responses carry a
// Retry-After header, and server failures are logged and answered with a
// generic message.
//
// Session-scoped routes sit behind middleware.RequireSession. The login
// routes and the login-context resend are public.
package httpapi
