package goMFA

import "context"

// MfaMethod is one second factor. Every variant can start a challenge,
// verify a proof against it and describe its enrollment for a user.
//
// Verify spends challenge attempts on failure and consumes the challenge on
// success; callers never settle challenges themselves.
type MfaMethod interface {
	Method() Method
	IssueChallenge(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error)
	Verify(ctx context.Context, userID string, cctx ChallengeContext, proof Proof) error
	Describe(ctx context.Context, userID string, profile *Profile) (MethodDescription, error)
}

// MethodDescription is the status view of one method. It never includes
// secrets.
type MethodDescription struct {
	Method    Method          `json:"method"`
	State     EnrollmentState `json:"state"`
	Enabled   bool            `json:"enabled"`
	Preferred bool            `json:"preferred"`
}

func describeEnabled(m Method, p *Profile) MethodDescription {
	return MethodDescription{
		Method:    m,
		State:     StateEnabled,
		Enabled:   true,
		Preferred: p.PreferredMethod == m,
	}
}
