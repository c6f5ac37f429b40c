// Package passkey adapts github.com/go-webauthn/webauthn to the
// goMFA.WebAuthnCeremony contract.
//
// Session data is serialized as JSON and handed back to the engine as
// opaque state; the engine stores it inside the challenge record so the
// adapter itself is stateless. Sign-count policy stays with the engine: the
// adapter reports the raw authenticator counter and never rejects on it.
package passkey

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	ErrInvalidConfig   = errors.New("passkey: invalid config")
	ErrInvalidState    = errors.New("passkey: invalid ceremony state")
	ErrInvalidResponse = errors.New("passkey: invalid authenticator response")
)

// Config describes the relying party.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	// UserVerification is "required", "preferred" or "discouraged".
	// Empty means preferred.
	UserVerification string
}

// Ceremony implements goMFA.WebAuthnCeremony.
type Ceremony struct {
	wa *webauthn.WebAuthn
	uv protocol.UserVerificationRequirement
}

var _ goMFA.WebAuthnCeremony = (*Ceremony)(nil)

// New validates cfg and builds the underlying relying party.
func New(cfg Config) (*Ceremony, error) {
	if cfg.RPID == "" || cfg.RPDisplayName == "" || len(cfg.RPOrigins) == 0 {
		return nil, ErrInvalidConfig
	}
	uv := protocol.VerificationPreferred
	switch cfg.UserVerification {
	case "", "preferred":
	case "required":
		uv = protocol.VerificationRequired
	case "discouraged":
		uv = protocol.VerificationDiscouraged
	default:
		return nil, fmt.Errorf("%w: user verification %q", ErrInvalidConfig, cfg.UserVerification)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: uv,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &Ceremony{wa: wa, uv: uv}, nil
}

func (c *Ceremony) BeginRegistration(user goMFA.WebAuthnUser, exclude []goMFA.WebAuthnCredential) (json.RawMessage, []byte, error) {
	descriptors := make([]protocol.CredentialDescriptor, 0, len(exclude))
	for _, cred := range exclude {
		descriptors = append(descriptors, toLibrary(cred).Descriptor())
	}
	creation, session, err := c.wa.BeginRegistration(waUser{user}, webauthn.WithExclusions(descriptors))
	if err != nil {
		return nil, nil, err
	}
	return marshalCeremony(creation, session)
}

// FinishRegistration verifies the attestation. The returned credential has
// no ID, role or owner; the engine assigns those.
func (c *Ceremony) FinishRegistration(user goMFA.WebAuthnUser, state []byte, response json.RawMessage) (*goMFA.WebAuthnCredential, error) {
	session, err := unmarshalSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	cred, err := c.wa.CreateCredential(waUser{user}, *session, parsed)
	if err != nil {
		return nil, err
	}

	out := &goMFA.WebAuthnCredential{
		ExternalID: cred.ID,
		PublicKey:  cred.PublicKey,
		SignCount:  cred.Authenticator.SignCount,
		AAGUID:     cred.Authenticator.AAGUID,
		DeviceType: deviceType(cred.Flags),
	}
	for _, t := range cred.Transport {
		out.Transports = append(out.Transports, string(t))
	}
	return out, nil
}

func (c *Ceremony) BeginLogin(user goMFA.WebAuthnUser) (json.RawMessage, []byte, error) {
	assertion, session, err := c.wa.BeginLogin(waUser{user}, webauthn.WithUserVerification(c.uv))
	if err != nil {
		return nil, nil, err
	}
	return marshalCeremony(assertion, session)
}

func (c *Ceremony) BeginDiscoverableLogin() (json.RawMessage, []byte, error) {
	assertion, session, err := c.wa.BeginDiscoverableLogin(webauthn.WithUserVerification(c.uv))
	if err != nil {
		return nil, nil, err
	}
	return marshalCeremony(assertion, session)
}

func (c *Ceremony) FinishLogin(user goMFA.WebAuthnUser, state []byte, response json.RawMessage) (*goMFA.AssertionOutcome, error) {
	session, err := unmarshalSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := parseAssertion(response)
	if err != nil {
		return nil, err
	}
	cred, err := c.wa.ValidateLogin(waUser{user}, *session, parsed)
	if err != nil {
		return nil, err
	}
	return outcome(user.ID, cred, parsed), nil
}

func (c *Ceremony) FinishDiscoverableLogin(state []byte, response json.RawMessage, resolve goMFA.DiscoverableResolver) (*goMFA.AssertionOutcome, error) {
	session, err := unmarshalSession(state)
	if err != nil {
		return nil, err
	}
	parsed, err := parseAssertion(response)
	if err != nil {
		return nil, err
	}

	var owner goMFA.WebAuthnUser
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		u, err := resolve(rawID, userHandle)
		if err != nil {
			return nil, err
		}
		owner = u
		return waUser{u}, nil
	}
	cred, err := c.wa.ValidateDiscoverableLogin(handler, *session, parsed)
	if err != nil {
		return nil, err
	}
	return outcome(owner.ID, cred, parsed), nil
}

func parseAssertion(response json.RawMessage) (*protocol.ParsedCredentialAssertionData, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return parsed, nil
}

// outcome reports the counter from the signed authenticator data rather
// than the library's updated credential, which keeps the stored value when
// it detects a regression.
func outcome(userID []byte, cred *webauthn.Credential, parsed *protocol.ParsedCredentialAssertionData) *goMFA.AssertionOutcome {
	return &goMFA.AssertionOutcome{
		UserID:       userID,
		ExternalID:   cred.ID,
		SignCount:    parsed.Response.AuthenticatorData.Counter,
		CloneWarning: cred.Authenticator.CloneWarning,
	}
}

func marshalCeremony(options any, session *webauthn.SessionData) (json.RawMessage, []byte, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return nil, nil, err
	}
	state, err := json.Marshal(session)
	if err != nil {
		return nil, nil, err
	}
	return opts, state, nil
}

func unmarshalSession(state []byte) (*webauthn.SessionData, error) {
	if len(state) == 0 {
		return nil, ErrInvalidState
	}
	var session webauthn.SessionData
	if err := json.Unmarshal(state, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return &session, nil
}

func deviceType(flags webauthn.CredentialFlags) string {
	if flags.BackupEligible {
		return "multi_device"
	}
	return "single_device"
}
