package goMFA

import "encoding/json"

// WebAuthnUser is the account view handed to a [WebAuthnCeremony]. ID is
// the user handle stored on discoverable credentials.
type WebAuthnUser struct {
	ID          []byte
	Name        string
	DisplayName string
	Credentials []WebAuthnCredential
}

// AssertionOutcome is the verified result of an assertion. The engine owns
// sign-count policy; CloneWarning only reports what the library observed.
type AssertionOutcome struct {
	UserID       []byte
	ExternalID   []byte
	SignCount    uint32
	CloneWarning bool
}

// DiscoverableResolver maps a discoverable assertion's credential id and
// user handle to the owning account.
type DiscoverableResolver func(externalID, userHandle []byte) (WebAuthnUser, error)

// WebAuthnCeremony performs the cryptographic half of WebAuthn. Options are
// returned as the JSON the browser expects and State is opaque session data
// that the engine stores inside the challenge record.
//
// The passkey package provides an implementation backed by go-webauthn.
type WebAuthnCeremony interface {
	BeginRegistration(user WebAuthnUser, exclude []WebAuthnCredential) (options json.RawMessage, state []byte, err error)
	FinishRegistration(user WebAuthnUser, state []byte, response json.RawMessage) (*WebAuthnCredential, error)
	BeginLogin(user WebAuthnUser) (options json.RawMessage, state []byte, err error)
	BeginDiscoverableLogin() (options json.RawMessage, state []byte, err error)
	FinishLogin(user WebAuthnUser, state []byte, response json.RawMessage) (*AssertionOutcome, error)
	FinishDiscoverableLogin(state []byte, response json.RawMessage, resolve DiscoverableResolver) (*AssertionOutcome, error)
}
