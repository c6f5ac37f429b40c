package goMFA

import (
	"context"
)

// Status is the user-facing MFA summary. It never contains secrets.
type Status struct {
	UserID                      string                       `json:"userId"`
	EnabledMethods              []Method                     `json:"enabledMethods"`
	PreferredMethod             Method                       `json:"preferredMethod"`
	LoginWithWebAuthn           bool                         `json:"loginWithWebAuthn"`
	Methods                     map[Method]MethodDescription `json:"methods"`
	BackupCodes                 BackupCodeStatus             `json:"backupCodes"`
	Credentials                 CredentialGroups             `json:"credentials"`
	SecurityQuestionsConfigured bool                         `json:"securityQuestionsConfigured"`
}

type BackupCodeStatus struct {
	Present   bool `json:"present"`
	Total     int  `json:"total"`
	Remaining int  `json:"remaining"`
}

// CredentialGroups splits WebAuthn credentials by role.
type CredentialGroups struct {
	Primary   []WebAuthnCredential `json:"primary"`
	Secondary []WebAuthnCredential `json:"secondary"`
}

// Status describes the status operation and its observable behavior.
//
// Status reads the profile and every factor, deriving each method's
// enrollment state from persisted data and outstanding challenges. A user
// without a profile gets the default, all-disabled view.
func (e *Engine) Status(ctx context.Context, userID string) (*Status, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		UserID:            userID,
		EnabledMethods:    append([]Method{}, p.EnabledMethods...),
		PreferredMethod:   p.PreferredMethod,
		LoginWithWebAuthn: p.LoginWithWebAuthn,
		Methods:           make(map[Method]MethodDescription, len(enrollableOrder)),
		Credentials: CredentialGroups{
			Primary:   []WebAuthnCredential{},
			Secondary: []WebAuthnCredential{},
		},
	}
	if st.PreferredMethod == "" {
		st.PreferredMethod = MethodNone
	}

	for _, m := range enrollableOrder {
		d, err := e.methods[m].Describe(ctx, userID, p)
		if err != nil {
			return nil, err
		}
		st.Methods[m] = d
	}

	codes, err := e.store.ListBackupCodes(ctx, userID)
	if err != nil {
		return nil, e.storeErr("list backup codes", err)
	}
	st.BackupCodes.Total = len(codes)
	st.BackupCodes.Present = len(codes) > 0
	for _, c := range codes {
		if !c.Used {
			st.BackupCodes.Remaining++
		}
	}

	creds, err := e.store.ListCredentials(ctx, userID, "")
	if err != nil {
		return nil, e.storeErr("list credentials", err)
	}
	for _, c := range creds {
		c.PublicKey = nil
		switch c.Role {
		case RolePrimary:
			st.Credentials.Primary = append(st.Credentials.Primary, c)
		case RoleSecondary:
			st.Credentials.Secondary = append(st.Credentials.Secondary, c)
		}
	}

	answers, err := e.store.GetSecurityAnswers(ctx, userID)
	if err != nil {
		return nil, e.storeErr("get security answers", err)
	}
	st.SecurityQuestionsConfigured = len(answers) > 0

	return st, nil
}
