package goMFA

import (
	"reflect"
	"testing"
)

func TestProfileNormalizeKeepsPreferredInvariant(t *testing.T) {
	tests := []struct {
		name      string
		enabled   []Method
		preferred Method
		wantOrder []Method
		wantPref  Method
	}{
		{"empty", nil, MethodEmail, []Method{}, MethodNone},
		{"keeps enabled preferred", []Method{MethodWebAuthn, MethodEmail}, MethodEmail, []Method{MethodEmail, MethodWebAuthn}, MethodEmail},
		{"app wins", []Method{MethodEmail, MethodWebAuthn, MethodApp}, MethodNone, []Method{MethodEmail, MethodApp, MethodWebAuthn}, MethodApp},
		{"webauthn before email", []Method{MethodEmail, MethodWebAuthn}, MethodApp, []Method{MethodEmail, MethodWebAuthn}, MethodWebAuthn},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &Profile{EnabledMethods: tc.enabled, PreferredMethod: tc.preferred}
			p.normalize()
			if !reflect.DeepEqual(p.EnabledMethods, tc.wantOrder) {
				t.Fatalf("order = %v, want %v", p.EnabledMethods, tc.wantOrder)
			}
			if p.PreferredMethod != tc.wantPref {
				t.Fatalf("preferred = %s, want %s", p.PreferredMethod, tc.wantPref)
			}
		})
	}
}

func TestProfileRemoveMethodReassigns(t *testing.T) {
	p := NewProfile("u1")
	p.addMethod(MethodEmail)
	p.addMethod(MethodApp)
	p.PreferredMethod = MethodApp

	p.removeMethod(MethodApp)
	if p.PreferredMethod != MethodEmail {
		t.Fatalf("expected email after removing app, got %s", p.PreferredMethod)
	}
	p.removeMethod(MethodEmail)
	if p.PreferredMethod != MethodNone || len(p.EnabledMethods) != 0 {
		t.Fatalf("expected empty profile, got %+v", p)
	}
}

func TestParseHelpers(t *testing.T) {
	if m, err := ParseMethod(" Backup_Code "); err != nil || m != MethodBackupCode {
		t.Fatalf("ParseMethod = %q, %v", m, err)
	}
	if _, err := ParseMethod(""); err != ErrInvalidMethod {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
	if _, err := ParseRole("tertiary"); err != ErrInvalidRole {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if c, err := ParseChallengeContext("DISABLE"); err != nil || c != ContextDisable {
		t.Fatalf("ParseChallengeContext = %q, %v", c, err)
	}
	if MethodBackupCode.Enrollable() || !MethodWebAuthn.Enrollable() {
		t.Fatal("unexpected Enrollable result")
	}
}
