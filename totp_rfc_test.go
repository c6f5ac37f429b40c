package goMFA

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := newTOTPManager(AppConfig{
		Issuer:    "goMFA",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      0,
	})
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := newTOTPManager(AppConfig{
		Issuer:    "goMFA",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA256",
		Skew:      0,
	})
	secret := []byte("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := newTOTPManager(AppConfig{
		Issuer:    "goMFA",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA512",
		Skew:      0,
	})
	secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPDriftWindowAcceptsAdjacentStep(t *testing.T) {
	m := newTOTPManager(AppConfig{
		Issuer:    "goMFA",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	})
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	prevCounter := (now.Unix() / 30) - 1
	code, err := hotpCode(secret, prevCounter, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}

	ok, _, err := m.VerifyCode(secret, code, now)
	if err != nil || !ok {
		t.Fatalf("expected skew code accepted, ok=%v err=%v", ok, err)
	}
}

func TestTOTPWrongDigitsRejected(t *testing.T) {
	m := newTOTPManager(AppConfig{
		Issuer:    "goMFA",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	})
	secret := []byte("12345678901234567890")
	ok, _, err := m.VerifyCode(secret, "12345678", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong-length code to be rejected")
	}
}

func TestTOTPGenerateMatchesAuthenticator(t *testing.T) {
	m := newTOTPManager(AppConfig{
		Issuer:     "goMFA",
		Digits:     6,
		Period:     30,
		Algorithm:  "SHA1",
		Skew:       0,
		QRCodeSize: 128,
	})
	enrollment, err := m.Generate("alice@example.com")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasPrefix(enrollment.uri, "otpauth://totp/") {
		t.Fatalf("expected otpauth uri, got %s", enrollment.uri)
	}
	if !strings.Contains(enrollment.uri, "issuer=goMFA") {
		t.Fatalf("expected issuer in uri, got %s", enrollment.uri)
	}
	if !strings.HasPrefix(enrollment.qr, "data:image/png;base64,") {
		t.Fatalf("expected png data url, got %.40s", enrollment.qr)
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(enrollment.secret))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	if string(decoded) != string(enrollment.raw) {
		t.Fatal("base32 secret does not encode the raw key")
	}

	now := time.Unix(1700000000, 0)
	code, err := totp.GenerateCodeCustom(enrollment.secret, now, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom failed: %v", err)
	}
	ok, counter, err := m.VerifyCode(enrollment.raw, code, now)
	if err != nil || !ok {
		t.Fatalf("expected authenticator code accepted, ok=%v err=%v", ok, err)
	}
	if counter != now.Unix()/30 {
		t.Fatalf("expected counter %d, got %d", now.Unix()/30, counter)
	}
}

func TestTOTPRejectsNonNumeric(t *testing.T) {
	m := newTOTPManager(AppConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	ok, _, err := m.VerifyCode([]byte("12345678901234567890"), "12a456", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected non-numeric code to be rejected")
	}
}
