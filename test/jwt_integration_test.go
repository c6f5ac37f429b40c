//go:build integration
// +build integration

package test

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goMFA/jwt"
	gjwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTIntegrationHardeningChecks(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	manager, err := jwt.NewManager(jwt.Config{
		TTL:           time.Minute,
		SigningMethod: jwt.MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "gomfa",
		Audience:      "api",
		Leeway:        30 * time.Second,
		KeyID:         "k1",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	stepUp, err := manager.Issue(jwt.PurposeStepUp, "u1", []string{"app"}, true, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := manager.Parse(stepUp, jwt.PurposeStepUp)
	if err != nil {
		t.Fatalf("Parse valid token failed: %v", err)
	}
	if claims.UID != "u1" || !claims.Remember || len(claims.Methods) != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := manager.Parse(stepUp, jwt.PurposeSession); !errors.Is(err, jwt.ErrPurposeMismatch) {
		t.Fatalf("step-up token accepted as session: %v", err)
	}

	badClaims := jwt.Claims{
		UID:     "u1",
		Purpose: jwt.PurposeStepUp,
		RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    "gomfa",
			Audience:  gjwt.ClaimStrings{"api"},
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
		},
	}

	badToken := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, badClaims)
	badToken.Header["kid"] = "unknown"
	signedBad, err := badToken.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := manager.Parse(signedBad, jwt.PurposeStepUp); err == nil {
		t.Fatal("expected unknown kid token to fail")
	}
}
