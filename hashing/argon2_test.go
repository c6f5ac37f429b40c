package hashing

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() Config {
	return Config{
		Memory:        8 * 1024,
		Time:          1,
		Parallelism:   1,
		SaltLength:    16,
		KeyLength:     32,
		MinInputBytes: 1,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher, err := New(testConfig())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	hash, err := hasher.Hash("blue")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify("blue", hash)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("green", hash)
	if err != nil || ok {
		t.Fatalf("expected wrong input to fail: ok=%v err=%v", ok, err)
	}
}

func TestMinInputBytes(t *testing.T) {
	cfg := testConfig()
	cfg.MinInputBytes = 10
	hasher, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := hasher.Hash("short"); !errors.Is(err, ErrInputTooShort) {
		t.Fatalf("expected ErrInputTooShort, got %v", err)
	}
}

func TestVerifyBcrypt(t *testing.T) {
	hasher, _ := New(testConfig())
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	ok, err := hasher.Verify("correct horse", string(hash))
	if err != nil || !ok {
		t.Fatalf("bcrypt verify: ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("wrong", string(hash))
	if err != nil || ok {
		t.Fatalf("bcrypt mismatch: ok=%v err=%v", ok, err)
	}
	rehash, _ := hasher.NeedsRehash(string(hash))
	if !rehash {
		t.Fatal("bcrypt hashes should be flagged for rehash")
	}
}

func TestNeedsRehash(t *testing.T) {
	weak, _ := New(testConfig())
	hash, _ := weak.Hash("answer")

	strongCfg := testConfig()
	strongCfg.Time = 3
	strong, _ := New(strongCfg)

	needs, err := strong.NeedsRehash(hash)
	if err != nil || !needs {
		t.Fatalf("expected rehash: needs=%v err=%v", needs, err)
	}
	needs, err = weak.NeedsRehash(hash)
	if err != nil || needs {
		t.Fatalf("same params must not need rehash: needs=%v err=%v", needs, err)
	}
}

func TestVerifyRejectsMalformed(t *testing.T) {
	hasher, _ := New(testConfig())
	tests := []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=10,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
	}
	for _, encoded := range tests {
		if ok, err := hasher.Verify("x", encoded); err == nil || ok {
			t.Fatalf("expected %q to be rejected", encoded)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := New(cfg); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
	cfg = testConfig()
	cfg.SaltLength = 8
	if _, err := New(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestNormalizeAnswer(t *testing.T) {
	tests := map[string]string{
		"  New   York ": "new york",
		"FIDO":          "fido",
		"\tspot\n":      "spot",
		"":              "",
	}
	for in, want := range tests {
		if got := NormalizeAnswer(in); got != want {
			t.Fatalf("NormalizeAnswer(%q) = %q, want %q", in, got, want)
		}
	}
}
