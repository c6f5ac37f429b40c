// Package backupcode generates, formats and hashes single-use recovery codes.
package backupcode

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"
	"strings"
)

// Alphabet omits characters that are easy to confuse when read aloud or
// typed from paper (0/O, 1/I).
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RandomIndex returns a uniform index in [0, max).
type RandomIndex func(max int) (int, error)

// New returns one code of the given length in canonical form.
func New(length int, randomIndex RandomIndex) (string, error) {
	if length <= 0 {
		return "", errors.New("backup code length must be > 0")
	}
	if randomIndex == nil {
		randomIndex = CryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n])
	}
	return b.String(), nil
}

// Generate returns count distinct canonical codes.
func Generate(count, length int, randomIndex RandomIndex) ([]string, error) {
	if count <= 0 {
		return nil, errors.New("backup code count must be > 0")
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)
	// Collisions are astronomically rare at the default length; the bound
	// only protects against a broken RandomIndex.
	for tries := 0; len(codes) < count; tries++ {
		if tries > count*16 {
			return nil, errors.New("backup code generation did not converge")
		}
		code, err := New(length, randomIndex)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// Format splits a canonical code in two halves for display: XXXXX-XXXXX.
func Format(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// Canonicalize uppercases and strips separators a user may have typed.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// Valid reports whether a canonical code has the expected length and only
// alphabet characters.
func Valid(canonical string, length int) bool {
	if len(canonical) != length {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(Alphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}

// Hash binds a canonical code to its owner.
func Hash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func CryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
