package hashing

import "strings"

// NormalizeAnswer trims, lowercases and collapses inner whitespace so that
// "  New   York" and "new york" hash identically.
func NormalizeAnswer(answer string) string {
	return strings.Join(strings.Fields(strings.ToLower(answer)), " ")
}
