package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// maxNormalizePasses bounds the lower/compose loop. Every rune in Unicode
// settles within two passes.
const maxNormalizePasses = 4

// Normalize canonicalizes query text. Case, Unicode composition, surrounding
// whitespace and internal whitespace runs do not affect the result, and
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	out := normalizeOnce(text)
	for i := 1; i < maxNormalizePasses; i++ {
		next := normalizeOnce(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func normalizeOnce(text string) string {
	// A Caser is stateful, so one is built per call.
	lowered := norm.NFC.String(cases.Lower(language.Und).String(text))
	return strings.Join(strings.Fields(lowered), " ")
}

// DeriveKey returns the hex SHA-256 of the normalized text.
func DeriveKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
