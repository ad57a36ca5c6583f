// Package knol derives content keys for cards so that two cards with the same
// text, modulo case and surrounding whitespace, compare equal.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize joins the cleaned front and back of a card. Each part is
// lowercased, trimmed and has its line endings normalized.
func Normalize(front, back string) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}

	// The separator keeps "ab"+"c" apart from "a"+"bc".
	return normalizePart(front) + "\n" + normalizePart(back)
}

// Hash returns the SHA-256 of the normalized card text as a hex string.
func Hash(front, back string) string {
	sum := sha256.Sum256([]byte(Normalize(front, back)))
	return fmt.Sprintf("%x", sum)
}

// Same reports whether two cards carry the same content.
func Same(frontA, backA, frontB, backB string) bool {
	return Normalize(frontA, backA) == Normalize(frontB, backB)
}
