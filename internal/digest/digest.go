// Package digest computes content fingerprints of conversation text, used as
// cache keys. The digest is a pure function of the whitespace-normalized text:
// any change to the conversation changes the digest, and formatting-only
// differences (runs of spaces, leading/trailing whitespace) do not.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize collapses all whitespace runs to single spaces and trims.
func Normalize(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// Conversation returns the hex SHA-256 of the normalized conversation text.
// The empty string is valid input (empty conversation) and digests normally.
func Conversation(text string) string {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:])
}
