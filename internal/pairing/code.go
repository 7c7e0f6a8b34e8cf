package pairing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// codeAlphabet excludes characters that read ambiguously when a user
// copies a code from a device screen (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// generateCode returns a cryptographically random pairing code of the
// given length drawn from the unambiguous alphabet.
func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}

	code := make([]byte, length)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

// hashCode returns the hex SHA-256 of a pairing code. Only hashes are
// stored; the raw code exists solely in the response to the requester.
func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// codeMatches compares a submitted code against a stored hash in
// constant time.
func codeMatches(storedHash, submitted string) bool {
	submittedHash := hashCode(submitted)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(submittedHash)) == 1
}
