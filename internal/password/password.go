// Package password provides the salted hash used for stored credentials:
// PBKDF2-SHA512, 1000 iterations, 64-byte key, hex-encoded, with a random
// 16-byte per-user salt.
package password

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes  = 16
	iterations = 1000
	keyLen     = 64
)

// NewSalt returns a fresh hex-encoded random salt.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Hash derives the stored hash for a plaintext password and salt.
func Hash(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, keyLen, sha512.New)
	return hex.EncodeToString(key)
}

// Check reports whether the candidate password matches the stored hash.
// The comparison is constant-time.
func Check(candidate, salt, storedHash string) bool {
	derived := Hash(candidate, salt)
	return subtle.ConstantTimeCompare([]byte(derived), []byte(storedHash)) == 1
}
