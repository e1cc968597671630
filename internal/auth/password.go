// Package auth implements Agent credential hashing, session-token
// issuance/verification and the fiber middleware gating the REST
// surface (spec.md §6: every route except GET/POST /webhook requires
// a valid Agent session). Grounded on the teacher's
// internal/core/auth/{password,jwt,middleware}.go, with password
// hashing swapped from bcrypt to PBKDF2-SHA256 "salt$hex" per
// DESIGN.md's Open Question decision: store.Agent's PasswordHash field
// is explicitly documented as that format.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 120_000
	pbkdf2KeyLen     = 32
	saltLen          = 16
)

// HashPassword derives a PBKDF2-SHA256 key from password under a fresh
// random salt and returns it as "salt$hex" with both halves hex-encoded.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(key), nil
}

// VerifyPassword recomputes the PBKDF2 key under the stored salt and
// compares in constant time.
func VerifyPassword(hashedPassword, password string) error {
	parts := strings.SplitN(hashedPassword, "$", 2)
	if len(parts) != 2 {
		return fmt.Errorf("auth: malformed password hash")
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("auth: decode salt: %w", err)
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("auth: decode key: %w", err)
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return fmt.Errorf("auth: password mismatch")
	}
	return nil
}
