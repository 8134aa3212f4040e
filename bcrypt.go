package auth

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"
)

var hashCost atomic.Int64

func init() {
	hashCost.Store(int64(passwordHashCost()))
}

// SetPasswordHashCost overrides the bcrypt cost, mostly useful in tests.
func SetPasswordHashCost(cost int) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	hashCost.Store(int64(cost))
}

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), int(hashCost.Load()))
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return err
	}
	return nil
}

// NewSalt returns a random hex salt for the legacy scheme.
func NewSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashLegacyPassword computes the legacy salted digest, hex(sha1(salt + password)).
func HashLegacyPassword(password, salt string) string {
	sum := sha1.Sum([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

// CompareLegacyPassword checks a password against a legacy salted digest.
func CompareLegacyPassword(password, salt, hash string) error {
	if hash == "" {
		return ErrMismatchedHashAndPassword
	}
	got := HashLegacyPassword(password, salt)
	if subtle.ConstantTimeCompare([]byte(got), []byte(hash)) != 1 {
		return ErrMismatchedHashAndPassword
	}
	return nil
}

// PasswordHashes holds both credential slots of a user.
type PasswordHashes struct {
	Salt         string
	LegacyHash   string
	PasswordHash string
}

// HashCredential hashes raw with both schemes so older consumers of the
// legacy slot keep working while the modern slot is rolled out.
func HashCredential(raw string) (PasswordHashes, error) {
	if raw == "" {
		return PasswordHashes{}, ErrNoEmptyString
	}
	salt, err := NewSalt()
	if err != nil {
		return PasswordHashes{}, err
	}
	modern, err := HashPassword(raw)
	if err != nil {
		return PasswordHashes{}, err
	}
	return PasswordHashes{
		Salt:         salt,
		LegacyHash:   HashLegacyPassword(raw, salt),
		PasswordHash: modern,
	}, nil
}

// Patch returns a patch setting the credential slots.
func (h PasswordHashes) Patch() UserPatch {
	return UserPatch{
		Salt:         ptr(h.Salt),
		LegacyHash:   ptr(h.LegacyHash),
		PasswordHash: ptr(h.PasswordHash),
	}
}
