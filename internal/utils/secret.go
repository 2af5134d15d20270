package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix marks secrets issued by this gateway.
const APIKeyPrefix = "rgw_"

// NewAPIKey returns a fresh plaintext API secret: the prefix followed by
// 32 random bytes hex-encoded. bcrypt only reads the first 72 bytes of its
// input, so the key must stay below that.
func NewAPIKey() (string, error) {
	raw, err := randomHex(32)
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + raw, nil
}

// HashSecret returns the bcrypt hash of a plaintext secret using the given cost.
func HashSecret(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifySecret compares a bcrypt hash and a plaintext secret. An empty hash
// (revoked secret) never verifies.
func VerifySecret(hash, plain string) bool {
	if hash == "" || plain == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Fingerprint returns the SHA-256 hex digest of a plaintext secret. It is
// only ever used as a cache key; authentication always goes through
// VerifySecret.
func Fingerprint(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
