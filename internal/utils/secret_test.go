package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashSecretVerifiesOnlyOriginal(t *testing.T) {
	plain, err := NewAPIKey()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(plain, APIKeyPrefix))
	assert.Len(t, plain, len(APIKeyPrefix)+64)

	hash, err := HashSecret(plain, bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, plain, hash)

	assert.True(t, VerifySecret(hash, plain))

	// one character changed at the end and at the start of the random part
	last := plain[len(plain)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	assert.False(t, VerifySecret(hash, plain[:len(plain)-1]+string(flipped)))
	assert.False(t, VerifySecret(hash, plain[:len(plain)-1]))
	assert.False(t, VerifySecret(hash, plain+"a"))
	assert.False(t, VerifySecret(hash, ""))
}

func TestVerifySecretRevokedHash(t *testing.T) {
	assert.False(t, VerifySecret("", "rgw_anything"))
}

func TestNewAPIKeyIsRandom(t *testing.T) {
	a, err := NewAPIKey()
	require.NoError(t, err)
	b, err := NewAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFingerprintIsStable(t *testing.T) {
	assert.Equal(t, Fingerprint("rgw_x"), Fingerprint("rgw_x"))
	assert.NotEqual(t, Fingerprint("rgw_x"), Fingerprint("rgw_y"))
	assert.Len(t, Fingerprint("rgw_x"), 64)
}
