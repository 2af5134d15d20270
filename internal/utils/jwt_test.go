package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "octocat", RoleAdmin, time.Minute)
	require.NoError(t, err)

	claims, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "octocat", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Minute), tok.Exp, 5*time.Second)
}

func TestParseAccessTokenRejects(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "octocat", RoleUser, time.Minute)
	require.NoError(t, err)

	_, err = ParseAccessToken("other", tok.Token)
	assert.Error(t, err)

	expired, err := NewAccessToken("s3cret", "octocat", RoleUser, -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccessToken("s3cret", expired.Token)
	assert.Error(t, err)

	_, err = NewAccessToken("s3cret", "", RoleUser, time.Minute)
	assert.Error(t, err)
}
