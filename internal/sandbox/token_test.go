// internal/sandbox/token_test.go
package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerify(t *testing.T) {
	m := NewTokenMinter("test-secret", time.Minute)
	require.True(t, m.Enabled())

	token, err := m.Mint("session-1")
	require.NoError(t, err)

	sid, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "session-1", sid)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := NewTokenMinter("secret-a", time.Minute).Mint("session-1")
	require.NoError(t, err)

	_, err = NewTokenMinter("secret-b", time.Minute).Verify(token)
	assert.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	// A non-positive TTL is normalized at construction, so build the
	// expired minter directly.
	m := &TokenMinter{secret: []byte("test-secret"), ttl: -2 * time.Minute}
	token, err := m.Mint("session-1")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestDisabledMinter(t *testing.T) {
	m := NewTokenMinter("", time.Minute)
	assert.False(t, m.Enabled())
}
