package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndVerify(t *testing.T) {
	m := NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("alice", "tenant-a", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.VerifyToken(tok)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "tenant-a", claims.TenantID)
	require.True(t, claims.IsAdmin())
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	tok, err := NewJWTManager("one", 1).GenerateToken("bob", "t", "USER")
	require.NoError(t, err)

	_, err = NewJWTManager("two", 1).VerifyToken(tok)
	require.Error(t, err)
}

func TestVerifyRejectsExpired(t *testing.T) {
	m := NewJWTManager("secret", -1)
	tok, err := m.GenerateToken("bob", "t", "USER")
	require.NoError(t, err)

	_, err = m.VerifyToken(tok)
	require.Error(t, err)
}
