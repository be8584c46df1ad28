package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m, err := NewJWTManager("secret", time.Minute, "catalog-sync")
	require.NoError(t, err)

	token, err := m.Generate("ops", []string{PermissionRunSync})
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.True(t, claims.HasPermission(PermissionRunSync))
	assert.False(t, claims.HasPermission(PermissionReadRuns))
}

func TestJWTManager_Wildcard(t *testing.T) {
	c := &Claims{Permissions: []string{"*"}}
	assert.True(t, c.HasPermission(PermissionReadRuns))
}

func TestJWTManager_Rejects(t *testing.T) {
	m, err := NewJWTManager("secret", time.Minute, "catalog-sync")
	require.NoError(t, err)
	other, err := NewJWTManager("other", time.Minute, "catalog-sync")
	require.NoError(t, err)
	expired, err := NewJWTManager("secret", time.Nanosecond, "catalog-sync")
	require.NoError(t, err)

	foreign, err := other.Generate("ops", nil)
	require.NoError(t, err)
	_, err = m.Validate(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	old, err := expired.Generate("ops", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = m.Validate(old)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = m.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager("", time.Minute, "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}
