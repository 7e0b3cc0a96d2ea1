package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundtrip(t *testing.T) {
	a := New("secret", time.Hour)

	token, err := a.Issue("viewer-1")
	require.NoError(t, err)

	subject, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "viewer-1", subject)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	token, err := New("secret-a", time.Hour).Issue("viewer-1")
	require.NoError(t, err)

	_, err = New("secret-b", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	a := New("secret", time.Millisecond)
	token, err := a.Issue("viewer-1")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	a := New("secret", time.Hour)
	_, err := a.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDisabledWithoutKey(t *testing.T) {
	a := New("", time.Hour)
	assert.False(t, a.Enabled())

	_, err := a.Issue("viewer-1")
	assert.Error(t, err)
}
