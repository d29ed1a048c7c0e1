// internal/token/token_test.go
package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService("test-secret", "botifex", "botifex-realtime", 5*time.Minute)
	require.NoError(t, err)
	return svc
}

func TestNewService_EmptySecret(t *testing.T) {
	_, err := NewService("", "botifex", "botifex-realtime", time.Minute)
	require.Error(t, err, "an empty signing secret must fail at construction")
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	svc := newTestService(t)

	signed, expiresIn, err := svc.Issue("user-1", []string{"general", "deals"})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, expiresIn)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.True(t, claims.CanJoin("general"))
	assert.True(t, claims.CanJoin("deals"))
	assert.False(t, claims.CanJoin("staff"))
}

func TestVerify_MissingToken(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerify_Expired(t *testing.T) {
	svc := newTestService(t)

	issued := time.Now()
	svc.now = func() time.Time { return issued }
	signed, _, err := svc.Issue("user-1", nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(6 * time.Minute) }
	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	svc := newTestService(t)
	other, err := NewService("other-secret", "botifex", "botifex-realtime", time.Minute)
	require.NoError(t, err)

	signed, _, err := other.Issue("user-1", nil)
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_AudienceMismatch(t *testing.T) {
	svc := newTestService(t)
	foreign, err := NewService("test-secret", "botifex", "some-other-service", time.Minute)
	require.NoError(t, err)

	signed, _, err := foreign.Issue("user-1", nil)
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	assert.ErrorIs(t, err, ErrAudienceMismatch)
}

func TestVerify_Garbage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
