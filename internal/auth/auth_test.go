package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/harunnryd/warden/internal/audit"
	"github.com/harunnryd/warden/internal/clock"
	wardenErrors "github.com/harunnryd/warden/internal/errors"
)

func newTestService(t *testing.T, c clock.Clock, rec audit.Logger) *Service {
	t.Helper()
	svc, err := NewService(Options{Secret: "test-jwt", TokenExpiry: time.Minute, Clock: c, Audit: rec, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresSecret(t *testing.T) {
	_, err := NewService(Options{})
	assert.ErrorIs(t, err, wardenErrors.ErrInvalidInput)
}

func TestRegisterAuthenticateVerify(t *testing.T) {
	rec := audit.NewRecorder()
	svc := newTestService(t, nil, rec)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "Alice", "s3cret", "employee"))
	assert.ErrorIs(t, svc.Register(ctx, "alice", "other", "admin"), wardenErrors.ErrConflict)

	token, err := svc.Authenticate(ctx, "ALICE", "s3cret")
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "employee", claims.Role)
	assert.NotNil(t, claims.IssuedAt)
	assert.True(t, rec.Has(audit.StreamAudit, "user_registered"))
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	rec := audit.NewRecorder()
	svc := newTestService(t, nil, rec)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "bob", "right", "admin"))

	_, err := svc.Authenticate(ctx, "bob", "wrong")
	assert.ErrorIs(t, err, wardenErrors.ErrUnauthenticated)
	_, err = svc.Authenticate(ctx, "nobody", "right")
	assert.ErrorIs(t, err, wardenErrors.ErrUnauthenticated)
	assert.True(t, rec.Has(audit.StreamSecurity, "authentication_failed"))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	svc := newTestService(t, fake, nil)

	token, err := svc.Issue("carol", "auditor")
	require.NoError(t, err)
	_, err = svc.Verify(token)
	require.NoError(t, err)

	fake.Advance(2 * time.Minute)
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, wardenErrors.ErrUnauthenticated)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	svc := newTestService(t, nil, nil)
	other, err := NewService(Options{Secret: "someone-else"})
	require.NoError(t, err)

	token, err := other.Issue("mallory", "admin")
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, wardenErrors.ErrUnauthenticated)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	svc := newTestService(t, nil, nil)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "eve", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             "admin",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, wardenErrors.ErrUnauthenticated)
}
