package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/checkride-sync/internal/models"
	appErrors "github.com/noah-isme/checkride-sync/pkg/errors"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("cleared-for-takeoff"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService(nil, nil, AuthConfig{
		AccessTokenSecret:        "secret",
		AccessTokenExpiry:        time.Hour,
		Issuer:                   "checkride-sync",
		DeviceID:                 "ipad-1",
		InstructorPassphraseHash: string(hash),
	})
}

func TestLoginInstructor(t *testing.T) {
	svc := newTestAuthService(t)

	resp, err := svc.LoginInstructor(context.Background(), models.InstructorLoginRequest{Passphrase: "cleared-for-takeoff"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, resp.Role)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleInstructor, claims.Role)
	assert.Equal(t, "ipad-1", claims.DeviceID)
}

func TestLoginInstructorRejectsWrongPassphrase(t *testing.T) {
	svc := newTestAuthService(t)

	_, err := svc.LoginInstructor(context.Background(), models.InstructorLoginRequest{Passphrase: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	_, err = svc.LoginInstructor(context.Background(), models.InstructorLoginRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestLoginInstructorNotConfigured(t *testing.T) {
	svc := NewAuthService(nil, nil, AuthConfig{AccessTokenSecret: "secret"})
	_, err := svc.LoginInstructor(context.Background(), models.InstructorLoginRequest{Passphrase: "x"})
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestStudentTokenIsScoped(t *testing.T) {
	svc := newTestAuthService(t)

	resp, err := svc.IssueStudentToken("student-1")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, "student-1", claims.StudentID)

	_, err = svc.IssueStudentToken("")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	svc := newTestAuthService(t)
	other := NewAuthService(nil, nil, AuthConfig{AccessTokenSecret: "other"})

	resp, err := other.IssueStudentToken("student-1")
	require.NoError(t, err)
	_, err = svc.ValidateToken(resp.AccessToken)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}
