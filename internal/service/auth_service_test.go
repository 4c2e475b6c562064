package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	appErrors "github.com/noah-isme/sma-fee-ledger/pkg/errors"
)

type mockAdminRepo struct {
	admin            *models.Admin
	findByEmailErr   error
	lastLoginUpdated bool
}

func (m *mockAdminRepo) FindByEmail(ctx context.Context, email string) (*models.Admin, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	if m.admin == nil || m.admin.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.admin, nil
}

func (m *mockAdminRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func newTestAdmin(t *testing.T, active bool) *models.Admin {
	t.Helper()
	password, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.Admin{ID: "a1", Name: "Office", Email: "admin@school.test", PasswordHash: string(password), Active: active, Role: models.RoleSuperAdmin}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := &mockAdminRepo{admin: newTestAdmin(t, true)}
	audit := &fakeAuditRepo{}
	svc := NewAuthService(repo, NewAuditService(audit, nil, nil), validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
	})

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: " Admin@School.test ", Password: "password", IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, models.RoleSuperAdmin, res.Admin.Role)
	assert.True(t, repo.lastLoginUpdated)
	require.Equal(t, []models.AuditAction{models.AuditActionLogin}, audit.actions())
	assert.Equal(t, "10.0.0.9", audit.last().IPAddress)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	cases := []struct {
		name  string
		admin *models.Admin
		req   models.LoginRequest
		code  string
	}{
		{"inactive", newTestAdmin(t, false), models.LoginRequest{Email: "admin@school.test", Password: "password"}, appErrors.ErrInactiveAccount.Code},
		{"wrong password", newTestAdmin(t, true), models.LoginRequest{Email: "admin@school.test", Password: "nope"}, appErrors.ErrInvalidCredentials.Code},
		{"unknown email", newTestAdmin(t, true), models.LoginRequest{Email: "other@school.test", Password: "password"}, appErrors.ErrInvalidCredentials.Code},
		{"invalid payload", nil, models.LoginRequest{Email: "not-an-email"}, appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewAuthService(&mockAdminRepo{admin: tc.admin}, nil, validator.New(), zap.NewNop(), AuthConfig{AccessTokenSecret: "secret"})
			_, err := svc.Login(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.FromError(err).Code)
		})
	}
}

func TestAuthServiceLogoutRequiresPrincipal(t *testing.T) {
	audit := &fakeAuditRepo{}
	svc := NewAuthService(&mockAdminRepo{}, NewAuditService(audit, nil, nil), nil, nil, AuthConfig{AccessTokenSecret: "secret"})

	err := svc.Logout(context.Background(), nil)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Logout(context.Background(), testAdmin))
	assert.Equal(t, []models.AuditAction{models.AuditActionLogout}, audit.actions())
}

func TestValidateToken(t *testing.T) {
	svc := NewAuthService(&mockAdminRepo{}, nil, validator.New(), zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour})
	token, err := svc.generateAccessToken(newTestAdmin(t, true), time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.UserID)
	assert.Equal(t, "Office", claims.FullName)
	assert.Equal(t, models.RoleSuperAdmin, claims.Role)

	other := NewAuthService(&mockAdminRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "different"})
	_, err = other.ValidateToken(token)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewAuthService(&mockAdminRepo{}, nil, nil, nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Minute})
	token, err := svc.generateAccessToken(newTestAdmin(t, true), time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}
