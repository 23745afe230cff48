package usecase

import (
	"context"
	"testing"
	"time"

	"drinkshop-backend/internal/domain"
	"drinkshop-backend/internal/infrastructure/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type AuthServiceSuite struct {
	suite.Suite
	clock *fakeClock
	users *repo.MemoryUserRepo
	svc   *AuthService
}

func (s *AuthServiceSuite) SetupTest() {
	s.clock = newClock()
	s.users = repo.NewMemoryUserRepo()
	s.svc = &AuthService{
		Repo:       s.users,
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Logger:     zaptest.NewLogger(s.T()),
		Now:        s.clock.Now,
	}
}

func TestAuthServiceSuite(t *testing.T) {
	suite.Run(t, new(AuthServiceSuite))
}

func (s *AuthServiceSuite) TestRegisterLoginVerify() {
	ctx := context.Background()
	pair, u, err := s.svc.Register(ctx, RegisterInput{Phone: "0901234567", Name: "Lan", Password: "secret1"})
	s.Require().NoError(err)
	s.Equal(domain.RoleCustomer, u.Role)
	s.Equal("Bearer", pair.TokenType)

	actor, err := s.svc.Verify(pair.AccessToken)
	s.Require().NoError(err)
	s.Equal(u.UserID, actor.ID)
	s.Equal(domain.RoleCustomer, actor.Role)

	_, _, err = s.svc.Register(ctx, RegisterInput{Phone: "0901234567", Password: "secret2"})
	s.ErrorIs(err, domain.ErrUserExists)

	_, _, err = s.svc.Login(ctx, "0901234567", "wrong-pw")
	s.ErrorIs(err, domain.ErrInvalidCredentials)
	_, _, err = s.svc.Login(ctx, "0999999999", "secret1")
	s.ErrorIs(err, domain.ErrInvalidCredentials)

	pair, _, err = s.svc.Login(ctx, " 0901234567 ", "secret1")
	s.Require().NoError(err)
	s.NotEmpty(pair.RefreshToken)
}

func (s *AuthServiceSuite) TestRefreshTokenCannotAuthorize() {
	pair, _, err := s.svc.Register(context.Background(), RegisterInput{Phone: "0901", Password: "secret1"})
	s.Require().NoError(err)

	_, err = s.svc.Verify(pair.RefreshToken)
	s.ErrorIs(err, domain.ErrUnauthorized)

	_, err = s.svc.Refresh(context.Background(), pair.AccessToken)
	s.ErrorIs(err, domain.ErrSessionExpired)
}

func (s *AuthServiceSuite) TestExpiry() {
	ctx := context.Background()
	pair, _, err := s.svc.Register(ctx, RegisterInput{Phone: "0902", Password: "secret1"})
	s.Require().NoError(err)

	s.clock.Advance(16 * time.Minute)
	_, err = s.svc.Verify(pair.AccessToken)
	s.ErrorIs(err, domain.ErrUnauthorized)

	next, err := s.svc.Refresh(ctx, pair.RefreshToken)
	s.Require().NoError(err)
	_, err = s.svc.Verify(next.AccessToken)
	s.NoError(err)

	s.clock.Advance(25 * time.Hour)
	_, err = s.svc.Refresh(ctx, pair.RefreshToken)
	s.ErrorIs(err, domain.ErrSessionExpired)
}

func (s *AuthServiceSuite) TestForeignSignatureRejected() {
	pair, _, err := s.svc.Register(context.Background(), RegisterInput{Phone: "0903", Password: "secret1"})
	s.Require().NoError(err)

	other := *s.svc
	other.JWTSecret = "another-secret"
	_, err = other.Verify(pair.AccessToken)
	s.ErrorIs(err, domain.ErrUnauthorized)
	_, err = s.svc.Verify("not-a-token")
	s.ErrorIs(err, domain.ErrUnauthorized)
}

func (s *AuthServiceSuite) TestCreateUser() {
	ctx := context.Background()
	in := CreateUserInput{Phone: "0911", Name: "Minh", Password: "secret1", Role: domain.RoleStaff}

	_, err := s.svc.CreateUser(ctx, staff, in)
	s.ErrorIs(err, domain.ErrForbidden)

	_, err = s.svc.CreateUser(ctx, admin, in)
	s.ErrorIs(err, domain.ErrMissingStore)

	in.StoreID = "store-1"
	u, err := s.svc.CreateUser(ctx, admin, in)
	s.Require().NoError(err)
	s.Equal("store-1", u.StoreID)

	pair, _, err := s.svc.Login(ctx, "0911", "secret1")
	s.Require().NoError(err)
	actor, err := s.svc.Verify(pair.AccessToken)
	s.Require().NoError(err)
	s.Equal("store-1", actor.StoreID)

	_, err = s.svc.CreateUser(ctx, admin, CreateUserInput{Phone: "0912", Password: "short", Role: domain.RoleShipper})
	s.ErrorIs(err, domain.ErrInvalidInput)
	_, err = s.svc.CreateUser(ctx, admin, CreateUserInput{Phone: "0913", Password: "secret1", Role: domain.RoleSystem})
	s.ErrorIs(err, domain.ErrInvalidInput)
}

func TestAuthService_EnsureAdminIsIdempotent(t *testing.T) {
	users := repo.NewMemoryUserRepo()
	svc := &AuthService{Repo: users, JWTSecret: "x"}
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "0900000000", "admin123"))
	require.NoError(t, svc.EnsureAdmin(ctx, "0900000000", "admin123"))
	require.NoError(t, svc.EnsureAdmin(ctx, "", ""))

	u, ok, err := users.GetUserByPhone(ctx, "0900000000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RoleAdmin, u.Role)
}
