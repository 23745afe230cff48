package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drinkshop-backend/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type UserRepo interface {
	// PutUser stores a new user; a taken phone number fails with
	// domain.ErrUserExists.
	PutUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, bool, error)
	GetUserByPhone(ctx context.Context, phone string) (*domain.User, bool, error)
}

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

type Claims struct {
	UserID  string      `json:"user_id"`
	Role    domain.Role `json:"role"`
	StoreID string      `json:"store_id,omitempty"`
	Type    string      `json:"typ"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type AuthService struct {
	Repo       UserRepo
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

type RegisterInput struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type CreateUserInput struct {
	Phone    string      `json:"phone"`
	Name     string      `json:"name"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
	StoreID  string      `json:"storeId"`
}

func (s *AuthService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *AuthService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return 15 * time.Minute
	}
	return s.AccessTTL
}

func (s *AuthService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.RefreshTTL
}

// Register signs up a customer and logs them in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*TokenPair, *domain.User, error) {
	u, err := s.createUser(ctx, CreateUserInput{
		Phone:    in.Phone,
		Name:     in.Name,
		Password: in.Password,
		Role:     domain.RoleCustomer,
	})
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.issue(u)
	if err != nil {
		return nil, nil, err
	}
	return pair, u, nil
}

func (s *AuthService) Login(ctx context.Context, phone, password string) (*TokenPair, *domain.User, error) {
	u, ok, err := s.Repo.GetUserByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		return nil, nil, err
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, domain.ErrInvalidCredentials
	}
	pair, err := s.issue(u)
	if err != nil {
		return nil, nil, err
	}
	return pair, u, nil
}

// Refresh exchanges a refresh token for a new pair. Any failure means the
// session is over and the client must log in again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	c, err := s.parse(refreshToken)
	if err != nil || c.Type != tokenRefresh {
		return nil, domain.ErrSessionExpired
	}
	u, ok, err := s.Repo.GetUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrSessionExpired
	}
	return s.issue(u)
}

// Verify checks an access token and returns the actor it was issued to.
func (s *AuthService) Verify(token string) (domain.Actor, error) {
	c, err := s.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, fmt.Errorf("%w: access token expired", domain.ErrUnauthorized)
		}
		return domain.Actor{}, domain.ErrUnauthorized
	}
	if c.Type != tokenAccess || !c.Role.Valid() {
		return domain.Actor{}, domain.ErrUnauthorized
	}
	return domain.Actor{ID: c.UserID, Role: c.Role, StoreID: c.StoreID}, nil
}

// CreateUser lets an admin open staff, shipper or admin accounts.
func (s *AuthService) CreateUser(ctx context.Context, actor domain.Actor, in CreateUserInput) (*domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, domain.ErrForbidden
	}
	return s.createUser(ctx, in)
}

// EnsureAdmin creates the bootstrap admin account when it does not exist.
func (s *AuthService) EnsureAdmin(ctx context.Context, phone, password string) error {
	if phone == "" || password == "" {
		return nil
	}
	_, ok, err := s.Repo.GetUserByPhone(ctx, phone)
	if err != nil || ok {
		return err
	}
	_, err = s.createUser(ctx, CreateUserInput{Phone: phone, Name: "admin", Password: password, Role: domain.RoleAdmin})
	if errors.Is(err, domain.ErrUserExists) {
		return nil
	}
	return err
}

func (s *AuthService) createUser(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" || len(in.Password) < 6 {
		return nil, fmt.Errorf("%w: phone and a password of at least 6 characters are required", domain.ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, in.Role)
	}
	if in.Role == domain.RoleStaff && strings.TrimSpace(in.StoreID) == "" {
		return nil, fmt.Errorf("%w: staff accounts need a store", domain.ErrMissingStore)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := nowFunc(s.Now)
	u := &domain.User{
		UserID:       uuid.NewString(),
		Phone:        phone,
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Role == domain.RoleStaff {
		u.StoreID = strings.TrimSpace(in.StoreID)
	}
	if err := s.Repo.PutUser(ctx, u); err != nil {
		return nil, err
	}
	s.logger().Info("user created", zap.String("user_id", u.UserID), zap.String("role", string(u.Role)))
	return u, nil
}

func (s *AuthService) issue(u *domain.User) (*TokenPair, error) {
	now := nowFunc(s.Now)
	access, err := s.sign(u, tokenAccess, now, s.accessTTL())
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(u, tokenRefresh, now, s.refreshTTL())
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    now.Add(s.accessTTL()),
	}, nil
}

func (s *AuthService) sign(u *domain.User, typ string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		UserID:  u.UserID,
		Role:    u.Role,
		StoreID: u.StoreID,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.JWTSecret))
}

func (s *AuthService) parse(token string) (*Claims, error) {
	c := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(s.Now))
	}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return c, nil
}
