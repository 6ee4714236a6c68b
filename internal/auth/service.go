package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any failed login, whatever the cause.
var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	users *UserStore
	jwt   *JWTService
}

func NewAuthService(users *UserStore, jwtService *JWTService) *AuthService {
	return &AuthService{
		users: users,
		jwt:   jwtService,
	}
}

func (s *AuthService) Login(ctx context.Context, email, password string) (string, string, error) {
	id, name, storedHash, err := s.users.credentials(ctx, email)
	if err != nil {
		return "", "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)); err != nil {
		return "", "", ErrInvalidCredentials
	}

	if err := s.users.touchLastLogin(ctx, id); err != nil {
		return "", "", fmt.Errorf("failed to update last login: %w", err)
	}

	accessToken, err := s.jwt.GenerateToken(id, email, name)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := s.jwt.GenerateRefreshToken(id)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", err)
	}

	user, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		return "", err
	}
	if !user.Active {
		return "", ErrUserNotFound
	}

	accessToken, err := s.jwt.GenerateToken(user.ID, user.Email, user.DisplayName)
	if err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}

	return accessToken, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.users.Get(ctx, id)
}

// HashPassword is used by the seed tooling and tests.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
