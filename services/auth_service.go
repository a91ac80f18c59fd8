package services

import (
	"fmt"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/models"
	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
	"github.com/golang-jwt/jwt/v5"
)

// AuthService verifies the identity provider's access tokens.
//
// Sign-up, login and refresh belong to the identity provider; the relay only
// needs to know who is calling. IssueAccessToken signs tokens with the same
// secret for local development and tests.
type AuthService interface {
	ValidateAccessToken(tokenString string) (*models.AuthUser, error)
	IssueAccessToken(user *models.AuthUser, ttl time.Duration) (string, error)
}

type authService struct {
	jwtSecret []byte
}

// NewAuthService, constructor.
func NewAuthService(jwtSecret string) AuthService {
	return &authService{jwtSecret: []byte(jwtSecret)}
}

func (s *authService) ValidateAccessToken(tokenString string) (*models.AuthUser, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthorized)
	}

	role := claims.Role
	if !role.Valid() {
		role = models.RoleStudent
	}

	return &models.AuthUser{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  role,
	}, nil
}

func (s *authService) IssueAccessToken(user *models.AuthUser, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := models.TokenClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}
