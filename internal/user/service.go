package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the token issuer accepted by ValidateToken.
const Issuer = "campusconnect"

// Directory is the read-only view of the user directory the messaging core consumes.
type Directory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

type Service struct {
	dir       Directory
	jwtSecret string
}

// Claims is the token payload minted by the auth service.
type Claims struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

func NewService(dir Directory, secret string) *Service {
	return &Service{
		dir:       dir,
		jwtSecret: secret,
	}
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.dir.GetUser(ctx, id)
}

// ValidateToken verifies an HS256 token and returns the user id and display name.
func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
	)
	if err != nil {
		return "", "", fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return "", "", errors.New("invalid token")
	}
	if claims.ID == "" {
		return "", "", errors.New("token has no user id")
	}

	return claims.ID, claims.Name, nil
}
