package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emergent-company/pilgrimops/internal/config"
	"github.com/emergent-company/pilgrimops/pkg/apperror"
	"github.com/emergent-company/pilgrimops/pkg/logger"
)

const devSecret = "pilgrimops-dev-secret"

// Claims is the token payload. sub is the user ID.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewJWTAuthenticator creates an authenticator for the given secret.
func NewJWTAuthenticator(secret, issuer string, leeway time.Duration) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer, leeway: leeway}
}

// NewAuthenticator builds the authenticator from config. Outside production a
// missing secret falls back to a development secret.
func NewAuthenticator(cfg *config.Config, log *slog.Logger) (Authenticator, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		if cfg.Environment == "production" {
			return nil, errors.New("AUTH_JWT_SECRET is required in production")
		}
		log.With(logger.Scope("auth")).Warn("AUTH_JWT_SECRET not set, using development secret")
		secret = devSecret
	}
	return NewJWTAuthenticator(secret, cfg.Auth.Issuer, cfg.Auth.Leeway), nil
}

// Authenticate verifies token and returns the identity it carries.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperror.ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, apperror.ErrInvalidToken.WithInternal(err)
	}

	if claims.Subject == "" || claims.TenantID == "" {
		return nil, apperror.ErrUnauthenticated.WithMessage("token carries no user or tenant")
	}
	if !claims.Role.Valid() {
		return nil, apperror.ErrUnauthenticated.WithMessage(fmt.Sprintf("unknown role '%s'", claims.Role))
	}

	return &Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
		Email:    claims.Email,
	}, nil
}

// Issue signs a token for id valid for ttl. Used by tests and local tooling.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: id.TenantID,
		Role:     id.Role,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
