// Package auth provides AuthValidator, the narrow contract this module
// consumes from the out-of-scope external auth service (§6 "Inbound from
// Auth collaborator"). The Subscriber Gateway calls it at handshake; admin
// mutation entry points call it to identify the caller's tenant.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what a validated bearer token proves about its caller.
type Identity struct {
	UserID    string
	TenantID  int64
	IsAdmin   bool
	ExpiresAt time.Time
}

// ErrUnauthorized is returned for any token this validator will not vouch
// for: malformed, expired, or wrong signing method.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates a bearer token and identifies its tenant. The real
// implementation lives in the external auth service; this module only
// consumes the contract.
type Validator interface {
	ValidateToken(ctx context.Context, bearer string) (*Identity, error)
}

// Claims is the JWT payload shape this module expects the external auth
// service to issue, adapted from eve's auth.Claims with UserID/Roles
// replaced by the tenant-scoped fields this spec's callers need.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID int64  `json:"tenant_id"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// JWTValidator validates HS256 tokens issued by the external auth service.
// Adapted from eve's auth.TokenService.ValidateToken, trimmed to validation
// only: issuance (GenerateToken, refresh tokens) belongs to that external
// service, not to this module.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator builds a validator against a shared signing secret.
func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

// ValidateToken parses and verifies bearer, returning the identity it
// proves or ErrUnauthorized.
func (v *JWTValidator) ValidateToken(ctx context.Context, bearer string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(bearer, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedMethod
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, ErrUnauthorized
	}
	if claims.TenantID == 0 {
		return nil, ErrUnauthorized
	}

	expiresAt := time.Time{}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return &Identity{
		UserID:    claims.UserID,
		TenantID:  claims.TenantID,
		IsAdmin:   claims.IsAdmin,
		ExpiresAt: expiresAt,
	}, nil
}

var errUnexpectedMethod = errors.New("auth: unexpected signing method")
