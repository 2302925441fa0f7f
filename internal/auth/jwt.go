// Package auth issues and verifies access tokens and guards routes with them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jules-labs/librarydesk/internal/apperror"
	"github.com/jules-labs/librarydesk/internal/membership"
)

const issuerName = "librarydesk"

// Claims is the payload of an access token.
type Claims struct {
	UserID  uuid.UUID `json:"userId"`
	Email   string    `json:"email"`
	IsAdmin bool      `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer whose tokens live for ttl.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for u.
func (i *Issuer) Issue(u *membership.User) (string, error) {
	now := i.now()
	claims := Claims{
		UserID:  u.ID,
		Email:   u.Email,
		IsAdmin: u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token and checks signature, algorithm, issuer and expiry.
func (i *Issuer) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.New(apperror.ErrUnauthorized, "token has expired")
		}
		return nil, apperror.New(apperror.ErrUnauthorized, "invalid token")
	}
	if claims.UserID == uuid.Nil {
		return nil, apperror.New(apperror.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}
