package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer     = "homenet"
	defaultTTL = 15 * time.Minute
)

var (
	// ErrTokenInvalid is returned for tokens that fail signature, expiry or claim checks.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrInvalidCredentials is returned when a login does not match the admin credential.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Claims are the JWT claims carried by HomeNet access tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// GenerateAccessToken signs an access token for subject that expires after ttl.
func GenerateAccessToken(subject, secret string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	expires := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates an access token and returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// Authenticator checks logins against the configured administrator.
type Authenticator struct {
	username     string
	passwordHash string
	secret       string
	ttl          time.Duration
}

// NewAuthenticator creates an Authenticator for one admin credential.
func NewAuthenticator(username, passwordHash, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		username:     username,
		passwordHash: passwordHash,
		secret:       secret,
		ttl:          ttl,
	}
}

// Login verifies the credential and issues an access token.
func (a *Authenticator) Login(username, password string) (string, time.Time, error) {
	ok, err := VerifyPassword(password, a.passwordHash)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verifying password: %w", err)
	}
	// Check the password first so a wrong username costs the same.
	if !ok || username != a.username {
		return "", time.Time{}, ErrInvalidCredentials
	}
	return GenerateAccessToken(a.username, a.secret, a.ttl)
}

// Validate parses a bearer token issued by Login.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	return ParseToken(token, a.secret)
}
