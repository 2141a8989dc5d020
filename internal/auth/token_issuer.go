package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	// ErrUnauthorized is the umbrella for every bearer-token failure.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrMissingToken indicates the request carried no access token.
	ErrMissingToken = fmt.Errorf("%w: request does not contain an access token", ErrUnauthorized)
	// ErrUnsupportedScheme indicates an Authorization header with an unknown scheme.
	ErrUnsupportedScheme = fmt.Errorf("%w: unsupported authorization type", ErrUnauthorized)
	// ErrInvalidToken indicates a malformed or wrongly signed token.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthorized)
	// ErrExpiredToken indicates a correctly signed token past its expiry.
	ErrExpiredToken = fmt.Errorf("%w: signature has expired", ErrUnauthorized)

	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIdentityClaim = errors.New("identity claim must be provided")
)

// AccessClaims is the payload of an access token. Identity is the user identifier.
type AccessClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the access token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 access tokens.
type TokenIssuer struct {
	signingSecret []byte
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. A zero TTL selects the default lifetime.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	ttl := cfg.TokenTTL
	if ttl < 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if ttl == 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// IssueAccessToken produces a signed token for identity and its lifetime in seconds.
func (i *TokenIssuer) IssueAccessToken(_ context.Context, identity string) (string, int64, error) {
	if strings.TrimSpace(identity) == "" {
		return "", 0, errMissingIdentityClaim
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL).UTC()

	claims := AccessClaims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken verifies signature and time claims and returns the payload.
func (i *TokenIssuer) ValidateToken(tokenString string) (AccessClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return AccessClaims{}, ErrMissingToken
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return i.signingSecret, nil
		},
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, ErrExpiredToken
		}
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Identity) == "" {
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidToken, errMissingIdentityClaim)
	}
	return *claims, nil
}
