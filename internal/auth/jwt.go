// Package auth issues and validates bearer tokens for the control API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Control tokens are short-lived HS256 JWTs handed to operators and fleet
// tooling. There is no refresh flow: tooling mints a new token with the shared
// signing key when the old one expires.

// DefaultTokenExpiry is how long control tokens are valid.
const DefaultTokenExpiry = 1 * time.Hour

// Default claim values.
const (
	DefaultIssuer   = "pushagent"
	DefaultAudience = "pushagent-control"
)

// Predefined JWT errors.
var (
	ErrInvalidToken = errors.New("invalid control token")
	ErrTokenExpired = errors.New("control token has expired")
	ErrNoSigningKey = errors.New("control token signing key is not configured")
)

// Claims are the claims carried by control tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Scope limits what the caller may do. Empty means full access.
	Scope string `json:"scope,omitempty"`
}

// JWTConfig holds configuration for the JWT service.
type JWTConfig struct {
	// SigningKey is the shared secret used to sign tokens.
	SigningKey string

	Issuer   string
	Audience string

	// Expiry defaults to DefaultTokenExpiry.
	Expiry time.Duration
}

// JWTService handles control token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	expiry     time.Duration
	now        func() time.Time
}

// NewJWTService creates a new JWT service.
func NewJWTService(cfg JWTConfig) *JWTService {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.Expiry == 0 {
		cfg.Expiry = DefaultTokenExpiry
	}
	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		expiry:     cfg.Expiry,
		now:        time.Now,
	}
}

// GenerateToken creates a control token for subject.
func (s *JWTService) GenerateToken(subject, scope string) (string, time.Time, error) {
	if len(s.signingKey) == 0 {
		return "", time.Time{}, ErrNoSigningKey
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing control token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken validates a control token and returns its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if len(s.signingKey) == 0 {
		return nil, ErrNoSigningKey
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
