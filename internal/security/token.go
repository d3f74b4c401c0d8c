package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatsync/internal/domain"
)

// Claims identify the profile a token was minted for. The subject is the
// profile id.
type Claims struct {
	Username string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

// TokenService wraps JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
	now       func() time.Time
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
		now:       time.Now,
	}
}

// CreateForUser creates a JWT for the given profile using the default TTL.
func (t *TokenService) CreateForUser(userID, username string) (string, error) {
	return t.CreateWithTTL(userID, username, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given profile with an explicit TTL.
func (t *TokenService) CreateWithTTL(userID, username string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("token subject: %w", domain.ErrInvalidInput)
	}
	now := t.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims. Any failure is reported
// as domain.ErrUnauthorized.
func (t *TokenService) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, jwt.ErrTokenMalformed)
	}
	return claims, nil
}

// ParseUnverified reads the claims without checking the signature. Clients
// use it to learn their own identity from a token they were handed.
func ParseUnverified(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}
	return claims, nil
}

// IsExpired reports whether err came from an expired token.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}
