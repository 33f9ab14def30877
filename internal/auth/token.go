package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token kinds carried in the "type" claim. Access and refresh tokens share
// the signing secret but are never interchangeable.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// ErrInvalidToken covers malformed, forged, and expired tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims issued by the codec.
type Claims struct {
	TokenKind string `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim as a user identifier.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad subject claim", ErrInvalidToken)
	}
	return uint(id), nil
}

// TokenCodec signs and verifies compact bearer tokens.
type TokenCodec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenCodec returns a codec signing HS256 tokens with the given secret
// and per-kind lifetimes.
func NewTokenCodec(secret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (tc *TokenCodec) AccessTTL() time.Duration { return tc.accessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (tc *TokenCodec) RefreshTTL() time.Duration { return tc.refreshTTL }

// IssueAccess mints a signed access token for the given user.
func (tc *TokenCodec) IssueAccess(userID uint) (string, error) {
	return tc.issue(userID, TokenKindAccess, tc.accessTTL)
}

// IssueRefresh mints a signed refresh token for the given user.
func (tc *TokenCodec) IssueRefresh(userID uint) (string, error) {
	return tc.issue(userID, TokenKindRefresh, tc.refreshTTL)
}

func (tc *TokenCodec) issue(userID uint, kind string, ttl time.Duration) (string, error) {
	if len(tc.secret) == 0 {
		return "", fmt.Errorf("JWT secret not configured")
	}

	now := time.Now()
	claims := Claims{
		TokenKind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tc.secret)
}

// Decode verifies the signature and expiry and returns the claims.
// All failure modes collapse into ErrInvalidToken.
func (tc *TokenCodec) Decode(tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tc.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}
