// Package security issues and validates the signed bearer tokens used
// by the API. There are exactly two token kinds: a short-lived access
// token carried in the Authorization header and a longer-lived refresh
// token delivered as an HTTP-only cookie.
package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds embedded in the claims so one kind can never be used in
// place of the other.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Default token lifetimes.
const (
	DefaultAccessExpiry  = 15 * time.Minute
	DefaultRefreshExpiry = 7 * 24 * time.Hour
)

// ErrInvalidToken indicates a token that failed signature, expiry, or
// kind validation. Verification failures always degrade to this error,
// never a panic.
var ErrInvalidToken = errors.New("security: invalid token")

// Claims is the payload carried by both token kinds. Access tokens
// include identity attributes; refresh tokens carry only the subject.
// The payload never contains OTP codes or other secrets.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Kind  string `json:"kind"`
	jwt.RegisteredClaims
}

// UserID returns the numeric subject identifier.
func (c *Claims) UserID() (uint64, error) {
	id, errParse := strconv.ParseUint(c.Subject, 10, 64)
	if errParse != nil {
		return 0, fmt.Errorf("security: invalid subject: %w", errParse)
	}
	return id, nil
}

// IssueAccessToken mints a signed access token for the user.
func IssueAccessToken(secret string, userID uint64, email, name, role string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultAccessExpiry
	}
	return issue(secret, Claims{
		Email: email,
		Name:  name,
		Role:  role,
		Kind:  TokenKindAccess,
	}, userID, expiry)
}

// IssueRefreshToken mints a signed refresh token carrying only the
// user identity.
func IssueRefreshToken(secret string, userID uint64, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultRefreshExpiry
	}
	return issue(secret, Claims{Kind: TokenKindRefresh}, userID, expiry)
}

func issue(secret string, claims Claims, userID uint64, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("security: missing signing secret")
	}
	now := time.Now().UTC()
	claims.Subject = strconv.FormatUint(userID, 10)
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseAccessToken validates an access token and returns its claims.
func ParseAccessToken(secret, tokenString string) (*Claims, error) {
	return parse(secret, tokenString, TokenKindAccess)
}

// ParseRefreshToken validates a refresh token and returns its claims.
func ParseRefreshToken(secret, tokenString string) (*Claims, error) {
	return parse(secret, tokenString, TokenKindRefresh)
}

func parse(secret, tokenString, kind string) (*Claims, error) {
	claims := &Claims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("security: unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
