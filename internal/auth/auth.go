// Package auth issues and verifies the HS256 tokens scene hub clients present
// when they connect.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "scenesync"

var (
	ErrEmptySecret  = errors.New("auth: empty secret")
	ErrEmptySubject = errors.New("auth: empty subject")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims identify a hub client. Scenes optionally restricts which scenes the
// holder may touch; empty means all.
type Claims struct {
	Scenes []string `json:"scenes,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the claims grant access to sceneID.
func (c *Claims) Allows(sceneID string) bool {
	if len(c.Scenes) == 0 {
		return true
	}
	for _, s := range c.Scenes {
		if s == sceneID {
			return true
		}
	}
	return false
}

// Issue signs a token for subject valid for ttl. A non-positive ttl yields a
// token without expiry.
func Issue(secret []byte, subject string, ttl time.Duration, scenes ...string) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if subject == "" {
		return "", ErrEmptySubject
	}

	now := time.Now()
	claims := &Claims{
		Scenes: scenes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify parses tokenStr, pinning the signing method to HS256.
func Verify(secret []byte, tokenStr string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
