package access

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParsePrincipal validates an HMAC-signed bearer token and returns the
// principal id from its subject claim. Connections present the token once,
// at upgrade time.
func ParsePrincipal(tokenString string, signingKey []byte) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}

// IssueToken mints a token for a principal. The server itself only verifies
// tokens; this exists for tooling and tests.
func IssueToken(principalID string, signingKey []byte, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   principalID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(signingKey)
}
