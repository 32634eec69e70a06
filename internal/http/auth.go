package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing authorization header")
	errBadFormat    = errors.New("invalid authorization format")
	errInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims accepted on session streams.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
}

// authenticator validates HS256 bearer tokens. A nil authenticator
// accepts every request.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	if secret == "" {
		return nil
	}
	return &authenticator{secret: []byte(secret)}
}

// authenticate returns the token's claims, or nil when auth is disabled.
func (a *authenticator) authenticate(req *http.Request) (*Claims, error) {
	if a == nil {
		return nil, nil
	}

	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingToken
	}
	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil, errBadFormat
	}

	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errInvalidToken
	}
	return claims, nil
}
