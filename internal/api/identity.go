package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Identity is the already-resolved caller: who they are and whether they
// hold the admin flag. Authentication happens upstream; the token reaching
// this service only transports the resolved identity.
type Identity struct {
	AccountID string
	IsAdmin   bool
}

type contextKey struct{}

var identityKey contextKey

// IdentityFromContext returns the caller identity placed by the middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// IdentityVerifier parses the HS256 identity tokens minted by the upstream
// gateway. Claims: "sub" carries the account id, "admin" the admin flag.
type IdentityVerifier struct {
	secret string
}

func NewIdentityVerifier(secret string) *IdentityVerifier {
	return &IdentityVerifier{secret: secret}
}

func (v *IdentityVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	accountID, ok := claims["sub"].(string)
	if !ok || accountID == "" {
		return nil, ErrInvalidToken
	}

	isAdmin, _ := claims["admin"].(bool)

	return &Identity{AccountID: accountID, IsAdmin: isAdmin}, nil
}

// Middleware rejects requests without a valid bearer identity token and
// stashes the parsed identity in the request context.
func (v *IdentityVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := v.Verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid identity token")
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, *identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
