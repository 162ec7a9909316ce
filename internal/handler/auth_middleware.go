package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"auth-security/internal/service"
)

var errUnauthenticated = errors.New("unauthenticated")

// Claims carried by bearer tokens. The subject is the caller's user id.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

type ctxKey string

const identityCtxKey ctxKey = "identity"

// IdentityFromContext returns the caller set by Authenticator
func IdentityFromContext(ctx context.Context) (service.Identity, bool) {
	id, ok := ctx.Value(identityCtxKey).(service.Identity)
	return id, ok
}

// Authenticator verifies HS256 bearer tokens. Issuing them is left to the
// identity provider sharing the secret.
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, fmt.Errorf("%w: no token secret configured", errUnauthenticated)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", errUnauthenticated)
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondWithError(w, a.logger, fmt.Errorf("%w: missing bearer token", errUnauthenticated), "Authentication required")
			return
		}

		claims, err := a.ValidateToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondWithError(w, a.logger, err, "Authentication required")
			return
		}

		identity := service.Identity{UserID: claims.Subject, Roles: claims.Roles}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityCtxKey, identity)))
	})
}
