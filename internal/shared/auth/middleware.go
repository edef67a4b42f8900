package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/coruna-salud/gemelo/internal/shared/config"
	apperrors "github.com/coruna-salud/gemelo/internal/shared/errors"
)

type contextKey string

const (
	OperatorContextKey contextKey = "operator"
)

// Operator represents the authenticated control-plane user
type Operator struct {
	ID    string   `json:"sub"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Claims extends JWT claims with operator data
type Claims struct {
	jwt.RegisteredClaims
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// Middleware creates JWT authentication middleware for operator commands.
// Read-only telemetry endpoints stay open; mutating control endpoints go
// behind this.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeUnauthorized(w, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				writeUnauthorized(w, "invalid token")
				return
			}

			operator := &Operator{
				ID:    claims.Subject,
				Name:  claims.Name,
				Roles: claims.Roles,
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole allows only operators holding the given role
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operator, ok := FromContext(r.Context())
			if !ok {
				writeUnauthorized(w, "not authenticated")
				return
			}

			for _, have := range operator.Roles {
				if have == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, http.StatusForbidden, "insufficient role")
		})
	}
}

// FromContext extracts the operator from the request context
func FromContext(ctx context.Context) (*Operator, bool) {
	operator, ok := ctx.Value(OperatorContextKey).(*Operator)
	return operator, ok
}

// writeUnauthorized responds with the shared unauthorized error shape
func writeUnauthorized(w http.ResponseWriter, message string) {
	appErr := apperrors.Unauthorized(message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]string{"error": appErr.Message, "code": appErr.Code})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
