package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

type identityKey struct{}

// Identity is the auth-derived caller: a verified user id plus the plan the
// subscription system granted. Both are facts here, not things we compute.
type Identity struct {
	UserID string
	Plan   models.Plan
	Locale string
}

// IdentityFrom extracts the verified identity placed by the auth middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

type authClaims struct {
	Plan   string `json:"plan"`
	Locale string `json:"locale"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies the bearer token before anything else runs. An
// absent or invalid token is a hard rejection; no quota logic sees the
// request.
func AuthMiddleware(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			var claims authClaims
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithIssuer(issuer))
			if err != nil || !token.Valid || claims.Subject == "" {
				unauthorized(w, "invalid token")
				return
			}

			identity := Identity{
				UserID: claims.Subject,
				Plan:   models.ParsePlan(claims.Plan),
				Locale: claims.Locale,
			}
			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
