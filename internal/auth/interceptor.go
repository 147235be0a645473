package auth

import (
	"errors"
	"net/http"
	"strings"
)

// RequireAuth returns net/http middleware that validates a Bearer JWT
// against tokens, attaching its Claims to the request context. Requests
// missing or carrying an invalid token receive 401 Unauthorized before
// next is invoked.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(tokens, r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func authenticate(tokens *TokenService, authHeader string) (*Claims, error) {
	if authHeader == "" {
		return nil, errors.New("missing authorization header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return nil, errors.New("authorization header must use Bearer scheme")
	}
	claims, err := tokens.Verify(token)
	if err != nil {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
