package auth

import (
	"errors"
	"net/http"
	"strings"
)

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := extractClaims(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetSubjectFromRequest returns the operator name carried by the request
// token.
func GetSubjectFromRequest(r *http.Request) (string, error) {
	claims, err := extractClaims(r)
	if err != nil {
		return "", err
	}

	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", errors.New("invalid subject in token")
	}
	return subject, nil
}

func extractClaims(r *http.Request) (map[string]interface{}, error) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, errors.New("missing or malformed Authorization header")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return ValidateJWT(token)
}
