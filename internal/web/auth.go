package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// userIDKey is the request-context key carrying the authenticated user ID.
type userIDKey struct{}

// withAuth wraps a handler with bearer-token authentication. Every failure
// mode is a 401: missing header, malformed token, wrong algorithm, bad
// signature, expired claims, or a missing subject. There is no anonymous
// fallback.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized",
				"Missing bearer token")
			return
		}

		userID, err := s.verifyToken(token)
		if err != nil {
			s.log.Debugf("Rejected API token: %v", err)
			writeError(w, http.StatusUnauthorized, "unauthorized",
				"Invalid bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next(w, r.WithContext(ctx))
	}
}

// verifyToken validates an HS256 bearer token and returns its subject.
func (s *Server) verifyToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v",
				t.Header["alg"])
		}
		return s.cfg.AuthSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return subject, nil
}

// userID returns the authenticated user ID stored by withAuth.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}

// NewToken mints an HS256 bearer token for the given user ID. The CLI and
// tests use it; production deployments mint tokens out of band.
func NewToken(secret []byte, userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}
