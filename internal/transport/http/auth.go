package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"quiz-session-sync/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator resolves the caller's account id. With a secret it requires an HS256 token whose
// subject is the user id; without one it trusts the userId query parameter (local development).
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) UserID(r *http.Request) (string, error) {
	if len(a.secret) == 0 {
		if id := strings.TrimSpace(r.URL.Query().Get("userId")); id != "" {
			return id, nil
		}
		return "", domain.ErrNotAuthenticated
	}

	var raw string
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		raw = strings.TrimPrefix(header, "Bearer ")
	} else {
		// Browsers cannot set headers on websocket upgrades.
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return "", domain.ErrNotAuthenticated
	}

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", domain.ErrNotAuthenticated
	}
	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", domain.ErrNotAuthenticated
	}
	return subject, nil
}

// IssueToken signs a token for userID. Used by tests and local tooling.
func (a *Authenticator) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
