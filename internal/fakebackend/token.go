package fakebackend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
)

// ErrUnauthorized is returned for a missing, malformed or expired token.
var ErrUnauthorized = errors.New("unauthorized")

const issuer = "pmdesk-fakebackend"

// Claims is the token payload the backend issues.
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Mint signs a token for user valid for ttl.
func (s *Server) Mint(user chat.Sender, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID: user.ID,
		Name:   user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// authenticate reads the token from the Authorization header or, for
// WebSocket handshakes, the token query parameter.
func (s *Server) authenticate(r *http.Request) (chat.Sender, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return chat.Sender{}, fmt.Errorf("%w: no token", ErrUnauthorized)
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return chat.Sender{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return chat.Sender{}, fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	name := claims.Name
	if name == "" {
		name = claims.UserID
	}
	return chat.Sender{ID: claims.UserID, DisplayName: name}, nil
}
