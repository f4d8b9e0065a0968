package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
)

var (
	// ErrMissingCredential is returned when no bearer token is available.
	ErrMissingCredential = errors.New("missing credential")
	// ErrCredentialExpired is returned when the token's exp claim is past.
	ErrCredentialExpired = errors.New("credential expired")
)

// Credential is the bearer token the session authenticates with. The
// session never verifies it; the server does. When it is a JWT, its
// claims are read to detect expiry and to name the local user.
type Credential string

// Identity is what the session could learn from the credential.
type Identity struct {
	User      chat.Sender
	ExpiresAt *time.Time
}

// Inspect checks the credential before any connection is attempted.
// Opaque (non-JWT) tokens pass with an empty identity.
func (c Credential) Inspect(now time.Time) (Identity, error) {
	token := strings.TrimSpace(string(c))
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}, nil
	}

	var identity Identity
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt := exp.Time
		identity.ExpiresAt = &expiresAt
		if !expiresAt.After(now) {
			return identity, fmt.Errorf("%w at %s", ErrCredentialExpired, expiresAt.Format(time.RFC3339))
		}
	}

	identity.User.ID = claimString(claims, "user_id")
	if identity.User.ID == "" {
		identity.User.ID, _ = claims.GetSubject()
	}
	identity.User.DisplayName = claimString(claims, "name")
	if identity.User.DisplayName == "" {
		identity.User.DisplayName = claimString(claims, "username")
	}
	return identity, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}
