package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleRider   Role = "rider"
	RoleCaptain Role = "captain"
	RoleSystem  Role = "system"
)

// Identity is the caller as vouched for by the identity provider.
type Identity struct {
	Subject string
	Role    Role
}

// Claims is the token body issued by the identity provider.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errUnauthenticated = errors.New("unauthenticated")

const identityKey contextKey = "identity"

// Authenticator resolves the caller identity. With a secret it verifies HS256
// bearer tokens; without one it trusts the X-User-ID and X-User-Role headers
// set by the gateway in front of the service.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			writeError(w, r, nil, fmt.Errorf("%w: %v", errUnauthenticated, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func (a *Authenticator) identify(r *http.Request) (Identity, error) {
	if len(a.secret) == 0 {
		return newIdentity(r.Header.Get("X-User-ID"), r.Header.Get("X-User-Role"))
	}
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Identity{}, errors.New("missing bearer token")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	return newIdentity(claims.Subject, claims.Role)
}

func newIdentity(subject, role string) (Identity, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Identity{}, errors.New("missing subject")
	}
	switch r := Role(strings.ToLower(strings.TrimSpace(role))); r {
	case RoleRider, RoleCaptain, RoleSystem:
		return Identity{Subject: subject, Role: r}, nil
	default:
		return Identity{}, fmt.Errorf("unknown role %q", role)
	}
}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
