package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin is the role claim required for mutations.
const RoleAdmin = "admin"

// ErrAuthFailure is returned when a caller is not an authenticated
// admin. Handlers return it before touching storage.
var ErrAuthFailure = errors.New("authentication failure")

// Principal identifies an authenticated caller.
type Principal struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// IsAdmin reports whether the principal may perform mutations.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// adminClaims is the JWT claim set issued to admin sessions.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates bearer tokens on the admin surface.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an authenticator with the shared signing secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken mints a signed token for a principal, used by tests and the
// provisioning tooling.
func (a *Authenticator) IssueToken(principal Principal, ttl time.Duration) (string, error) {
	claims := adminClaims{
		Role: principal.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate extracts and validates the bearer token on a request.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Principal{}, fmt.Errorf("%w: missing authorization header", ErrAuthFailure)
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, fmt.Errorf("%w: malformed authorization header", ErrAuthFailure)
	}

	claims := &adminClaims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrAuthFailure)
	}

	return Principal{
		UserID: claims.Subject,
		Role:   claims.Role,
	}, nil
}

// RequireAdmin authenticates the request and enforces the admin role.
func (a *Authenticator) RequireAdmin(r *http.Request) (Principal, error) {
	principal, err := a.Authenticate(r)
	if err != nil {
		return Principal{}, err
	}
	if !principal.IsAdmin() {
		return Principal{}, fmt.Errorf("%w: admin role required", ErrAuthFailure)
	}
	return principal, nil
}
