package admin

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	token, err := auth.IssueToken(Principal{UserID: "admin-1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/actions/resolve_alert", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	principal, err := auth.RequireAdmin(r)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", principal.UserID)
	assert.True(t, principal.IsAdmin())
}

func TestAuthenticator_RejectsNonAdmin(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	token, err := auth.IssueToken(Principal{UserID: "viewer-1", Role: "viewer"}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "/actions/resolve_alert", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	// Read access authenticates fine.
	principal, err := auth.Authenticate(r)
	require.NoError(t, err)
	assert.False(t, principal.IsAdmin())

	// Mutations do not.
	_, err = auth.RequireAdmin(r)
	assert.True(t, errors.Is(err, ErrAuthFailure))
}

func TestAuthenticator_RejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/alerts", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			_, err := auth.Authenticate(r)
			assert.True(t, errors.Is(err, ErrAuthFailure))
		})
	}
}

func TestAuthenticator_RejectsWrongSecret(t *testing.T) {
	issuer := NewAuthenticator("secret-a")
	verifier := NewAuthenticator("secret-b")

	token, err := issuer.IssueToken(Principal{UserID: "admin-1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/alerts", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err = verifier.Authenticate(r)
	assert.True(t, errors.Is(err, ErrAuthFailure))
}

func TestAuthenticator_RejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	token, err := auth.IssueToken(Principal{UserID: "admin-1", Role: RoleAdmin}, -time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/alerts", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err = auth.Authenticate(r)
	assert.True(t, errors.Is(err, ErrAuthFailure))
}
