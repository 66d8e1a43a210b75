package myMiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flowchat/internal/auth"

	"github.com/stretchr/testify/require"
)

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		target string
		want   string
	}{
		{name: "bearer header", header: "Bearer abc", target: "/ws/chat/r/", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", target: "/", want: "abc"},
		{name: "query param", target: "/ws/chat/r/?token=xyz", want: "xyz"},
		{name: "header wins", header: "Bearer abc", target: "/?token=xyz", want: "abc"},
		{name: "malformed header falls back", header: "abc", target: "/?token=xyz", want: "xyz"},
		{name: "nothing", target: "/", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, TokenFromRequest(r))
		})
	}
}

func TestAuthMiddleware_Handle(t *testing.T) {
	req := require.New(t)
	v := auth.NewVerifier("middleware-secret-0123456789")
	token, err := v.Issue(auth.Identity{UserID: 7, Name: "Grace Hopper"}, time.Minute)
	req.NoError(err)

	var seen auth.Identity
	h := NewAuthMiddleware(v).Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	req.Equal(http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me?token=bogus", nil))
	req.Equal(http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusNoContent, rec.Code)
	req.Equal(int64(7), seen.UserID)
	req.Equal("Grace Hopper", seen.Name)
}
