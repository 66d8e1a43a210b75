package user

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowchat/internal/auth"
	myMiddleware "flowchat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const registerBody = `{"email":"ada@example.com","username":"ada","first_name":"Ada","last_name":"Lovelace",
	"password":"analytical-engine","password_confirm":"analytical-engine"}`

func newTestRouter(svc *Service, caller int64) http.Handler {
	h := NewHandler(svc, logs.GetLoggerFromLevel(slog.LevelDebug))
	r := chi.NewRouter()
	r.Post("/api/auth/register", h.Register)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctx := myMiddleware.WithIdentity(req.Context(), auth.Identity{UserID: caller, Name: "Caller"})
				next.ServeHTTP(w, req.WithContext(ctx))
			})
		})
		r.Post("/api/auth/logout", h.Logout)
		r.Patch("/api/auth/profile", h.UpdateProfile)
		r.Get("/api/auth/users/lookup", h.Lookup)
	})
	return r
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestHandler_RegisterDuplicateIsBadRequest(t *testing.T) {
	req := require.New(t)
	svc, _, _ := newTestService()
	r := newTestRouter(svc, 0)

	req.Equal(http.StatusCreated, serve(r, http.MethodPost, "/api/auth/register", registerBody).Code)

	rec := serve(r, http.MethodPost, "/api/auth/register", registerBody)
	req.Equal(http.StatusBadRequest, rec.Code)
	req.Contains(rec.Body.String(), "already exists")
}

func TestHandler_Logout(t *testing.T) {
	req := require.New(t)
	svc, _, store := newTestService()
	req.NoError(store.MarkOnline(context.Background(), 42, time.Now().Add(-time.Minute)))
	r := newTestRouter(svc, 42)

	rec := serve(r, http.MethodPost, "/api/auth/logout", "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`{"message":"Successfully logged out"}`, rec.Body.String())

	e, err := store.Get(context.Background(), 42)
	req.NoError(err)
	req.False(e.IsOnline)
}

func TestHandler_Lookup(t *testing.T) {
	svc, _, _ := newTestService()
	ada, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	r := newTestRouter(svc, ada.ID+100)

	tests := []struct {
		name   string
		target string
		status int
	}{
		{name: "by username", target: "/api/auth/users/lookup?username=@ada", status: http.StatusOK},
		{name: "by email", target: "/api/auth/users/lookup?email=ADA@example.com", status: http.StatusOK},
		{name: "unknown", target: "/api/auth/users/lookup?username=bob", status: http.StatusNotFound},
		{name: "no parameter", target: "/api/auth/users/lookup", status: http.StatusBadRequest},
		{name: "bad user id", target: "/api/auth/users/lookup?user_id=abc", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(r, http.MethodGet, tt.target, "")
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.Contains(t, rec.Body.String(), `"username":"ada"`)
			}
		})
	}
}

func TestHandler_UpdateProfile(t *testing.T) {
	req := require.New(t)
	svc, _, _ := newTestService()
	ada, err := svc.Register(context.Background(), validRegistration())
	req.NoError(err)
	r := newTestRouter(svc, ada.ID)

	rec := serve(r, http.MethodPatch, "/api/auth/profile", `{"bio":"Poetical science"}`)
	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), `"bio":"Poetical science"`)
	req.Contains(rec.Body.String(), `"first_name":"Ada"`)

	rec = serve(r, http.MethodPatch, "/api/auth/profile", `{"first_name":"`+strings.Repeat("a", 31)+`"}`)
	req.Equal(http.StatusBadRequest, rec.Code)
}
