package user

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	myMiddleware "flowchat/internal/middleware"

	"github.com/go-playground/validator/v10"
)

type Handler struct {
	Service *Service
	log     *slog.Logger
}

func NewHandler(s *Service, log *slog.Logger) *Handler {
	return &Handler{Service: s, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			http.Error(w, verrs.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, ErrDuplicate) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("Registration failed", "email", req.Email, "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) && !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error("Login failed", "error", err)
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	p, err := h.Service.Me(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		h.log.Error("Profile lookup failed", "user_id", id.UserID, "error", err)
		http.Error(w, "profile lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, []Profile{})
		return
	}

	users, err := h.Service.SearchUsers(r.Context(), query, id.UserID)
	if err != nil {
		h.log.Error("User search failed", "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.Service.Logout(r.Context(), id.UserID); err != nil {
		h.log.Error("Logout failed", "user_id", id.UserID, "error", err)
		http.Error(w, "logout failed", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

// UpdateProfile handles PUT and PATCH /api/auth/profile. Both are partial.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := h.Service.UpdateProfile(r.Context(), id.UserID, &req)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			http.Error(w, verrs.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrNotFound):
			http.Error(w, "user not found", http.StatusNotFound)
		default:
			h.log.Error("Profile update failed", "user_id", id.UserID, "error", err)
			http.Error(w, "profile update failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Lookup handles GET /api/auth/users/lookup?username=|email=|user_id=.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	id, _ := myMiddleware.IdentityFrom(r.Context())
	params := r.URL.Query()

	q := LookupQuery{Username: params.Get("username"), Email: params.Get("email")}
	if raw := params.Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid user_id"})
			return
		}
		q.UserID = userID
	}

	p, err := h.Service.Lookup(r.Context(), q, id.UserID)
	switch {
	case errors.Is(err, ErrEmptyLookup):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found"})
	case err != nil:
		h.log.Error("User lookup failed", "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
