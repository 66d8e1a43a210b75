package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"
)

type Handler struct {
	store   Store
	log     *slog.Logger
	timeout time.Duration
	// lookups coalesces concurrent reads of the same user.
	lookups singleflight.Group
}

func NewHandler(store Store, log *slog.Logger, timeout time.Duration) *Handler {
	return &Handler{store: store, log: log, timeout: timeout}
}

// GetPresence serves GET /api/users/{userID}/presence. Users that never
// connected are reported offline.
func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	// The read is shared with other callers, so it must not end with this
	// request.
	v, err, _ := h.lookups.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
		defer cancel()
		return h.store.Get(ctx, userID)
	})
	entry, _ := v.(Entry)
	switch {
	case errors.Is(err, ErrNotFound):
		entry = Entry{UserID: userID}
	case err != nil:
		h.log.Error("presence lookup failed", "user_id", userID, "error", err)
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entry)
}
