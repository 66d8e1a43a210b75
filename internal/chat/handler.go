package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	myMiddleware "flowchat/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// RoomStore is the persistence behind the REST endpoints. *Repository
// satisfies it.
type RoomStore interface {
	IsMember(ctx context.Context, userID int64, roomID RoomID) (bool, error)
	SaveMessageMetadata(ctx context.Context, m *MessageMetadata) error
	MarkRead(ctx context.Context, userID int64, roomID RoomID, at time.Time) (bool, error)
	LeaveRoom(ctx context.Context, userID int64, roomID RoomID) (bool, error)
}

type Handler struct {
	hub      *Hub
	repo     RoomStore
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler builds the chat endpoints. An empty origins list accepts any
// Origin header.
func NewHandler(hub *Hub, repo RoomStore, log *slog.Logger, origins []string) *Handler {
	return &Handler{
		hub:  hub,
		repo: repo,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
			},
		},
	}
}

// ServeWs handles GET /ws/chat/{roomID}/. The session is authorized before
// the upgrade; a rejected client gets a bare 403 and no reason.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	roomID, err := ParseRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	session := h.hub.NewSession(roomID)

	if err := session.Authorize(r.Context(), myMiddleware.TokenFromRequest(r)); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	// The request context ends when this handler returns; the connection
	// outlives it.
	ctx := context.WithoutCancel(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("Websocket upgrade failed", "session_id", session.ID(), "error", err)
		session.Close(ctx)
		return
	}

	client := NewClient(session, conn, h.log)
	go client.WritePump()
	go client.ReadPump(ctx)
}

// CreateMessageMetadata handles POST /api/chat/rooms/{roomID}/messages.
func (h *Handler) CreateMessageMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID, ok := h.memberRoom(w, r, id.UserID)
	if !ok {
		return
	}

	var req CreateMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorFrame{Error: invalidJSON})
		return
	}
	if req.MessageType == "" {
		req.MessageType = MessageText
	}
	if req.FirebaseMessageID == "" || !req.MessageType.Valid() {
		writeJSON(w, http.StatusBadRequest, ErrorFrame{Error: "firebase_message_id and a valid message_type are required"})
		return
	}

	m := &MessageMetadata{
		FirebaseMessageID: req.FirebaseMessageID,
		RoomID:            roomID,
		SenderID:          id.UserID,
		MessageType:       req.MessageType,
	}
	if err := h.repo.SaveMessageMetadata(r.Context(), m); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			writeJSON(w, http.StatusConflict, ErrorFrame{Error: "firebase_message_id already recorded"})
			return
		}
		h.log.Error("Saving message metadata failed", "room_id", roomID, "user_id", id.UserID, "error", err)
		http.Error(w, "could not save message metadata", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// MarkRead handles POST /api/chat/rooms/{roomID}/read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID, err := ParseRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorFrame{Error: "Room or membership not found"})
		return
	}

	updated, err := h.repo.MarkRead(r.Context(), id.UserID, roomID, time.Now())
	if err != nil {
		h.log.Error("Marking room read failed", "room_id", roomID, "user_id", id.UserID, "error", err)
		http.Error(w, "could not mark messages read", http.StatusInternalServerError)
		return
	}
	if !updated {
		writeJSON(w, http.StatusNotFound, ErrorFrame{Error: "Room or membership not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Messages marked as read"})
}

// LeaveRoom handles POST /api/chat/rooms/{roomID}/leave. Open sockets of
// the caller in that room stay up until they disconnect; new ones are
// refused.
func (h *Handler) LeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := myMiddleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	roomID, err := ParseRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorFrame{Error: "Room not found or access denied"})
		return
	}

	left, err := h.repo.LeaveRoom(r.Context(), id.UserID, roomID)
	if err != nil {
		h.log.Error("Leaving room failed", "room_id", roomID, "user_id", id.UserID, "error", err)
		http.Error(w, "could not leave room", http.StatusInternalServerError)
		return
	}
	if !left {
		writeJSON(w, http.StatusNotFound, ErrorFrame{Error: "Room not found or access denied"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully left the room"})
}

func (h *Handler) memberRoom(w http.ResponseWriter, r *http.Request, userID int64) (RoomID, bool) {
	roomID, err := ParseRoomID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorFrame{Error: "Room not found or access denied"})
		return "", false
	}
	member, err := h.repo.IsMember(r.Context(), userID, roomID)
	if err != nil {
		h.log.Error("Membership lookup failed", "room_id", roomID, "user_id", userID, "error", err)
		http.Error(w, "membership lookup failed", http.StatusInternalServerError)
		return "", false
	}
	if !member {
		writeJSON(w, http.StatusNotFound, ErrorFrame{Error: "Room not found or access denied"})
		return "", false
	}
	return roomID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
