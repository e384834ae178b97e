package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	myMiddleware "campusconnect/internal/middleware"
)

// maxOnlineStatusIDs caps a bulk presence query.
const maxOnlineStatusIDs = 500

type Handler struct {
	hub      *Hub
	service  *Service
	upgrader websocket.Upgrader
	log      zerolog.Logger
	// ctx outlives individual requests; connection pumps run under it.
	ctx context.Context
	// pumps tracks read pumps, which may be mid-write to the store.
	pumps sync.WaitGroup
}

// NewHandler wires the HTTP and websocket surface. allowedOrigin empty accepts any origin.
func NewHandler(ctx context.Context, hub *Hub, service *Service, allowedOrigin string, log zerolog.Logger) *Handler {
	return &Handler{
		hub:     hub,
		service: service,
		log:     log,
		ctx:     ctx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID := myMiddleware.UserID(r.Context())
	if userID == "" {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), userID, myMiddleware.Username(r.Context()), h.hub, h.service, conn, h.log)
	if !h.hub.Join(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	h.pumps.Add(1)
	go func() {
		defer h.pumps.Done()
		client.ReadPump(h.ctx)
	}()
}

// Wait blocks until every read pump has returned, including any event it was
// still handling. Call it after the hub has stopped and before closing the store.
func (h *Handler) Wait() {
	h.pumps.Wait()
}

// CreateMessage serves POST /api/messages: a durable write without relay.
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID := myMiddleware.UserID(r.Context())

	var req SendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.SenderID == "" {
		req.SenderID = userID
	}
	if req.SenderID != userID {
		h.writeError(w, ErrNotAuthorized)
		return
	}

	msg, err := h.service.CreateMessage(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

// GetHistory serves GET /api/messages/{userId1}/{userId2}.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.service.History(r.Context(),
		myMiddleware.UserID(r.Context()), chi.URLParam(r, "userId1"), chi.URLParam(r, "userId2"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, msgs)
}

type markReadResponse struct {
	Success     bool `json:"success"`
	MarkedCount int  `json:"markedCount"`
}

// MarkRead serves PUT /api/messages/read/{conversationId}.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkRead(r.Context(), chi.URLParam(r, "conversationId"), myMiddleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, markReadResponse{Success: true, MarkedCount: n})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.UnreadCount(r.Context(), myMiddleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context(), myMiddleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// ListConversations serves GET /api/conversations.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.service.ListConversations(r.Context(), myMiddleware.UserID(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, convs)
}

type onlineStatusRequest struct {
	UserIDs []string `json:"userIds"`
}

// OnlineStatus serves POST /api/users/online-status from a registry snapshot.
func (h *Handler) OnlineStatus(w http.ResponseWriter, r *http.Request) {
	var req onlineStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserIDs == nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userIds array required"})
		return
	}
	if len(req.UserIDs) > maxOnlineStatusIDs {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "too many userIds"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.hub.Registry().Online(req.UserIDs))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	body := map[string]string{"error": PublicMessage(err), "code": ErrorCode(err)}
	var sr *SameRoleError
	if errors.As(err, &sr) {
		body["allowedRole"] = string(sr.Allowed)
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug().Err(err).Msg("write response failed")
	}
}
