package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/auth"
	"github.com/sakif/chat-relay/internal/presence"
	"github.com/sakif/chat-relay/internal/repository"
	"github.com/sakif/chat-relay/internal/service"
)

// APIHandler serves the REST side of the relay: read-only views over the
// same data the WebSocket events expose.
type APIHandler struct {
	users     repository.UserRepository
	messaging *service.Messaging
	registry  *presence.Registry
	logger    *slog.Logger
}

func NewAPIHandler(users repository.UserRepository, messaging *service.Messaging,
	registry *presence.Registry, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		users:     users,
		messaging: messaging,
		registry:  registry,
		logger:    logger,
	}
}

// UserSummary is one row of GET /api/users.
type UserSummary struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
	Online      bool   `json:"online"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Online int    `json:"online"`
}

// HandleListUsers lists every user who has ever logged in.
//
// HTTP: GET /api/users
func (h *APIHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("listing users", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		_, online := h.registry.Lookup(u.Identity)
		out = append(out, UserSummary{
			Identity:    u.Identity,
			DisplayName: u.DisplayName,
			Online:      online,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleFriends returns the caller's friends with live presence.
//
// HTTP: GET /api/friends (requires a session token)
func (h *APIHandler) HandleFriends(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "valid session token required"})
		return
	}
	writeJSON(w, http.StatusOK, h.messaging.GetFriends(r.Context(), identity))
}

// HandleConversation returns the caller's conversation with {peer}.
//
// HTTP: GET /api/messages/{peer} (requires a session token)
func (h *APIHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "valid session token required"})
		return
	}

	peer, err := url.PathUnescape(chi.URLParam(r, "peer"))
	if err != nil || strings.TrimSpace(peer) == "" {
		writeError(w, apperror.ValidationFailed("peer", "peer identity is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.messaging.GetMessages(r.Context(), identity, strings.TrimSpace(peer)))
}

// HandleHealth reports liveness and how many identities are online.
//
// HTTP: GET /healthz
func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Online: h.registry.Len()})
}
