package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/protocol"
	"github.com/sakif/chat-relay/internal/service"
	"github.com/sakif/chat-relay/internal/socket"
)

// route handles one inbound event type. A returned error is reported back to
// the sending connection by dispatch.
type route func(ctx context.Context, conn *socket.Conn, env protocol.Envelope) error

// WSHandler serves the relay's WebSocket endpoint.
//
// CONNECTION LIFE:
//  1. Upgrade the HTTP request and wrap the socket (this starts its writer).
//  2. Read frames in a loop on this goroutine. Each frame is decoded and
//     handled to completion before the next one is read, which keeps a
//     connection's events in order.
//  3. When reading fails (peer closed, keepalive timed out, server
//     shutting down) run Disconnect, then close the socket.
//
// Disconnect runs on the same goroutine as the connection's events, so it
// can never interleave with that connection's own login.
type WSHandler struct {
	lifecycle *service.Lifecycle
	messaging *service.Messaging
	signaling *service.Signaling
	upgrader  websocket.Upgrader
	opts      socket.Options
	logger    *slog.Logger
	routes    map[string]route

	mu       sync.Mutex
	conns    map[string]*socket.Conn
	sessions sync.WaitGroup
}

func NewWSHandler(lifecycle *service.Lifecycle, messaging *service.Messaging, signaling *service.Signaling,
	opts socket.Options, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	h := &WSHandler{
		lifecycle: lifecycle,
		messaging: messaging,
		signaling: signaling,
		opts:      opts,
		logger:    logger,
		conns:     make(map[string]*socket.Conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	h.routes = map[string]route{
		protocol.TypeLogin:                  h.handleLogin,
		protocol.TypeLogout:                 h.handleLogout,
		protocol.TypeGetFriends:             h.handleGetFriends,
		protocol.TypeAddFriend:              h.handleAddFriend,
		protocol.TypeGetMessages:            h.handleGetMessages,
		protocol.TypeSendMessage:            h.handleSendMessage,
		protocol.TypeSignalingAddressUpdate: h.handleSignalingAddress,
		protocol.TypeCallInitiate:           h.handleCallInitiate,
		protocol.TypeCallAccept:             h.handleCallAccept,
		protocol.TypeCallEnd:                h.handleCallEnd,
	}
	return h
}

// originChecker allows any origin when the list is empty or contains "*".
// Requests without an Origin header (non-browser clients) are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// ServeHTTP handles GET /ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := socket.New(ws, h.opts, h.logger)
	if !h.track(conn) {
		conn.Close()
		return
	}
	defer h.untrack(conn)

	// Persistence calls made while tearing down must not be cut short by the
	// request context ending.
	ctx := context.WithoutCancel(r.Context())

	h.logger.Debug("connection opened",
		slog.String("conn", conn.ID()),
		slog.String("remote", r.RemoteAddr),
	)

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if socket.IsUnexpectedClose(err) {
				h.logger.Warn("connection closed unexpectedly",
					slog.String("conn", conn.ID()),
					slog.String("error", err.Error()),
				)
			}
			break
		}
		h.dispatch(ctx, conn, data)
	}

	h.lifecycle.Disconnect(ctx, conn)
	conn.Close()
}

func (h *WSHandler) dispatch(ctx context.Context, conn *socket.Conn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		h.logger.Debug("undecodable frame",
			slog.String("conn", conn.ID()),
			slog.String("error", err.Error()),
		)
		_ = conn.Send(protocol.Error("malformed frame"))
		return
	}

	handle, ok := h.routes[env.Type]
	if !ok {
		_ = conn.Send(protocol.Error("unknown event type: " + env.Type))
		return
	}

	if err := handle(ctx, conn, env); err != nil {
		h.replyError(conn, env.Type, err)
	}
}

// replyError tells the client about problems it can fix. Storage failures
// are already logged by the services and stay invisible to the client.
func (h *WSHandler) replyError(conn *socket.Conn, eventType string, err error) {
	var appErr *apperror.AppError
	switch {
	case errors.Is(err, protocol.ErrMalformedFrame):
		_ = conn.Send(protocol.Error("malformed " + eventType + " payload"))
	case errors.Is(err, apperror.ErrValidation) && errors.As(err, &appErr):
		_ = conn.Send(protocol.Error(appErr.Message))
	default:
		h.logger.Debug("event failed",
			slog.String("conn", conn.ID()),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// =========================================================================
// EVENT ROUTES
// =========================================================================

func (h *WSHandler) handleLogin(ctx context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.LoginPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	return h.lifecycle.Login(ctx, conn, p.Identity, p.DisplayName)
}

func (h *WSHandler) handleLogout(ctx context.Context, conn *socket.Conn, _ protocol.Envelope) error {
	h.lifecycle.Logout(ctx, conn)
	return nil
}

// identityOr returns requested, or the connection's own identity when the
// client left it out.
func (h *WSHandler) identityOr(conn *socket.Conn, requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	id, _ := h.lifecycle.IdentityOf(conn)
	return id
}

func (h *WSHandler) handleGetFriends(ctx context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.GetFriendsPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	identity := h.identityOr(conn, p.Identity)
	if identity == "" {
		return apperror.ValidationFailed("identity", "identity is required")
	}
	return conn.Send(protocol.FriendsList(h.messaging.GetFriends(ctx, identity)))
}

func (h *WSHandler) handleAddFriend(ctx context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.AddFriendPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	friend, err := h.messaging.AddFriend(ctx, h.identityOr(conn, p.RequesterIdentity), p.TargetIdentity)
	if err != nil {
		return conn.Send(protocol.FriendAddFailed(service.FailureReason(err)))
	}
	return conn.Send(protocol.FriendAdded(friend.Identity, friend.DisplayName))
}

func (h *WSHandler) handleGetMessages(ctx context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.GetMessagesPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	a := h.identityOr(conn, p.IdentityA)
	if a == "" || strings.TrimSpace(p.IdentityB) == "" {
		return apperror.ValidationFailed("identityB", "both identities are required")
	}
	return conn.Send(protocol.Conversation(p.IdentityB, h.messaging.GetMessages(ctx, a, p.IdentityB)))
}

func (h *WSHandler) handleSendMessage(ctx context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.SendMessagePayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	return h.messaging.SendMessage(ctx, conn, h.identityOr(conn, p.Sender), p.Receiver, p.Body, p.ClientTime())
}

func (h *WSHandler) handleSignalingAddress(_ context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.SignalingAddressPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	h.lifecycle.UpdateSignalingAddress(h.identityOr(conn, p.Identity), p.Address)
	return nil
}

func (h *WSHandler) handleCallInitiate(_ context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.CallInitiatePayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	h.signaling.Initiate(h.identityOr(conn, p.CallerIdentity), p.CallerDisplayName, p.ReceiverIdentity, p.CallKind)
	return nil
}

func (h *WSHandler) handleCallAccept(_ context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.CallAcceptPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	h.signaling.Accept(p.CallerIdentity, h.identityOr(conn, p.AccepterIdentity))
	return nil
}

func (h *WSHandler) handleCallEnd(_ context.Context, conn *socket.Conn, env protocol.Envelope) error {
	var p protocol.CallEndPayload
	if err := env.Bind(&p); err != nil {
		return err
	}
	h.signaling.End(p.TargetIdentity, h.identityOr(conn, p.SourceIdentity))
	return nil
}

// =========================================================================
// CONNECTION TRACKING
// =========================================================================

// track registers a live connection. It refuses once Shutdown has started.
func (h *WSHandler) track(conn *socket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns == nil {
		return false
	}
	h.conns[conn.ID()] = conn
	h.sessions.Add(1)
	return true
}

func (h *WSHandler) untrack(conn *socket.Conn) {
	h.mu.Lock()
	if h.conns != nil {
		delete(h.conns, conn.ID())
	}
	h.mu.Unlock()
	h.sessions.Done()
}

// Connections returns how many sockets are open, logged in or not.
func (h *WSHandler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open socket and waits for their read loops to run
// Disconnect, or for ctx to expire. http.Server.Shutdown does not do this
// for hijacked connections.
func (h *WSHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	conns := make([]*socket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = nil
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
