package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/presence"
	"github.com/sakif/chat-relay/internal/protocol"
	"github.com/sakif/chat-relay/internal/repository"
)

// TokenIssuer signs session tokens for logged-in identities.
// *auth.TokenService satisfies it.
type TokenIssuer interface {
	Generate(identity string) (string, error)
}

// Lifecycle moves connections between the unauthenticated and authenticated
// states.
//
// PER-CONNECTION STATE MACHINE:
//
//	Unauthenticated --login--> Authenticated --logout/close--> Closed
//
// Logout and disconnect share one path and are idempotent: whichever runs
// second finds nothing bound to the connection and does nothing. A login
// after logout on the same socket is allowed.
type Lifecycle struct {
	registry *presence.Registry
	users    repository.UserRepository
	friends  repository.FriendRepository
	tokens   TokenIssuer
	logger   *slog.Logger
}

// NewLifecycle creates a Lifecycle. tokens may be nil, in which case no
// session event is sent on login.
func NewLifecycle(registry *presence.Registry, users repository.UserRepository,
	friends repository.FriendRepository, tokens TokenIssuer, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		registry: registry,
		users:    users,
		friends:  friends,
		tokens:   tokens,
		logger:   logger,
	}
}

// Login binds conn to identity.
//
// STEPS:
//  1. Upsert the user record. Identity is trusted, so a storage failure is
//     logged and the login still goes ahead.
//  2. Register in the presence registry, overwriting any earlier session.
//  3. If this connection was logged in as someone else, that identity goes
//     offline for its friends.
//  4. Tell every online friend that identity is online.
//  5. Hand the client a session token when tokens are enabled.
func (l *Lifecycle) Login(ctx context.Context, conn presence.Conn, identity, displayName string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return apperror.ValidationFailed("identity", "identity is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = identity
	}

	if err := l.users.UpsertUser(ctx, identity, displayName); err != nil {
		l.logger.Error("saving user on login",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}

	displaced := l.registry.Register(identity, conn, displayName)
	if displaced.PreviousIdentity != "" {
		l.logger.Info("connection switched identity",
			slog.String("conn", conn.ID()),
			slog.String("from", displaced.PreviousIdentity),
			slog.String("to", identity),
		)
		fanOut(ctx, l.registry, l.friends, l.logger,
			displaced.PreviousIdentity, protocol.FriendOffline(displaced.PreviousIdentity))
	}
	if displaced.PreviousConn != nil {
		l.logger.Info("session replaced by newer login",
			slog.String("identity", identity),
			slog.String("old_conn", displaced.PreviousConn.ID()),
			slog.String("new_conn", conn.ID()),
		)
	}

	notified := fanOut(ctx, l.registry, l.friends, l.logger,
		identity, protocol.FriendOnline(identity, displayName))

	l.logger.Info("user logged in",
		slog.String("identity", identity),
		slog.String("conn", conn.ID()),
		slog.Int("friends_notified", notified),
	)

	if l.tokens != nil {
		token, err := l.tokens.Generate(identity)
		if err != nil {
			l.logger.Error("issuing session token",
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
			return nil
		}
		deliver(l.logger, conn, protocol.Session(identity, token))
	}
	return nil
}

// Logout unbinds conn from its identity. Returns whether anything was bound.
func (l *Lifecycle) Logout(ctx context.Context, conn presence.Conn) bool {
	return l.release(ctx, conn.ID(), "logout")
}

// Disconnect runs when the transport closes. Same effect as Logout.
func (l *Lifecycle) Disconnect(ctx context.Context, conn presence.Conn) bool {
	return l.release(ctx, conn.ID(), "disconnect")
}

func (l *Lifecycle) release(ctx context.Context, handle, reason string) bool {
	identity, ok := l.registry.UnregisterByConnection(handle)
	if !ok {
		return false
	}

	notified := fanOut(ctx, l.registry, l.friends, l.logger,
		identity, protocol.FriendOffline(identity))

	l.logger.Info("user went offline",
		slog.String("identity", identity),
		slog.String("conn", handle),
		slog.String("reason", reason),
		slog.Int("friends_notified", notified),
	)
	return true
}

// IdentityOf returns the identity conn is currently logged in as.
func (l *Lifecycle) IdentityOf(conn presence.Conn) (string, bool) {
	return l.registry.IdentityOf(conn.ID())
}

// UpdateSignalingAddress records the peer endpoint an online identity can be
// called on. Offline identities are ignored.
func (l *Lifecycle) UpdateSignalingAddress(identity, address string) bool {
	if !l.registry.UpdateSignalingAddress(identity, address) {
		l.logger.Debug("signaling address for offline identity ignored",
			slog.String("identity", identity),
		)
		return false
	}
	return true
}
