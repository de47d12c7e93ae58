// Package service contains the relay's business logic.
//
// THE LAYERS:
//
//	Handler (WebSocket/HTTP) → decodes frames, picks the operation, replies
//	Service                  → validates, enforces the presence rules, fans out
//	Repository               → persists users, friend edges, messages
//
// Three services split the work:
//
//   - Lifecycle binds connections to identities (login, logout, disconnect)
//     and tells friends when someone comes or goes.
//   - Messaging stores direct messages, pushes conversation snapshots and
//     manages the friend graph.
//   - Signaling relays call setup events between two online identities.
//
// All three share one *presence.Registry, injected by the server. None of
// them keeps state of its own, so they are safe for concurrent use by every
// connection's read goroutine.
package service

import (
	"context"
	"log/slog"

	"github.com/sakif/chat-relay/internal/presence"
	"github.com/sakif/chat-relay/internal/protocol"
	"github.com/sakif/chat-relay/internal/repository"
)

// deliver queues ev on conn. A connection that cannot take the event is
// logged and skipped; delivery is best effort everywhere in the relay.
func deliver(logger *slog.Logger, conn presence.Conn, ev protocol.Event) bool {
	if err := conn.Send(ev); err != nil {
		logger.Debug("event not delivered",
			slog.String("type", ev.Type),
			slog.String("conn", conn.ID()),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// pushTo delivers ev to identity's live connection. Offline targets are not
// an error: the event is dropped and false is returned.
func pushTo(registry *presence.Registry, logger *slog.Logger, identity string, ev protocol.Event) bool {
	entry, ok := registry.Lookup(identity)
	if !ok {
		logger.Debug("target offline, dropping event",
			slog.String("type", ev.Type),
			slog.String("target", identity),
		)
		return false
	}
	return deliver(logger, entry.Conn, ev)
}

// fanOut sends ev to every friend of identity who is online right now.
//
// The friend list is read once up front and iterated as a snapshot; presence
// is checked per friend at send time. Returns how many friends got the event.
func fanOut(ctx context.Context, registry *presence.Registry, friends repository.FriendRepository,
	logger *slog.Logger, identity string, ev protocol.Event) int {
	list, err := friends.ListFriends(ctx, identity)
	if err != nil {
		logger.Error("listing friends for notification",
			slog.String("identity", identity),
			slog.String("type", ev.Type),
			slog.String("error", err.Error()),
		)
		return 0
	}

	sent := 0
	for _, f := range list {
		entry, ok := registry.Lookup(f.Identity)
		if !ok {
			continue
		}
		if deliver(logger, entry.Conn, ev) {
			sent++
		}
	}
	return sent
}
