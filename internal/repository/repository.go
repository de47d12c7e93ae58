// Package repository declares the persistence gateway consumed by the relay
// core. The core only ever sees these interfaces; internal/repository/sqlite
// provides the production implementation.
package repository

import (
	"context"

	"github.com/sakif/chat-relay/internal/model"
)

type UserRepository interface {
	// UpsertUser creates the user on first sight and refreshes the display
	// name afterwards. Calling it repeatedly with the same values is a no-op.
	UpsertUser(ctx context.Context, identity, displayName string) error
	// GetUser returns apperror.ErrNotFound when identity has no record.
	GetUser(ctx context.Context, identity string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

type FriendRepository interface {
	// InsertFriendEdgeBothDirections stores a→b and b→a atomically. created
	// reports whether any row was actually written; re-inserting an existing
	// edge succeeds with created == false.
	InsertFriendEdgeBothDirections(ctx context.Context, a, b string) (created bool, err error)
	ListFriends(ctx context.Context, identity string) ([]model.Friend, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *model.Message) error
	// ListConversation returns every message exchanged between a and b in
	// either direction, oldest first.
	ListConversation(ctx context.Context, a, b string) ([]model.Message, error)
}

// Gateway is the full persistence surface used by the services.
type Gateway interface {
	UserRepository
	FriendRepository
	MessageRepository
}
