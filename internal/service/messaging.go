package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/model"
	"github.com/sakif/chat-relay/internal/presence"
	"github.com/sakif/chat-relay/internal/protocol"
	"github.com/sakif/chat-relay/internal/repository"
)

// MaxMessageBodyLength caps a single message, in characters.
const MaxMessageBodyLength = 4000

// Messaging handles direct messages and the friend graph.
type Messaging struct {
	registry *presence.Registry
	users    repository.UserRepository
	friends  repository.FriendRepository
	messages repository.MessageRepository
	logger   *slog.Logger
}

func NewMessaging(registry *presence.Registry, repo repository.Gateway, logger *slog.Logger) *Messaging {
	return &Messaging{
		registry: registry,
		users:    repo,
		friends:  repo,
		messages: repo,
		logger:   logger,
	}
}

// SendMessage stores a message and pushes the whole conversation to both
// ends.
//
// CONVERSATION SNAPSHOTS:
// After the insert the full ordered conversation is re-read and sent, not
// just the new message. Any event a client missed earlier is healed by the
// next one, and two sends racing on the same pair at worst deliver their
// snapshots in swapped order, each one complete.
//
// The originating connection always gets the snapshot; the receiver gets it
// when online. If storing fails nothing is delivered.
func (m *Messaging) SendMessage(ctx context.Context, origin presence.Conn,
	sender, receiver, body string, clientTS time.Time) error {
	sender = strings.TrimSpace(sender)
	receiver = strings.TrimSpace(receiver)

	if sender == "" {
		return apperror.ValidationFailed("sender", "sender is required")
	}
	if receiver == "" {
		return apperror.ValidationFailed("receiver", "receiver is required")
	}
	if strings.TrimSpace(body) == "" {
		return apperror.ValidationFailed("body", "message body is required")
	}
	if utf8.RuneCountInString(body) > MaxMessageBodyLength {
		return apperror.ValidationFailed("body",
			fmt.Sprintf("message body must be %d characters or less", MaxMessageBodyLength))
	}

	msg := &model.Message{
		Sender:          sender,
		Receiver:        receiver,
		Body:            body,
		ClientTimestamp: clientTS,
	}
	if err := m.messages.InsertMessage(ctx, msg); err != nil {
		m.logger.Error("storing message",
			slog.String("sender", sender),
			slog.String("receiver", receiver),
			slog.String("error", err.Error()),
		)
		return err
	}

	conversation, err := m.messages.ListConversation(ctx, sender, receiver)
	if err != nil {
		m.logger.Error("reading conversation after send",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return err
	}

	deliver(m.logger, origin, protocol.Conversation(receiver, conversation))
	if entry, ok := m.registry.Lookup(receiver); ok && entry.Conn.ID() != origin.ID() {
		deliver(m.logger, entry.Conn, protocol.Conversation(sender, conversation))
	}

	m.logger.Debug("message relayed",
		slog.String("message_id", msg.ID),
		slog.String("sender", sender),
		slog.String("receiver", receiver),
		slog.Int("conversation_length", len(conversation)),
	)
	return nil
}

// GetMessages returns the conversation between a and b in timestamp order.
// A storage failure is logged and yields an empty conversation.
func (m *Messaging) GetMessages(ctx context.Context, a, b string) []model.Message {
	msgs, err := m.messages.ListConversation(ctx, strings.TrimSpace(a), strings.TrimSpace(b))
	if err != nil {
		m.logger.Error("listing conversation",
			slog.String("a", a),
			slog.String("b", b),
			slog.String("error", err.Error()),
		)
		return []model.Message{}
	}
	return msgs
}

// GetFriends joins identity's stored friends with live presence.
// A storage failure is logged and yields an empty list.
func (m *Messaging) GetFriends(ctx context.Context, identity string) []model.FriendStatus {
	friends, err := m.friends.ListFriends(ctx, strings.TrimSpace(identity))
	if err != nil {
		m.logger.Error("listing friends",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return []model.FriendStatus{}
	}

	out := make([]model.FriendStatus, 0, len(friends))
	for _, f := range friends {
		status := model.FriendStatus{
			Identity:    f.Identity,
			DisplayName: f.DisplayName,
		}
		if entry, ok := m.registry.Lookup(f.Identity); ok {
			status.Online = true
			status.SignalingAddress = entry.SignalingAddress
		}
		out = append(out, status)
	}
	return out
}

// AddFriend links requester and target in both directions.
//
// Errors:
//   - apperror.ErrValidation: an identity is empty, or requester == target
//   - apperror.ErrNotFound: either identity has never logged in
//   - apperror.ErrPersistence: the edge could not be written
//
// Re-adding an existing friend succeeds without notifying anyone again. A
// newly created edge pushes friendAdded to the target if they are online.
// The returned Friend describes the target, for the requester's reply.
func (m *Messaging) AddFriend(ctx context.Context, requester, target string) (model.Friend, error) {
	requester = strings.TrimSpace(requester)
	target = strings.TrimSpace(target)

	if requester == "" {
		return model.Friend{}, apperror.ValidationFailed("requesterIdentity", "requester identity is required")
	}
	if target == "" {
		return model.Friend{}, apperror.ValidationFailed("targetIdentity", "target identity is required")
	}
	if requester == target {
		return model.Friend{}, apperror.ValidationFailed("targetIdentity", "cannot add yourself as a friend")
	}

	targetUser, err := m.users.GetUser(ctx, target)
	if err != nil {
		return model.Friend{}, fmt.Errorf("adding friend %s: %w", target, err)
	}
	requesterUser, err := m.users.GetUser(ctx, requester)
	if err != nil {
		return model.Friend{}, fmt.Errorf("adding friend for %s: %w", requester, err)
	}

	created, err := m.friends.InsertFriendEdgeBothDirections(ctx, requester, target)
	if err != nil {
		m.logger.Error("storing friend edge",
			slog.String("requester", requester),
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return model.Friend{}, err
	}

	if created {
		pushTo(m.registry, m.logger, target,
			protocol.FriendAdded(requester, requesterUser.DisplayName))
		m.logger.Info("friend added",
			slog.String("requester", requester),
			slog.String("target", target),
		)
	} else {
		m.logger.Debug("friend edge already present",
			slog.String("requester", requester),
			slog.String("target", target),
		)
	}

	return model.Friend{Identity: targetUser.Identity, DisplayName: targetUser.DisplayName}, nil
}

// FailureReason turns an error from AddFriend into the text shown to the
// requester. Internal details never reach the client.
func FailureReason(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && !errors.Is(err, apperror.ErrPersistence) {
		return appErr.Message
	}
	return "could not add friend, please try again"
}
