package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/model"
)

type messageRow struct {
	ID           string `db:"id"`
	Sender       string `db:"sender"`
	Receiver     string `db:"receiver"`
	Body         string `db:"body"`
	SentAt       int64  `db:"sent_at"`
	ClientSentAt int64  `db:"client_sent_at"`
}

// InsertMessage stores msg. An empty ID gets a fresh xid and a zero
// Timestamp gets the current time; both are written back into msg.
func (db *DB) InsertMessage(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = xid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	// Stored at millisecond precision; truncate so the caller's copy matches
	// what a later read returns.
	msg.Timestamp = msg.Timestamp.Truncate(time.Millisecond)

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, sender, receiver, body, sent_at, client_sent_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.Sender,
		msg.Receiver,
		msg.Body,
		toMillis(msg.Timestamp),
		toMillis(msg.ClientTimestamp),
	)
	if err != nil {
		return apperror.Persistence("insert message",
			fmt.Errorf("sqlite: inserting message %s: %w", msg.ID, err))
	}
	return nil
}

// ListConversation returns the messages between a and b in both directions,
// ordered by server timestamp and then by insertion order.
func (db *DB) ListConversation(ctx context.Context, a, b string) ([]model.Message, error) {
	var rows []messageRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT id, sender, receiver, body, sent_at, client_sent_at
		 FROM messages
		 WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		 ORDER BY sent_at ASC, seq ASC`,
		a, b, b, a,
	)
	if err != nil {
		return nil, apperror.Persistence("list conversation",
			fmt.Errorf("sqlite: listing conversation %s <-> %s: %w", a, b, err))
	}

	msgs := make([]model.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, model.Message{
			ID:              r.ID,
			Sender:          r.Sender,
			Receiver:        r.Receiver,
			Body:            r.Body,
			Timestamp:       fromMillis(r.SentAt),
			ClientTimestamp: fromMillis(r.ClientSentAt),
		})
	}
	return msgs, nil
}
