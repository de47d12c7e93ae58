package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/model"
)

// InsertFriendEdgeBothDirections writes a→b and b→a in one transaction.
//
// INSERT OR IGNORE makes an existing direction a no-op, so re-adding an edge
// succeeds with created == false. If only one direction existed (a partial
// edge left by some earlier writer), the missing one is filled in and
// created is true.
func (db *DB) InsertFriendEdgeBothDirections(ctx context.Context, a, b string) (bool, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return false, apperror.Persistence("insert friend edge",
			fmt.Errorf("sqlite: beginning friend edge tx: %w", err))
	}
	defer tx.Rollback() // no-op after Commit

	now := toMillis(time.Now())
	var written int64
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO friends (user_identity, friend_identity, created_at)
			 VALUES (?, ?, ?)`,
			pair[0], pair[1], now,
		)
		if err != nil {
			return false, apperror.Persistence("insert friend edge",
				fmt.Errorf("sqlite: inserting friend edge %s -> %s: %w", pair[0], pair[1], err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, apperror.Persistence("insert friend edge",
				fmt.Errorf("sqlite: checking friend edge rows: %w", err))
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return false, apperror.Persistence("insert friend edge",
			fmt.Errorf("sqlite: committing friend edge %s <-> %s: %w", a, b, err))
	}
	return written > 0, nil
}

// ListFriends returns identity's friends with their stored display names.
func (db *DB) ListFriends(ctx context.Context, identity string) ([]model.Friend, error) {
	friends := []model.Friend{}
	err := db.conn.SelectContext(ctx, &friends,
		`SELECT u.identity, u.display_name
		 FROM friends f
		 JOIN users u ON u.identity = f.friend_identity
		 WHERE f.user_identity = ?
		 ORDER BY u.display_name, u.identity`,
		identity,
	)
	if err != nil {
		return nil, apperror.Persistence("list friends",
			fmt.Errorf("sqlite: listing friends of %s: %w", identity, err))
	}
	return friends, nil
}
