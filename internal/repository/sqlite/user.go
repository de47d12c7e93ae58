package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sakif/chat-relay/internal/apperror"
	"github.com/sakif/chat-relay/internal/model"
	"github.com/sakif/chat-relay/internal/repository"
)

// compile-time check that *DB implements the whole gateway
var _ repository.Gateway = (*DB)(nil)

type userRow struct {
	Identity    string `db:"identity"`
	DisplayName string `db:"display_name"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
}

func (r userRow) toModel() model.User {
	return model.User{
		Identity:    r.Identity,
		DisplayName: r.DisplayName,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
}

// UpsertUser inserts the user or refreshes display_name/updated_at. The
// first created_at survives re-logins. The written row replaces any cached
// copy so a concurrent GetUser cannot leave the old name behind.
func (db *DB) UpsertUser(ctx context.Context, identity, displayName string) error {
	now := toMillis(time.Now())
	var row userRow
	err := db.conn.GetContext(ctx, &row,
		`INSERT INTO users (identity, display_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET
		     display_name = excluded.display_name,
		     updated_at   = excluded.updated_at
		 RETURNING identity, display_name, created_at, updated_at`,
		identity, displayName, now, now,
	)
	if err != nil {
		return apperror.Persistence("upsert user",
			fmt.Errorf("sqlite: upserting user %s: %w", identity, err))
	}

	db.users.Set(identity, row.toModel(), ttlcache.DefaultTTL)
	return nil
}

// GetUser reads a user record, serving repeat lookups from the TTL cache.
// Returns apperror.ErrNotFound if the identity has never logged in.
func (db *DB) GetUser(ctx context.Context, identity string) (*model.User, error) {
	if item := db.users.Get(identity, ttlcache.WithDisableTouchOnHit[string, model.User]()); item != nil {
		u := item.Value()
		return &u, nil
	}

	var row userRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT identity, display_name, created_at, updated_at
		 FROM users WHERE identity = ?`,
		identity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", identity)
		}
		return nil, apperror.Persistence("get user",
			fmt.Errorf("sqlite: getting user %s: %w", identity, err))
	}

	u := db.cacheUser(row.toModel())
	return &u, nil
}

// cacheUser stores a row read by GetUser unless an upsert got there first,
// and returns whichever copy the cache holds.
func (db *DB) cacheUser(u model.User) model.User {
	item, _ := db.users.GetOrSet(u.Identity, u)
	return item.Value()
}

// ListUsers returns every known user ordered by identity.
func (db *DB) ListUsers(ctx context.Context) ([]model.User, error) {
	var rows []userRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT identity, display_name, created_at, updated_at
		 FROM users ORDER BY identity`,
	)
	if err != nil {
		return nil, apperror.Persistence("list users",
			fmt.Errorf("sqlite: listing users: %w", err))
	}

	users := make([]model.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toModel())
	}
	return users, nil
}
