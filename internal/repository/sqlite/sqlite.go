// Package sqlite implements the persistence gateway on top of SQLite.
//
// The driver is modernc.org/sqlite (pure Go, no cgo). Queries go through
// sqlx for struct scanning, and the schema is managed by golang-migrate from
// the SQL files embedded under migrations/.
//
// The pool is capped at a single connection. SQLite serialises writers
// anyway, and ":memory:" databases are per-connection, so one connection is
// the only setting under which tests and production see the same data.
// Keep that in mind when adding queries: never hold a *sqlx.Rows open while
// issuing another statement on the same DB.
package sqlite

import (
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jellydator/ttlcache/v3"
	"github.com/jmoiron/sqlx"

	"github.com/sakif/chat-relay/internal/model"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultUserCacheTTL is how long a user record read by GetUser stays cached.
const DefaultUserCacheTTL = 5 * time.Minute

// DB wraps the connection pool and implements repository.Gateway.
type DB struct {
	conn  *sqlx.DB
	users *ttlcache.Cache[string, model.User]
}

// Option tweaks a DB at construction time.
type Option func(*options)

type options struct {
	userCacheTTL time.Duration
}

// WithUserCacheTTL overrides DefaultUserCacheTTL. Non-positive values keep
// the default.
func WithUserCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.userCacheTTL = ttl
		}
	}
}

// New opens (or creates) the database at dbPath and applies migrations.
//
// dbPath examples:
//   - "data/relay.db" → file-based database
//   - ":memory:"      → in-memory database, used by the tests
func New(dbPath string, opts ...Option) (*DB, error) {
	o := options{userCacheTTL: DefaultUserCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight; busy_timeout makes
	// a locked database wait instead of failing immediately.
	if _, err := conn.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA foreign_keys = ON;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: configuring database: %w", err)
	}

	db := &DB{
		conn: conn,
		users: ttlcache.New[string, model.User](
			ttlcache.WithTTL[string, model.User](o.userCacheTTL),
		),
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	go db.users.Start()

	return db, nil
}

// Close stops the user cache and closes the connection pool.
func (db *DB) Close() error {
	db.users.Stop()
	return db.conn.Close()
}

// migrate applies every pending up-migration from the embedded directory.
//
// The migrate instance is deliberately not closed: Close on the sqlite
// driver would close the shared *sql.DB as well.
func (db *DB) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.conn.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// toMillis and fromMillis convert between time.Time and the INTEGER
// columns. A zero time is stored as 0 and read back as the zero time.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
