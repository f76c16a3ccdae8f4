// Package storage opens the SQLite database and applies schema migrations.
package storage

import (
	"database/sql"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS feeds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	feed_type TEXT NOT NULL DEFAULT 'unknown',
	title TEXT NOT NULL DEFAULT '',
	last_checked INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL DEFAULT 0,
	error_since INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS feed_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	link TEXT NOT NULL,
	pub_date INTEGER NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	categories TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(feed_id, link, pub_date)
);
CREATE INDEX IF NOT EXISTS idx_feed_items_feed_pub ON feed_items(feed_id, pub_date);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	send_email TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	daily_send_time TEXT NOT NULL DEFAULT '00:00',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	telegram_chat_id TEXT NOT NULL DEFAULT '',
	smtp_host TEXT NOT NULL DEFAULT '',
	smtp_port INTEGER NOT NULL DEFAULT 587,
	smtp_username TEXT NOT NULL DEFAULT '',
	smtp_password TEXT NOT NULL DEFAULT '',
	smtp_use_tls INTEGER NOT NULL DEFAULT 1,
	from_email TEXT NOT NULL DEFAULT '',
	from_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	friendly_name TEXT NOT NULL DEFAULT '',
	frequency TEXT NOT NULL DEFAULT 'realtime',
	last_sent_time INTEGER NOT NULL DEFAULT 0,
	max_items INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER NOT NULL DEFAULT 1,
	delivery_method TEXT NOT NULL DEFAULT 'email'
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_feed ON subscriptions(feed_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
`

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. Pass ":memory:" for an ephemeral database in tests.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, oops.With("path", path, "context", "creating database directory").Wrap(err)
		}
	}

	// foreign_keys and busy_timeout are connection-scoped, so they ride in
	// the DSN where every pooled connection picks them up. WAL keeps
	// readers unblocked while the poller writes.
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.With("path", path, "context", "opening database").Wrap(err)
	}

	// An in-memory database exists per connection; keep the pool at one
	// so every query sees the same schema.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, oops.With("context", "applying schema").Wrap(err)
	}

	return db, nil
}
