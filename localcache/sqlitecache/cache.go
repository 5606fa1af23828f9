// Package sqlitecache is a durable localcache.Cache in a per-profile SQLite file.
package sqlitecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/sealbox"
	"github.com/jrsteele09/go-social-connect/localcache"
)

var _ localcache.Cache = (*Cache)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    user_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, platform)
)`

type Cache struct {
	db  *sqlx.DB
	box *sealbox.Box
}

// Open creates or opens the cache database at path (":memory:" for tests).
func Open(ctx context.Context, path string, box *sealbox.Box) (*Cache, error) {
	if box == nil {
		return nil, errors.New("[sqlitecache Open] sealbox is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("[sqlitecache Open] create cache directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("[sqlitecache Open] connect: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("[sqlitecache Open] migrate: %w", err)
	}
	return &Cache{db: db, box: box}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Get(ctx context.Context, userID string, platform accounts.Platform) (*localcache.Entry, error) {
	var payload string
	err := c.db.GetContext(ctx, &payload, `SELECT payload FROM cache_entries WHERE user_id = ? AND platform = ?`, userID, string(platform))
	if errors.Is(err, sql.ErrNoRows) {
		return &localcache.Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[sqlitecache Get] %s/%s: %w", userID, platform, err)
	}
	return localcache.Open(c.box, payload)
}

func (c *Cache) Set(ctx context.Context, userID string, platform accounts.Platform, entry *localcache.Entry) error {
	payload, err := localcache.Seal(c.box, entry)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (user_id, platform, payload, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, platform) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		userID, string(platform), payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("[sqlitecache Set] %s/%s: %w", userID, platform, err)
	}
	return nil
}

func (c *Cache) Clear(ctx context.Context, userID string, platform accounts.Platform) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE user_id = ? AND platform = ?`, userID, string(platform)); err != nil {
		return fmt.Errorf("[sqlitecache Clear] %s/%s: %w", userID, platform, err)
	}
	return nil
}
