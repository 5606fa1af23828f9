// Package sqlstore is the relay's authoritative accounts.Store on SQLite or Postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/errors"
	"github.com/jrsteele09/go-social-connect/internal/sealbox"
)

var _ accounts.Store = (*Store)(nil)

type Store struct {
	db     *sqlx.DB
	box    *sealbox.Box
	window time.Duration
	now    func() time.Time
}

type Option func(*Store)

// WithNowFunc overrides the clock used for UpdatedAt.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTokenWindow sets the lifetime assumed for tokens without expiry when comparing freshness.
func WithTokenWindow(d time.Duration) Option {
	return func(s *Store) {
		s.window = d
	}
}

// Open connects with the named driver ("sqlite3" or "postgres") and runs the schema.
func Open(ctx context.Context, driver, dsn string, box *sealbox.Box, opts ...Option) (*Store, error) {
	if driver == "sqlite3" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("[sqlstore Open] create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", dsn)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore Open] connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// A single connection keeps :memory: databases shared and serializes SQLite writers.
		db.SetMaxOpenConns(1)
	}
	s, err := New(db, box, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sqlx.DB, box *sealbox.Box, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("[sqlstore New] db is required")
	}
	if box == nil {
		return nil, errors.New("[sqlstore New] sealbox is required")
	}
	s := &Store{db: db, box: box, window: accounts.DefaultTokenWindow, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("[sqlstore Migrate] %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) List(ctx context.Context, customerID string, platform accounts.Platform) ([]*accounts.ConnectedAccount, error) {
	query := s.db.Rebind(`SELECT * FROM connected_accounts WHERE customer_id = ? AND platform = ? ORDER BY connected_at, id`)
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, query, customerID, string(platform)); err != nil {
		return nil, fmt.Errorf("[sqlstore List] %s/%s: %w", customerID, platform, err)
	}

	list := make([]*accounts.ConnectedAccount, 0, len(rows))
	for i := range rows {
		a, err := decodeRow(s.box, &rows[i])
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, nil
}

// Upsert merges with the existing row inside a transaction so concurrent writers from
// other processes cannot replace a fresher token with an older one.
func (s *Store) Upsert(ctx context.Context, account *accounts.ConnectedAccount) (*accounts.ConnectedAccount, error) {
	if account == nil {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "[sqlstore Upsert] account is nil")
	}
	incoming := account.Clone()
	incoming.EnsureID()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore Upsert] begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := s.getTx(ctx, tx, incoming.ID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	merged := accounts.MergeForUpsert(stored, incoming, s.window)
	merged.UpdatedAt = s.now().UTC()
	if merged.ConnectedAt.IsZero() {
		merged.ConnectedAt = merged.UpdatedAt
	}

	row, err := encodeRow(s.box, merged)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO connected_accounts (id, customer_id, platform, external_account_id, display_name, profile_image_url,
			token_value, token_kind, token_issued_at, token_expires_at, refresh_token, sub_resources,
			status, degraded, last_error, connected_at, updated_at)
		VALUES (:id, :customer_id, :platform, :external_account_id, :display_name, :profile_image_url,
			:token_value, :token_kind, :token_issued_at, :token_expires_at, :refresh_token, :sub_resources,
			:status, :degraded, :last_error, :connected_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			profile_image_url = excluded.profile_image_url,
			token_value = excluded.token_value,
			token_kind = excluded.token_kind,
			token_issued_at = excluded.token_issued_at,
			token_expires_at = excluded.token_expires_at,
			refresh_token = excluded.refresh_token,
			sub_resources = excluded.sub_resources,
			status = excluded.status,
			degraded = excluded.degraded,
			last_error = excluded.last_error,
			connected_at = excluded.connected_at,
			updated_at = excluded.updated_at
	`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return nil, fmt.Errorf("[sqlstore Upsert] account %s: %w", merged.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("[sqlstore Upsert] commit: %w", err)
	}
	return merged, nil
}

func (s *Store) Delete(ctx context.Context, customerID, accountID string) error {
	query := s.db.Rebind(`DELETE FROM connected_accounts WHERE id = ? AND customer_id = ?`)
	res, err := s.db.ExecContext(ctx, query, accountID, customerID)
	if err != nil {
		return fmt.Errorf("[sqlstore Delete] account %s: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("[sqlstore Delete] rows affected: %w", err)
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrNotFound, "[sqlstore Delete] account %s", accountID)
	}
	return nil
}

// Get returns one account by id within the customer.
func (s *Store) Get(ctx context.Context, customerID, accountID string) (*accounts.ConnectedAccount, error) {
	a, err := s.getTx(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if a.CustomerID != customerID {
		return nil, errors.Wrapf(errors.ErrNotFound, "[sqlstore Get] account %s", accountID)
	}
	return a, nil
}

func (s *Store) getTx(ctx context.Context, q sqlx.QueryerContext, accountID string) (*accounts.ConnectedAccount, error) {
	var row accountRow
	err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(`SELECT * FROM connected_accounts WHERE id = ?`), accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "[sqlstore Get] account %s", accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("[sqlstore Get] account %s: %w", accountID, err)
	}
	return decodeRow(s.box, &row)
}
