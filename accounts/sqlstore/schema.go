package sqlstore

// Times are unix milliseconds so the same schema runs on SQLite and Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS connected_accounts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    external_account_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    profile_image_url TEXT NOT NULL DEFAULT '',
    token_value TEXT NOT NULL,
    token_kind TEXT NOT NULL,
    token_issued_at BIGINT NOT NULL,
    token_expires_at BIGINT,
    refresh_token TEXT NOT NULL DEFAULT '',
    sub_resources TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    degraded BOOLEAN NOT NULL DEFAULT false,
    last_error TEXT NOT NULL DEFAULT '',
    connected_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE(customer_id, platform, external_account_id)
);

CREATE INDEX IF NOT EXISTS idx_connected_accounts_scope ON connected_accounts(customer_id, platform);
`
