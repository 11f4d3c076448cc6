package sqlite

// migrations are applied in order; every statement is idempotent.
// Timestamps are stored as unix nanoseconds.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id           TEXT PRIMARY KEY,
		coin_balance INTEGER NOT NULL DEFAULT 0 CHECK (coin_balance >= 0),
		quota_day    TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS account_quotas (
		account_id TEXT NOT NULL REFERENCES accounts(id),
		action     TEXT NOT NULL,
		remaining  INTEGER NOT NULL DEFAULT 0 CHECK (remaining >= 0),
		PRIMARY KEY (account_id, action)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		id                TEXT NOT NULL UNIQUE,
		account_id        TEXT NOT NULL REFERENCES accounts(id),
		kind              TEXT NOT NULL,
		unit              TEXT NOT NULL,
		action            TEXT NOT NULL DEFAULT '',
		amount            INTEGER NOT NULL,
		resulting_balance INTEGER NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		idempotency_key   TEXT,
		ref_entry_id      TEXT NOT NULL DEFAULT '',
		actor_id          TEXT NOT NULL DEFAULT '',
		quota_day         TEXT NOT NULL DEFAULT '',
		created_at        INTEGER NOT NULL,
		UNIQUE (account_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_counter ON ledger_entries (account_id, unit, action, seq)`,
	`CREATE TABLE IF NOT EXISTS extra_rights (
		id                TEXT PRIMARY KEY,
		account_id        TEXT NOT NULL REFERENCES accounts(id),
		action            TEXT NOT NULL,
		redeemable_on     TEXT NOT NULL,
		consumed          INTEGER NOT NULL DEFAULT 0,
		consumed_at       INTEGER,
		purchase_entry_id TEXT NOT NULL,
		created_at        INTEGER NOT NULL,
		UNIQUE (account_id, action, redeemable_on)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_extra_rights_day ON extra_rights (redeemable_on)`,
}

const (
	entryColumns = `seq, id, account_id, kind, unit, action, amount, resulting_balance, reason,
		idempotency_key, ref_entry_id, actor_id, quota_day, created_at`

	rightColumns = `id, account_id, action, redeemable_on, consumed, consumed_at, purchase_entry_id, created_at`
)
