package postgres

// migrations run in order inside one transaction on every Migrate call;
// each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id           UUID PRIMARY KEY,
		coin_balance BIGINT NOT NULL DEFAULT 0 CONSTRAINT accounts_coin_balance_nonneg CHECK (coin_balance >= 0),
		quota_day    TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS account_quotas (
		account_id UUID NOT NULL REFERENCES accounts(id),
		action     TEXT NOT NULL,
		remaining  BIGINT NOT NULL DEFAULT 0 CONSTRAINT account_quotas_remaining_nonneg CHECK (remaining >= 0),
		PRIMARY KEY (account_id, action)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		seq               BIGSERIAL PRIMARY KEY,
		id                TEXT NOT NULL UNIQUE,
		account_id        UUID NOT NULL REFERENCES accounts(id),
		kind              TEXT NOT NULL,
		unit              TEXT NOT NULL,
		action            TEXT NOT NULL DEFAULT '',
		amount            BIGINT NOT NULL,
		resulting_balance BIGINT NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		idempotency_key   TEXT,
		ref_entry_id      TEXT NOT NULL DEFAULT '',
		actor_id          TEXT NOT NULL DEFAULT '',
		quota_day         TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT ledger_entries_idempotency UNIQUE (account_id, idempotency_key)
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_account_seq ON ledger_entries (account_id, seq)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_counter ON ledger_entries (account_id, unit, action, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS extra_rights (
		id                TEXT PRIMARY KEY,
		account_id        UUID NOT NULL REFERENCES accounts(id),
		action            TEXT NOT NULL,
		redeemable_on     TEXT NOT NULL,
		consumed          BOOLEAN NOT NULL DEFAULT false,
		consumed_at       TIMESTAMPTZ,
		purchase_entry_id TEXT NOT NULL,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT extra_rights_one_per_day UNIQUE (account_id, action, redeemable_on)
	)`,
	`CREATE INDEX IF NOT EXISTS extra_rights_redeemable_on ON extra_rights (redeemable_on)`,
}

const (
	idempotencyConstraint = "ledger_entries_idempotency"

	entryColumns = `seq, id, account_id, kind, unit, action, amount, resulting_balance, reason,
		idempotency_key, ref_entry_id, actor_id, quota_day, created_at`

	rightColumns = `id, account_id, action, redeemable_on, consumed, consumed_at, purchase_entry_id, created_at`
)
