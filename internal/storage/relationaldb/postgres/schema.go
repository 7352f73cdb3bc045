package postgres

import "context"

// schemaStatements creates every table the backend owns. Statements are
// idempotent so Open can run them on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS outbox_commands (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL DEFAULT 'default',
		service       TEXT NOT NULL,
		command_type  TEXT NOT NULL,
		request_id    TEXT NOT NULL,
		payload       BYTEA NOT NULL,
		status        TEXT NOT NULL DEFAULT 'PENDING',
		attempts      INTEGER NOT NULL DEFAULT 0,
		locked_by     TEXT,
		locked_at     TIMESTAMPTZ,
		submitted_at  TIMESTAMPTZ,
		fabric_tx_id  TEXT,
		commit_block  BIGINT NOT NULL DEFAULT 0,
		error         TEXT,
		error_code    TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (tenant_id, service, request_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_claimable
		ON outbox_commands (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS projector_state (
		projector_name       TEXT PRIMARY KEY,
		last_processed_block BIGINT NOT NULL DEFAULT 0,
		last_processed_tx_id TEXT NOT NULL DEFAULT '',
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS http_idempotency (
		tenant_id        TEXT NOT NULL,
		method           TEXT NOT NULL,
		path             TEXT NOT NULL,
		body_hash        TEXT NOT NULL,
		status_code      INTEGER NOT NULL,
		response_headers BYTEA,
		response_body    BYTEA,
		ttl_expires_at   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, method, path, body_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS pending_multisig_transactions (
		pending_tx_id      TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL DEFAULT 'default',
		entity_type        TEXT NOT NULL,
		entity_id          TEXT NOT NULL,
		transaction_type   TEXT NOT NULL,
		from_entity_id     TEXT NOT NULL DEFAULT '',
		to_entity_id       TEXT NOT NULL DEFAULT '',
		amount             BIGINT NOT NULL DEFAULT 0,
		fee                BIGINT NOT NULL DEFAULT 0,
		purpose            TEXT NOT NULL DEFAULT '',
		category           TEXT NOT NULL DEFAULT '',
		external_ref       TEXT NOT NULL DEFAULT '',
		required_approvals INTEGER NOT NULL,
		current_approvals  INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT 'PENDING',
		initiated_by       TEXT NOT NULL,
		initiated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at         TIMESTAMPTZ NOT NULL,
		executed_at        TIMESTAMPTZ,
		executed_tx_id     TEXT NOT NULL DEFAULT '',
		rejected_by        TEXT NOT NULL DEFAULT '',
		rejected_at        TIMESTAMPTZ,
		rejection_reason   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_multisig_entity
		ON pending_multisig_transactions (entity_type, entity_id, status)`,

	`CREATE TABLE IF NOT EXISTS multisig_votes (
		vote_id       TEXT PRIMARY KEY,
		pending_tx_id TEXT NOT NULL REFERENCES pending_multisig_transactions (pending_tx_id),
		voter_id      TEXT NOT NULL,
		voter_role    TEXT NOT NULL DEFAULT '',
		approved      BOOLEAN NOT NULL,
		remarks       TEXT NOT NULL DEFAULT '',
		voted_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (pending_tx_id, voter_id)
	)`,

	`CREATE TABLE IF NOT EXISTS signatory_rules (
		rule_id            TEXT PRIMARY KEY,
		entity_type        TEXT NOT NULL,
		entity_id          TEXT NOT NULL,
		rule_order         INTEGER NOT NULL,
		min_amount         BIGINT,
		max_amount         BIGINT,
		required_approvals INTEGER NOT NULL,
		transaction_types  TEXT NOT NULL DEFAULT '',
		approver_roles     TEXT NOT NULL DEFAULT '',
		auto_execute       BOOLEAN NOT NULL DEFAULT FALSE,
		valid_from         TIMESTAMPTZ,
		valid_until        TIMESTAMPTZ,
		is_active          BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signatory_entity
		ON signatory_rules (entity_type, entity_id, rule_order)`,

	`CREATE TABLE IF NOT EXISTS deployment_records (
		deployment_id TEXT PRIMARY KEY,
		service       TEXT NOT NULL,
		source_env    TEXT NOT NULL,
		target_env    TEXT NOT NULL,
		image_tag     TEXT NOT NULL,
		previous_tag  TEXT NOT NULL DEFAULT '',
		reason        TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL DEFAULT 'PENDING_APPROVAL',
		requested_by  TEXT NOT NULL,
		approval_id   TEXT NOT NULL DEFAULT '',
		logs          TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS user_profiles (
		profile_id            TEXT PRIMARY KEY,
		tenant_id             TEXT NOT NULL DEFAULT 'default',
		account_id            TEXT NOT NULL DEFAULT '',
		display_name          TEXT NOT NULL DEFAULT '',
		country_code          TEXT NOT NULL DEFAULT '',
		status                TEXT NOT NULL DEFAULT 'REGISTERED'
			CHECK (status IN ('REGISTERED', 'ACTIVE', 'FROZEN', 'DELETED')),
		onchain_status        TEXT NOT NULL DEFAULT 'NOT_REGISTERED'
			CHECK (onchain_status IN ('NOT_REGISTERED', 'ACTIVE', 'FROZEN')),
		onchain_registered_at TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_profiles_account
		ON user_profiles (account_id) WHERE account_id <> ''`,

	`CREATE TABLE IF NOT EXISTS wallets (
		wallet_id      TEXT PRIMARY KEY,
		profile_id     TEXT NOT NULL,
		tenant_id      TEXT NOT NULL DEFAULT 'default',
		cached_balance BIGINT NOT NULL DEFAULT 0,
		deleted_at     TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_wallets_primary
		ON wallets (profile_id) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS transactions (
		tx_id            TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL DEFAULT 'default',
		type             TEXT NOT NULL,
		from_account     TEXT NOT NULL DEFAULT '',
		to_account       TEXT NOT NULL DEFAULT '',
		amount           BIGINT NOT NULL DEFAULT 0,
		fee              BIGINT NOT NULL DEFAULT 0,
		purpose          TEXT NOT NULL DEFAULT '',
		category         TEXT NOT NULL DEFAULT '',
		external_ref     TEXT NOT NULL DEFAULT '',
		blockchain_tx_id TEXT NOT NULL DEFAULT '',
		block_number     BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_accounts
		ON transactions (from_account, to_account)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		notification_id TEXT PRIMARY KEY,
		tenant_id       TEXT NOT NULL DEFAULT 'default',
		profile_id      TEXT NOT NULL,
		kind            TEXT NOT NULL,
		message         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_profile
		ON notifications (profile_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS event_logs (
		event_name   TEXT NOT NULL,
		payload      BYTEA,
		fabric_tx_id TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (fabric_tx_id, event_name)
	)`,
}

func (db *PostgresDatabase) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
