package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 6

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS documents (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					title TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					issuer TEXT NOT NULL DEFAULT '',
					subject TEXT NOT NULL DEFAULT '',
					total_amount REAL,
					currency TEXT NOT NULL DEFAULT '',
					document_date TEXT NOT NULL DEFAULT '',
					due_date TEXT NOT NULL DEFAULT '',
					iban TEXT NOT NULL DEFAULT '',
					structured_reference TEXT NOT NULL DEFAULT '',
					paid INTEGER NOT NULL DEFAULT 0,
					paid_on TEXT NOT NULL DEFAULT '',
					budget_category TEXT NOT NULL DEFAULT '',
					remark TEXT NOT NULL DEFAULT '',
					content_sha256 TEXT NOT NULL DEFAULT '',
					ocr_text_hash TEXT NOT NULL DEFAULT '',
					duplicate_of TEXT NOT NULL DEFAULT '',
					duplicate_reason TEXT NOT NULL DEFAULT '',
					duplicate_resolved INTEGER NOT NULL DEFAULT 0,
					bank_paid_verified INTEGER NOT NULL DEFAULT 0,
					bank_match_score INTEGER NOT NULL DEFAULT 0,
					bank_match_confidence TEXT NOT NULL DEFAULT '',
					bank_match_reason TEXT NOT NULL DEFAULT '',
					bank_match_external_transaction_id TEXT NOT NULL DEFAULT '',
					deleted INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_documents_tenant_content ON documents(tenant_id, content_sha256)`,
				`CREATE INDEX IF NOT EXISTS idx_documents_tenant_text ON documents(tenant_id, ocr_text_hash)`,

				`CREATE TABLE IF NOT EXISTS bank_transactions (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					bank_account_id TEXT NOT NULL,
					external_transaction_id TEXT NOT NULL,
					dedupe_hash TEXT NOT NULL,
					booking_date TEXT NOT NULL DEFAULT '',
					value_date TEXT NOT NULL DEFAULT '',
					amount REAL NOT NULL,
					currency TEXT NOT NULL DEFAULT '',
					counterparty_name TEXT NOT NULL DEFAULT '',
					counterparty_iban TEXT NOT NULL DEFAULT '',
					remittance_information TEXT NOT NULL DEFAULT '',
					movement_type TEXT NOT NULL DEFAULT '',
					raw_json TEXT NOT NULL DEFAULT '',
					csv_import_id TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					source TEXT NOT NULL DEFAULT '',
					auto_mapping INTEGER NOT NULL DEFAULT 0,
					llm_mapping INTEGER NOT NULL DEFAULT 0,
					manual_mapping INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					UNIQUE(tenant_id, bank_account_id, external_transaction_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_bank_transactions_dedupe ON bank_transactions(tenant_id, bank_account_id, dedupe_hash)`,
				`CREATE INDEX IF NOT EXISTS idx_bank_transactions_booking ON bank_transactions(tenant_id, booking_date)`,

				`CREATE TABLE IF NOT EXISTS csv_imports (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					bank_account_id TEXT NOT NULL DEFAULT '',
					file_name TEXT NOT NULL DEFAULT '',
					file_sha256 TEXT NOT NULL,
					format TEXT NOT NULL DEFAULT '',
					parsed_count INTEGER NOT NULL DEFAULT 0,
					imported_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_csv_imports_sha ON csv_imports(tenant_id, file_sha256)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add category mappings",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS category_mappings (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					tenant_id TEXT NOT NULL,
					keyword TEXT NOT NULL DEFAULT '',
					flow TEXT NOT NULL DEFAULT 'all' CHECK (flow IN ('income', 'expense', 'all')),
					category TEXT NOT NULL,
					priority INTEGER NOT NULL DEFAULT 0,
					active INTEGER NOT NULL DEFAULT 1,
					visible_in_budget INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX IF NOT EXISTS idx_category_mappings_tenant ON category_mappings(tenant_id, active, priority)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add analysis runs for categorization caching",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS analysis_runs (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					source_hash TEXT NOT NULL,
					provider TEXT NOT NULL,
					model TEXT NOT NULL DEFAULT '',
					prompt_hash TEXT NOT NULL DEFAULT '',
					mappings_hash TEXT NOT NULL DEFAULT '',
					transactions_hash TEXT NOT NULL DEFAULT '',
					tx_count INTEGER NOT NULL DEFAULT 0,
					summary_json TEXT NOT NULL DEFAULT '[]',
					created_at DATETIME NOT NULL,
					UNIQUE(tenant_id, source_hash)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_analysis_runs_tx_hash ON analysis_runs(tenant_id, transactions_hash)`,
				`CREATE TABLE IF NOT EXISTS analysis_transactions (
					run_id TEXT NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
					external_transaction_id TEXT NOT NULL,
					booking_date TEXT NOT NULL DEFAULT '',
					amount REAL NOT NULL,
					currency TEXT NOT NULL DEFAULT '',
					counterparty_name TEXT NOT NULL DEFAULT '',
					remittance_information TEXT NOT NULL DEFAULT '',
					flow TEXT NOT NULL,
					category TEXT NOT NULL,
					source TEXT NOT NULL,
					reason TEXT NOT NULL DEFAULT '',
					PRIMARY KEY (run_id, external_transaction_id)
				)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add async jobs",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS async_jobs (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					user_id TEXT NOT NULL DEFAULT '',
					job_type TEXT NOT NULL,
					status TEXT NOT NULL CHECK (status IN ('queued', 'running', 'done', 'failed')),
					processed INTEGER NOT NULL DEFAULT 0,
					total INTEGER NOT NULL DEFAULT 0,
					error TEXT NOT NULL DEFAULT '',
					result_json TEXT NOT NULL DEFAULT '',
					started_at DATETIME,
					finished_at DATETIME,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_async_jobs_active ON async_jobs(tenant_id, job_type, status)`,
				`CREATE INDEX IF NOT EXISTS idx_async_jobs_status ON async_jobs(status)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Add job owner and heartbeat",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`ALTER TABLE async_jobs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`,
				`ALTER TABLE async_jobs ADD COLUMN heartbeat_at INTEGER NOT NULL DEFAULT 0`,
			})
		},
	},
	{
		Version:     6,
		Description: "Enforce unique dedupe hashes per account",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`DELETE FROM bank_transactions WHERE rowid NOT IN (
					SELECT MAX(rowid) FROM bank_transactions
					GROUP BY tenant_id, bank_account_id, dedupe_hash
				)`,
				`DROP INDEX IF EXISTS idx_bank_transactions_dedupe`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_bank_transactions_dedupe_unique
					ON bank_transactions(tenant_id, bank_account_id, dedupe_hash)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
