package verification

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/pinaka/pkg/storage"
	"github.com/sirupsen/logrus"
)

// MigrationsTable records applied verification migrations
const MigrationsTable = "verification_migrations"

const historyTablePostgres = `
	CREATE TABLE IF NOT EXISTS unified_verification_history (
		id BIGSERIAL PRIMARY KEY,
		verification_id VARCHAR(36) NOT NULL REFERENCES unified_verifications(id),
		action VARCHAR(32) NOT NULL,
		actor_id VARCHAR(255),
		actor_role VARCHAR(64),
		actor_email VARCHAR(255),
		actor_name VARCHAR(255),
		previous_status VARCHAR(32),
		new_status VARCHAR(32) NOT NULL,
		note TEXT,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_verification_history_verification ON unified_verification_history(verification_id, created_at);
`

const historyTableSQLite = `
	CREATE TABLE IF NOT EXISTS unified_verification_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		verification_id VARCHAR(36) NOT NULL REFERENCES unified_verifications(id),
		action VARCHAR(32) NOT NULL,
		actor_id VARCHAR(255),
		actor_role VARCHAR(64),
		actor_email VARCHAR(255),
		actor_name VARCHAR(255),
		previous_status VARCHAR(32),
		new_status VARCHAR(32) NOT NULL,
		note TEXT,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_verification_history_verification ON unified_verification_history(verification_id, created_at);
`

// GetMigrations returns all verification migrations
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create unified_verifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS unified_verifications (
					id VARCHAR(36) PRIMARY KEY,
					verification_type VARCHAR(32) NOT NULL,
					entity_type VARCHAR(64) NOT NULL,
					entity_id VARCHAR(255) NOT NULL,
					requester_id VARCHAR(255),
					requester_role VARCHAR(64),
					requester_email VARCHAR(255),
					requester_name VARCHAR(255),
					assignee_id VARCHAR(255),
					assignee_role VARCHAR(64),
					assignee_email VARCHAR(255),
					assignee_name VARCHAR(255),
					title VARCHAR(255) NOT NULL,
					description TEXT,
					notes TEXT,
					file_name VARCHAR(255),
					file_url TEXT,
					file_size BIGINT,
					mime_type VARCHAR(128),
					metadata TEXT,
					priority VARCHAR(16) NOT NULL DEFAULT 'NORMAL',
					due_date TIMESTAMP,
					status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
					verified_by_id VARCHAR(255),
					verified_by_role VARCHAR(64),
					verified_by_email VARCHAR(255),
					verified_by_name VARCHAR(255),
					verified_at TIMESTAMP,
					rejected_by_id VARCHAR(255),
					rejected_by_role VARCHAR(64),
					rejected_by_email VARCHAR(255),
					rejected_by_name VARCHAR(255),
					rejected_at TIMESTAMP,
					rejection_reason TEXT,
					review_notes TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (verification_type, entity_type, entity_id)
				);

				CREATE INDEX IF NOT EXISTS idx_verifications_entity ON unified_verifications(entity_type, entity_id);
				CREATE INDEX IF NOT EXISTS idx_verifications_status ON unified_verifications(status, due_date);
				CREATE INDEX IF NOT EXISTS idx_verifications_assignee ON unified_verifications(assignee_id, status);
			`,
		},
		{
			Version:     2,
			Description: "Create unified_verification_history table",
			SQL:         historyTablePostgres,
			SQLite:      historyTableSQLite,
		},
	}
}

// RunMigrations applies pending verification migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect, logger logrus.FieldLogger) error {
	return storage.RunMigrations(ctx, db, dialect, MigrationsTable, GetMigrations(), logger)
}
