package rbac

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/pinaka/pkg/storage"
	"github.com/sirupsen/logrus"
)

// MigrationsTable records applied permission matrix migrations
const MigrationsTable = "rbac_migrations"

// GetMigrations returns all permission matrix migrations
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(36) PRIMARY KEY,
					name VARCHAR(64) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     2,
			Description: "Create role_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id VARCHAR(36) PRIMARY KEY,
					role_id VARCHAR(36) NOT NULL REFERENCES roles(id),
					category VARCHAR(64) NOT NULL,
					resource VARCHAR(128) NOT NULL,
					action VARCHAR(32) NOT NULL,
					conditions TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (role_id, category, resource, action)
				);

				CREATE INDEX IF NOT EXISTS idx_role_permissions_role_id ON role_permissions(role_id);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_lookup ON role_permissions(category, resource, action);
			`,
		},
	}
}

// RunMigrations applies pending permission matrix migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect storage.Dialect, logger logrus.FieldLogger) error {
	return storage.RunMigrations(ctx, db, dialect, MigrationsTable, GetMigrations(), logger)
}
