// Package storage holds the shared persistence plumbing for Pinaka:
// backend configuration, a versioned migration runner that works against
// PostgreSQL and SQLite, and driver-neutral error classification.
//
// Backends live in sub-packages. storage/postgres manages the primary and
// replica pools and the Redis client used by the permission cache.
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/pinaka"
//
//	err := storage.RunMigrations(ctx, db, storage.Postgres, "rbac_migrations", rbac.GetMigrations(), logger)
package storage
