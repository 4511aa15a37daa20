package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/pinaka/pkg/observability"
	"github.com/platinummonkey/pinaka/pkg/storage"
	"github.com/platinummonkey/pinaka/pkg/storage/postgres"
	"github.com/sirupsen/logrus"
)

// databaseFlags are shared by commands that talk to the database directly
type databaseFlags struct {
	storageType *string
	dsn         *string
	verbose     *bool
}

func addDatabaseFlags(fs *flag.FlagSet) databaseFlags {
	storageType := os.Getenv("PINAKA_STORAGE_TYPE")
	if storageType == "" {
		storageType = storage.TypePostgres
	}
	dsn := os.Getenv("PINAKA_POSTGRES_URL")
	if storageType == storage.TypeSQLite {
		dsn = os.Getenv("PINAKA_SQLITE_PATH")
	}

	return databaseFlags{
		storageType: fs.String("storage", storageType, "Storage type (postgres or sqlite)"),
		dsn:         fs.String("dsn", dsn, "Postgres URL or SQLite file path"),
		verbose:     fs.Bool("v", false, "Verbose logging"),
	}
}

func (f databaseFlags) logger() *logrus.Logger {
	level := observability.WarnLevel
	if *f.verbose {
		level = observability.DebugLevel
	}
	return observability.NewLogger(level, os.Stderr)
}

// open connects to the configured database. The returned function closes it.
func (f databaseFlags) open(ctx context.Context, logger logrus.FieldLogger) (*sql.DB, storage.Dialect, func(), error) {
	if *f.dsn == "" {
		return nil, "", nil, fmt.Errorf("-dsn is required")
	}

	switch *f.storageType {
	case storage.TypePostgres:
		cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
			PrimaryURL: *f.dsn,
			MaxConns:   4,
			MinConns:   1,
			Timeout:    10 * time.Second,
			Logger:     logger,
		})
		if err != nil {
			return nil, "", nil, err
		}
		return cm.Primary(), storage.Postgres, func() { cm.Close() }, nil
	case storage.TypeSQLite:
		db, err := storage.OpenSQLite(ctx, *f.dsn)
		if err != nil {
			return nil, "", nil, err
		}
		return db, storage.SQLite, func() { db.Close() }, nil
	}
	return nil, "", nil, fmt.Errorf("unsupported storage type %q (must be postgres or sqlite)", *f.storageType)
}
