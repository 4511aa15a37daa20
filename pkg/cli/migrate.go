package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/platinummonkey/pinaka/pkg/verification"
)

func newMigrateCommand() *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply permission matrix and verification schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
		Run:         runMigrate,
	}
}

func runMigrate(args []string) error {
	flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
	db := addDatabaseFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	logger := db.logger()
	conn, dialect, closeDB, err := db.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := rbac.RunMigrations(ctx, conn, dialect, logger); err != nil {
		return fmt.Errorf("rbac migrations failed: %w", err)
	}
	if err := verification.RunMigrations(ctx, conn, dialect, logger); err != nil {
		return fmt.Errorf("verification migrations failed: %w", err)
	}

	fmt.Fprintln(stdout, "Migrations applied")
	return nil
}
