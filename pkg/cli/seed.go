package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/pinaka/pkg/bootstrap"
	"github.com/platinummonkey/pinaka/pkg/rbac"
)

func newSeedCommand() *Command {
	return &Command{
		Name:        "seed",
		Description: "Seed roles and permissions from the permission matrix",
		Flags:       flag.NewFlagSet("seed", flag.ExitOnError),
		Run:         runSeed,
	}
}

func runSeed(args []string) error {
	flags := flag.NewFlagSet("seed", flag.ContinueOnError)
	db := addDatabaseFlags(flags)
	matrixFile := flags.String("matrix", "", "Permission matrix YAML file (defaults to the built-in matrix)")
	force := flags.Bool("force", false, "Reseed even when roles already exist")
	migrate := flags.Bool("migrate", true, "Apply migrations before seeding")
	if err := flags.Parse(args); err != nil {
		return err
	}

	matrix, err := loadMatrixFlag(*matrixFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	logger := db.logger()
	conn, dialect, closeDB, err := db.open(ctx, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if *migrate {
		if err := rbac.RunMigrations(ctx, conn, dialect, logger); err != nil {
			return fmt.Errorf("rbac migrations failed: %w", err)
		}
	}

	store := rbac.NewSQLStore(conn)
	b := bootstrap.New(store, nil, matrix, bootstrap.WithLogger(logger))
	if err := b.Initialize(ctx, *force); err != nil {
		return err
	}

	count, err := store.CountRoles(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Permission matrix initialized: %d roles\n", count)
	return nil
}

func loadMatrixFlag(path string) (*rbac.Matrix, error) {
	if path == "" {
		return rbac.DefaultMatrix(), nil
	}
	return rbac.LoadMatrixFile(path)
}
