package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"

	"github.com/agentbouncr/agentbouncr/pkg/config"
	"github.com/agentbouncr/agentbouncr/pkg/persistence"
)

// runMigrateCmd implements `agentbouncr migrate`: apply every pending schema
// migration and report the resulting version. Every other data-touching
// subcommand already migrates via openStore on its own connection; this one
// exists so an operator can run the step explicitly (e.g. before a fleet
// rollout) without evaluating or loading anything.
func runMigrateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()

	driver, dsn := "sqlite", cfg.DBPath
	if cfg.UsesPostgres() {
		driver, dsn = "postgres", cfg.DBDSN
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open %s: %v\n", driver, err)
		return 2
	}
	defer db.Close()

	var migrator persistence.Migrator
	if cfg.UsesPostgres() {
		migrator = persistence.NewPostgresMigrator(db)
	} else {
		migrator = persistence.NewSQLiteMigrator(db)
	}

	if err := migrator.Migrate(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: migrate: %v\n", err)
		return 2
	}

	version, err := migrator.CurrentVersion(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "schema at version %d\n", version)
	return 0
}
