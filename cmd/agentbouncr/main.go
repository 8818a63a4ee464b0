// Command agentbouncr is the CLI harness around the governance engine: a
// thin Run(args, stdout, stderr) int entry point, one flag.FlagSet per
// subcommand.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/agentbouncr/agentbouncr/pkg/config"
	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
	"github.com/agentbouncr/agentbouncr/pkg/killswitch"
	"github.com/agentbouncr/agentbouncr/pkg/persistence"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entry point, factored out from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "evaluate":
		return runEvaluateCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "approval":
		return runApprovalCmd(args[2:], stdout, stderr)
	case "killswitch":
		return runKillswitchCmd(args[2:], stdout, stderr)
	case "migrate":
		return runMigrateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "agentbouncr - governance decision engine CLI")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  agentbouncr <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  evaluate              Evaluate a single tool call against the active policy")
	fmt.Fprintln(w, "  policy load|list|rollback   Manage policy bundles")
	fmt.Fprintln(w, "  audit verify|export|query   Verify the audit chain, export an evidence pack, or run a filtered query")
	fmt.Fprintln(w, "  approval list|resolve Manage pending approval requests")
	fmt.Fprintln(w, "  killswitch activate|reset|status   Manage the kill switch")
	fmt.Fprintln(w, "  migrate               Apply pending schema migrations")
	fmt.Fprintln(w, "  help                  Show this help")
}

// openStore opens the configured persistence backend and applies any
// pending migrations, the shared setup step every data-touching subcommand
// needs.
func openStore(ctx context.Context, cfg *config.Config) (*persistence.SQLStore, func() error, error) {
	driver, dsn := "sqlite", cfg.DBPath
	if cfg.UsesPostgres() {
		driver, dsn = "postgres", cfg.DBDSN
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", driver, err)
	}

	var migrator persistence.Migrator
	var store *persistence.SQLStore
	if cfg.UsesPostgres() {
		migrator = persistence.NewPostgresMigrator(db)
		store, err = persistence.NewPostgresSQLStore(ctx, db)
	} else {
		migrator = persistence.NewSQLiteMigrator(db)
		store, err = persistence.NewSQLiteSQLStore(ctx, db)
	}
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	if err := migrator.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	return store, db.Close, nil
}

// openKillSwitch builds the kill-switch manager a subcommand should use:
// Redis-backed when GOVERNANCE_REDIS_ADDR is set, so activation is visible
// to every other process pointed at the same Redis, and a fresh in-process
// Manager otherwise (correct for a single long-running engine, a best-effort
// view for a one-shot CLI invocation).
func openKillSwitch(bus *eventbus.Bus, cfg *config.Config) *killswitch.Manager {
	if !cfg.UsesRedis() {
		return killswitch.New(bus)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return killswitch.NewWithStore(bus, killswitch.NewRedisStore(client))
}

var logger = slog.Default().With("component", "cli")
