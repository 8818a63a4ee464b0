package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
)

// dialectSuffixes names the backend a migration file is restricted to, via
// a "<name>.<dialect>.sql" filename; a plain "<name>.sql" file applies to
// every dialect.
var dialectSuffixes = []string{"sqlite", "postgres"}

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrator applies numbered .sql files in order and tracks progress in a
// version table, so Migrate is safe to call on every startup.
type Migrator interface {
	Migrate(ctx context.Context) error
	CurrentVersion(ctx context.Context) (int, error)
}

// SQLMigrator is a Migrator over any database/sql driver that accepts the
// given placeholder style ("?" for SQLite, "$1" for Postgres).
type SQLMigrator struct {
	db            *sql.DB
	versionTable  string
	placeholder   func(n int) string
	dialect       string
}

// NewSQLiteMigrator builds a Migrator for a SQLite *sql.DB.
func NewSQLiteMigrator(db *sql.DB) *SQLMigrator {
	return &SQLMigrator{db: db, versionTable: "schema_migrations", placeholder: func(int) string { return "?" }, dialect: "sqlite"}
}

// NewPostgresMigrator builds a Migrator for a Postgres *sql.DB.
func NewPostgresMigrator(db *sql.DB) *SQLMigrator {
	return &SQLMigrator{db: db, versionTable: "schema_migrations", placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }, dialect: "postgres"}
}

func (m *SQLMigrator) ensureVersionTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`, m.versionTable))
	return err
}

// migrationDialect reports the dialect a migration filename is restricted
// to ("" meaning every dialect), stripped from the numeric-prefix grouping
// key so "0002_x.sqlite.sql" and "0002_x.postgres.sql" occupy the same
// version slot for their respective backends.
func migrationDialect(name string) (base string, dialect string) {
	for _, d := range dialectSuffixes {
		suffix := "." + d + ".sql"
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), d
		}
	}
	return strings.TrimSuffix(name, ".sql"), ""
}

// sortedMigrationNames returns the embedded migration filenames applicable
// to dialect, in numeric-prefix order, e.g. "0001_init.sql" before
// "0002_audit_immutability.<dialect>.sql".
func sortedMigrationNames(dialect string) ([]string, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	byBase := make(map[string]string)
	var bases []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		base, fileDialect := migrationDialect(e.Name())
		if fileDialect != "" && fileDialect != dialect {
			continue
		}
		if _, seen := byBase[base]; !seen {
			bases = append(bases, base)
		}
		byBase[base] = e.Name()
	}
	sort.Strings(bases)
	names := make([]string, 0, len(bases))
	for _, b := range bases {
		names = append(names, byBase[b])
	}
	return names, nil
}

// Migrate applies, each inside its own transaction, every migration whose
// 1-based position in numeric-prefix order exceeds the current version; that
// position is the version number recorded for it.
func (m *SQLMigrator) Migrate(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("persistence: ensure version table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	names, err := sortedMigrationNames(m.dialect)
	if err != nil {
		return fmt.Errorf("persistence: read migrations: %w", err)
	}

	for i, name := range names {
		version := i + 1
		if version <= current {
			continue
		}
		contents, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("persistence: read migration %s: %w", name, err)
		}

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("persistence: begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("persistence: apply migration %s: %w", name, err)
		}
		insertSQL := fmt.Sprintf(`INSERT INTO %s (version, applied_at) VALUES (%s, %s)`,
			m.versionTable, m.placeholder(1), timeExpr(m.placeholder))
		if _, err := tx.ExecContext(ctx, insertSQL, version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("persistence: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("persistence: commit migration %s: %w", name, err)
		}
	}
	return nil
}

func timeExpr(placeholder func(int) string) string {
	// SQLite and Postgres both accept CURRENT_TIMESTAMP as a bare keyword.
	return "CURRENT_TIMESTAMP"
}

// CurrentVersion returns the highest applied migration number, or 0 if
// none have run yet.
func (m *SQLMigrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureVersionTable(ctx); err != nil {
		return 0, err
	}
	var version sql.NullInt64
	err := m.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MAX(version) FROM %s`, m.versionTable)).Scan(&version)
	if err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}
