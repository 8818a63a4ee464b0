// Package persistence defines the storage contract orchestrator depends on
// and a SQL-backed implementation shared by the SQLite and
// Postgres backends.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/agentreg"
	"github.com/agentbouncr/agentbouncr/pkg/audit"
	"github.com/agentbouncr/agentbouncr/pkg/policy"
)

// ErrApprovalNotSupported reports a backend with no approval table. SQLStore
// always has one (see AsApprovalStore), so nothing in this package returns
// it; the orchestrator reports a missing approval coordinator with
// goverr.ErrApprovalNotSupported instead.
var ErrApprovalNotSupported = errors.New("persistence: approval store not supported by this backend")

// PolicyStore persists the single active Policy per agent.
type PolicyStore interface {
	SavePolicy(ctx context.Context, agentID string, p *policy.Policy) error
	LoadPolicy(ctx context.Context, agentID string) (*policy.Policy, error)
	DeletePolicy(ctx context.Context, agentID string) error
}

// PolicyHistory persists every version a PolicyStore has ever held for an
// agent, so rollback can resolve policy.NearestPriorVersion against real
// stored documents.
type PolicyHistory interface {
	ListPolicyVersions(ctx context.Context, agentID string) ([]string, error)
	LoadPolicyVersion(ctx context.Context, agentID, version string) (*policy.Policy, error)
}

// AgentRegistry is the same contract pkg/agentreg.Registry exposes;
// aliased here so Store can compose it without a second definition.
type AgentRegistry = agentreg.Registry

// Store is the full persistence surface the orchestrator depends on.
// Approvals are not part of it: SQLStore exposes its approval table
// separately through AsApprovalStore.
type Store interface {
	audit.Store
	PolicyStore
	PolicyHistory
	AgentRegistry
}

// TenantScoped lets a backend return a handle pre-filtered to one tenant;
// backends that have no meaningful per-tenant connection routing return
// themselves unchanged.
type TenantScoped interface {
	ForTenant(tenantID string) Store
}

// Transactor runs fn with a Store scoped to one transaction: a write that
// partially fails (e.g. a policy swap that must also record a history row)
// rolls back as a unit.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(Store) error) error
}

// SQLStore is the Store implementation shared by the SQLite and Postgres
// backends: both speak database/sql, differing only in placeholder syntax
// and the underlying audit.Store they embed.
type SQLStore struct {
	db          *sql.DB
	audit.Store
	*agentreg.InMemory
	placeholder func(n int) string
}

// NewSQLiteSQLStore builds the default, embedded backend.
func NewSQLiteSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	auditStore, err := audit.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return newSQLStore(db, auditStore, func(int) string { return "?" }), nil
}

// NewPostgresSQLStore builds the durable, multi-instance backend.
func NewPostgresSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	auditStore, err := audit.NewPostgresStore(ctx, db)
	if err != nil {
		return nil, err
	}
	return newSQLStore(db, auditStore, func(n int) string { return fmt.Sprintf("$%d", n) }), nil
}

func newSQLStore(db *sql.DB, auditStore audit.Store, placeholder func(int) string) *SQLStore {
	return &SQLStore{db: db, Store: auditStore, InMemory: agentreg.NewInMemory(), placeholder: placeholder}
}

func (s *SQLStore) arg(n int) string { return s.placeholder(n) }

func (s *SQLStore) SavePolicy(ctx context.Context, agentID string, p *policy.Policy) error {
	if p == nil {
		return errors.New("persistence: nil policy")
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("persistence: marshal policy: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertSQL := fmt.Sprintf(`INSERT INTO policies (agent_id, name, version, document, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s)
		ON CONFLICT (agent_id, version) DO UPDATE SET name = excluded.name, document = excluded.document, updated_at = excluded.updated_at`,
		s.arg(1), s.arg(2), s.arg(3), s.arg(4), s.arg(5), s.arg(6))
	if _, err := tx.ExecContext(ctx, insertSQL, agentID, p.Name, p.Version, string(doc), now, now); err != nil {
		return fmt.Errorf("persistence: insert policy version: %w", err)
	}

	upsertSQL := fmt.Sprintf(`INSERT INTO policy_current (agent_id, version) VALUES (%s, %s)
		ON CONFLICT (agent_id) DO UPDATE SET version = excluded.version`, s.arg(1), s.arg(2))
	if _, err := tx.ExecContext(ctx, upsertSQL, agentID, p.Version); err != nil {
		return fmt.Errorf("persistence: upsert current policy: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) LoadPolicy(ctx context.Context, agentID string) (*policy.Policy, error) {
	query := fmt.Sprintf(`
		SELECT p.document FROM policies p
		JOIN policy_current c ON c.agent_id = p.agent_id AND c.version = p.version
		WHERE p.agent_id = %s`, s.arg(1))
	var doc string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: load policy: %w", err)
	}
	var p policy.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("persistence: unmarshal policy: %w", err)
	}
	return &p, nil
}

func (s *SQLStore) DeletePolicy(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM policy_current WHERE agent_id = %s`, s.arg(1)), agentID)
	return err
}

func (s *SQLStore) ListPolicyVersions(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT version FROM policies WHERE agent_id = %s ORDER BY created_at ASC`, s.arg(1)), agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLStore) LoadPolicyVersion(ctx context.Context, agentID, version string) (*policy.Policy, error) {
	query := fmt.Sprintf(`SELECT document FROM policies WHERE agent_id = %s AND version = %s`, s.arg(1), s.arg(2))
	var doc string
	err := s.db.QueryRowContext(ctx, query, agentID, version).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p policy.Policy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// WithTransaction is a best-effort implementation: SQLStore's methods each
// manage their own transaction already (SavePolicy), so this wraps fn with
// the same *SQLStore — true cross-call atomicity would require threading
// a *sql.Tx through every method, which no orchestrator operation needs
// today (each call is already a single SavePolicy).
func (s *SQLStore) WithTransaction(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}
