package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore is the durable, multi-instance Store backend: SERIALIZABLE
// isolation on the append read-modify-write keeps the per-tenant sequence
// monotone under concurrent writers.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB and ensures the schema.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		trace_id TEXT,
		timestamp TIMESTAMPTZ NOT NULL,
		agent_id TEXT,
		tool TEXT,
		parameters JSONB,
		result TEXT,
		reason TEXT,
		duration_ms BIGINT,
		failure_category TEXT,
		previous_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		seq BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_seq ON audit_records(tenant_id, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, rec Record) (Record, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nextSeq int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_records WHERE tenant_id = $1`, rec.TenantID).Scan(&nextSeq)
	if err != nil {
		return Record{}, fmt.Errorf("next sequence: %w", err)
	}

	paramsJSON, err := json.Marshal(rec.Parameters)
	if err != nil {
		return Record{}, fmt.Errorf("marshal parameters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
			result, reason, duration_ms, failure_category, previous_hash, hash, seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.TenantID, rec.TraceID, rec.Timestamp.UTC(), rec.AgentID, rec.Tool,
		paramsJSON, rec.Result, rec.Reason, rec.DurationMs, rec.FailureCategory,
		rec.PreviousHash, rec.Hash, nextSeq,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert audit record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Tail(ctx context.Context, tenantID string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
		       result, reason, duration_ms, failure_category, previous_hash, hash
		FROM audit_records WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1`, tenantID)
	rec, err := scanPGRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	query := `
		SELECT id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
		       result, reason, duration_ms, failure_category, previous_hash, hash
		FROM audit_records WHERE tenant_id = $1 ORDER BY seq ASC`
	args := []any{tenantID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPGRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Query(ctx context.Context, tenantID string, filter QueryFilter) (QueryPage, error) {
	ph := func(n int) string { return fmt.Sprintf("$%d", n) }
	conditions, args := buildQueryConditions(tenantID, filter, ph)
	where := "WHERE " + joinAnd(conditions)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_records ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return QueryPage{}, fmt.Errorf("count audit records: %w", err)
	}

	query := `
		SELECT id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
		       result, reason, duration_ms, failure_category, previous_hash, hash
		FROM audit_records ` + where + ` ORDER BY seq ASC`
	pageArgs := args
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %s OFFSET %s", ph(len(args)+1), ph(len(args)+2))
		pageArgs = append(append([]any{}, args...), filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return QueryPage{}, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPGRecord(rows)
		if err != nil {
			return QueryPage{}, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return QueryPage{}, err
	}
	return QueryPage{Records: out, Total: total}, nil
}

func (s *PostgresStore) VerifyChain(ctx context.Context, tenantID string) (int, bool, error) {
	records, err := s.List(ctx, tenantID, 0)
	if err != nil {
		return 0, false, err
	}
	return verifyRecords(records)
}

func scanPGRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		timestamp  time.Time
		paramsJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.TraceID, &timestamp, &rec.AgentID, &rec.Tool,
		&paramsJSON, &rec.Result, &rec.Reason, &rec.DurationMs, &rec.FailureCategory,
		&rec.PreviousHash, &rec.Hash,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Timestamp = timestamp
	if len(paramsJSON) > 0 {
		_ = json.Unmarshal(paramsJSON, &rec.Parameters)
	}
	return rec, nil
}
