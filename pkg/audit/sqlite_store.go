package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default, embedded Store backend: one SQLite database
// (opened in WAL mode by the caller's DSN, e.g. "file:audit.db?_journal=WAL")
// with one row per Record.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open *sql.DB and ensures the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS audit_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		trace_id TEXT,
		timestamp DATETIME NOT NULL,
		agent_id TEXT,
		tool TEXT,
		parameters JSON,
		result TEXT,
		reason TEXT,
		duration_ms INTEGER,
		failure_category TEXT,
		previous_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_tenant_seq ON audit_records(tenant_id, seq);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) (Record, error) {
	paramsJSON, err := json.Marshal(rec.Parameters)
	if err != nil {
		return Record{}, fmt.Errorf("marshal parameters: %w", err)
	}

	var nextSeq int64
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_records WHERE tenant_id = ?`, rec.TenantID)
	if err := row.Scan(&nextSeq); err != nil {
		return Record{}, fmt.Errorf("next sequence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
			result, reason, duration_ms, failure_category, previous_hash, hash, seq
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.TraceID, rec.Timestamp.UTC().Format(time.RFC3339Nano),
		rec.AgentID, rec.Tool, string(paramsJSON), rec.Result, rec.Reason,
		rec.DurationMs, rec.FailureCategory, rec.PreviousHash, rec.Hash, nextSeq,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert audit record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Tail(ctx context.Context, tenantID string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
		       result, reason, duration_ms, failure_category, previous_hash, hash
		FROM audit_records WHERE tenant_id = ? ORDER BY seq DESC LIMIT 1`, tenantID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) List(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	query := `
		SELECT id, tenant_id, trace_id, timestamp, agent_id, tool, parameters,
		       result, reason, duration_ms, failure_category, previous_hash, hash
		FROM audit_records WHERE tenant_id = ? ORDER BY seq ASC`
	args := []any{tenantID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Query(ctx context.Context, tenantID string, filter QueryFilter) (QueryPage, error) {
	conditions, args := buildQueryConditions(tenantID, filter, func(int) string { return "?" })
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
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(append([]any{}, args...), filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return QueryPage{}, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
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

func (s *SQLiteStore) VerifyChain(ctx context.Context, tenantID string) (int, bool, error) {
	records, err := s.List(ctx, tenantID, 0)
	if err != nil {
		return 0, false, err
	}
	return verifyRecords(records)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		timestamp  string
		paramsJSON sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.TraceID, &timestamp, &rec.AgentID, &rec.Tool,
		&paramsJSON, &rec.Result, &rec.Reason, &rec.DurationMs, &rec.FailureCategory,
		&rec.PreviousHash, &rec.Hash,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &rec.Parameters)
	}
	return rec, nil
}
