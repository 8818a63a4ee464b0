package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentbouncr/agentbouncr/pkg/approval"
)

// CreateApproval, GetApproval, ListApprovals, and ResolveApproval give
// SQLStore the approval group of the persistence contract,
// so a pending approval created by one CLI invocation of `evaluate` is
// still there for a later `approval resolve` invocation to find — the
// durability approval.MemoryStore cannot offer across process lifetimes.
//
// approvalAdapter bridges the ApprovalStore-shaped methods below (named to
// avoid colliding with agentreg.Registry's own Get) to approval.Store's
// Create/Get/List/Resolve method set, so an orchestrator.Engine can use a
// *SQLStore-backed Coordinator exactly as it would an in-memory one.
type approvalAdapter struct{ s *SQLStore }

// AsApprovalStore exposes SQLStore's approval table through approval.Store,
// for wiring into approval.NewWithStore.
func (s *SQLStore) AsApprovalStore() approval.Store { return approvalAdapter{s} }

func (a approvalAdapter) Create(ctx context.Context, req approval.Request) (approval.Request, error) {
	return a.s.CreateApproval(ctx, req)
}
func (a approvalAdapter) Get(ctx context.Context, id string) (approval.Request, bool, error) {
	return a.s.GetApproval(ctx, id)
}
func (a approvalAdapter) List(ctx context.Context, tenantID string) ([]approval.Request, error) {
	return a.s.ListApprovals(ctx, tenantID)
}
func (a approvalAdapter) Resolve(ctx context.Context, id string, target approval.Status, approver, comment string, now time.Time) (approval.Request, bool, error) {
	return a.s.ResolveApproval(ctx, id, target, approver, comment, now)
}

func (s *SQLStore) CreateApproval(ctx context.Context, req approval.Request) (approval.Request, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	paramsJSON, err := json.Marshal(req.Parameters)
	if err != nil {
		return approval.Request{}, fmt.Errorf("persistence: marshal approval parameters: %w", err)
	}

	insertSQL := fmt.Sprintf(`INSERT INTO approvals (
		id, tenant_id, agent_id, tool, parameters, trace_id, policy_name, rule_name,
		status, deadline, created_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.arg(1), s.arg(2), s.arg(3), s.arg(4), s.arg(5), s.arg(6), s.arg(7), s.arg(8), s.arg(9), s.arg(10), s.arg(11))
	_, err = s.db.ExecContext(ctx, insertSQL,
		req.ID, req.TenantID, req.AgentID, req.Tool, string(paramsJSON), req.TraceID,
		req.PolicyName, req.RuleName, string(req.Status),
		req.ExpiresAt.UTC().Format(time.RFC3339Nano), req.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return approval.Request{}, fmt.Errorf("persistence: insert approval: %w", err)
	}
	return req, nil
}

func (s *SQLStore) GetApproval(ctx context.Context, id string) (approval.Request, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM approvals WHERE id = %s`, approvalColumns, s.arg(1))
	row := s.db.QueryRowContext(ctx, query, id)
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return approval.Request{}, false, nil
	}
	if err != nil {
		return approval.Request{}, false, err
	}
	return req, true, nil
}

func (s *SQLStore) ListApprovals(ctx context.Context, tenantID string) ([]approval.Request, error) {
	var rows *sql.Rows
	var err error
	if tenantID == "" {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM approvals ORDER BY created_at ASC`, approvalColumns))
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM approvals WHERE tenant_id = %s ORDER BY created_at ASC`, approvalColumns, s.arg(1)), tenantID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ResolveApproval applies the optimistic conditional update in a
// single transaction: a pending record transitions to target only if it is
// still pending and either target is timeout or the deadline has not
// passed; otherwise a still-pending-but-expired record is lazily
// materialized to timeout and applied is reported false unless target was
// itself timeout.
func (s *SQLStore) ResolveApproval(ctx context.Context, id string, target approval.Status, approver, comment string, now time.Time) (approval.Request, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return approval.Request{}, false, fmt.Errorf("persistence: begin approval resolve tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM approvals WHERE id = %s`, approvalColumns, s.arg(1)), id)
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return approval.Request{}, false, fmt.Errorf("approval: request %q not found", id)
	}
	if err != nil {
		return approval.Request{}, false, err
	}

	expired := req.Status == approval.StatusPending && now.After(req.ExpiresAt)
	applied := false
	switch {
	case expired:
		req.Status = approval.StatusTimedOut
		req.ResolvedAt = now
		applied = target == approval.StatusTimedOut
		if applied {
			req.ApproverID, req.Comment = approver, comment
		}
	case req.Status == approval.StatusPending:
		req.Status = target
		req.ResolvedAt = now
		req.ApproverID, req.Comment = approver, comment
		applied = true
	}

	updateSQL := fmt.Sprintf(`UPDATE approvals SET status = %s, approver = %s, comment = %s, resolved_at = %s WHERE id = %s`,
		s.arg(1), s.arg(2), s.arg(3), s.arg(4), s.arg(5))
	if _, err := tx.ExecContext(ctx, updateSQL, string(req.Status), req.ApproverID, req.Comment, req.ResolvedAt.UTC().Format(time.RFC3339Nano), id); err != nil {
		return approval.Request{}, false, fmt.Errorf("persistence: update approval: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return approval.Request{}, false, fmt.Errorf("persistence: commit approval resolve: %w", err)
	}
	return req, applied, nil
}

const approvalColumns = `id, tenant_id, agent_id, tool, parameters, trace_id, policy_name, rule_name,
		status, deadline, approver, comment, created_at, resolved_at`

func scanApproval(row rowScanner) (approval.Request, error) {
	var (
		req                       approval.Request
		status                    string
		deadline, createdAt       string
		approver, comment         sql.NullString
		resolvedAt                sql.NullString
		paramsJSON                sql.NullString
	)
	err := row.Scan(
		&req.ID, &req.TenantID, &req.AgentID, &req.Tool, &paramsJSON, &req.TraceID,
		&req.PolicyName, &req.RuleName, &status, &deadline, &approver, &comment,
		&createdAt, &resolvedAt,
	)
	if err != nil {
		return approval.Request{}, err
	}
	req.Status = approval.Status(status)
	req.ExpiresAt, _ = time.Parse(time.RFC3339Nano, deadline)
	req.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if approver.Valid {
		req.ApproverID = approver.String
	}
	if comment.Valid {
		req.Comment = comment.String
	}
	if resolvedAt.Valid && resolvedAt.String != "" {
		req.ResolvedAt, _ = time.Parse(time.RFC3339Nano, resolvedAt.String)
	}
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &req.Parameters)
	}
	return req, nil
}

// rowScanner is shared with audit's scanRecord pattern: either *sql.Row or
// *sql.Rows satisfies it.
type rowScanner interface {
	Scan(dest ...any) error
}
