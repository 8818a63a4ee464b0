// Package approval implements the human-in-the-loop workflow: a tool call
// flagged requireApproval is held as a pending Request
// until an approver resolves it or its deadline passes. Storage is
// delegated to a Store so the same optimistic-resolve and lazy-timeout
// logic runs whether the backing state lives in memory (the zero-
// configuration default) or in the persistence layer's approvals table.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimedOut Status = "timed_out"
)

// Request is one held tool call awaiting human resolution.
type Request struct {
	ID         string         `json:"id"`
	TraceID    string         `json:"traceId"`
	TenantID   string         `json:"tenantId,omitempty"`
	AgentID    string         `json:"agentId"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
	PolicyName string         `json:"policyName,omitempty"`
	RuleName   string         `json:"ruleName,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	ExpiresAt  time.Time      `json:"deadline"`
	ResolvedAt time.Time      `json:"resolvedAt,omitempty"`
	ApproverID string         `json:"approver,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// expired reports whether now is past the request's deadline.
func (r Request) expired(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// Store is the durable backing a Coordinator delegates to, so pending
// approvals survive past one process's lifetime. MemoryStore is the
// zero-configuration default; pkg/persistence's SQL backends implement the
// same shape over the approvals table.
type Store interface {
	Create(ctx context.Context, req Request) (Request, error)
	Get(ctx context.Context, id string) (Request, bool, error)
	List(ctx context.Context, tenantID string) ([]Request, error)
	// Resolve applies an optimistic conditional update:
	// the transition to target succeeds (applied=true) only if the
	// record is still pending and either target is StatusTimedOut or now
	// is before its deadline. A record that is pending but already past
	// its deadline is lazily transitioned to StatusTimedOut regardless of
	// the requested target; applied is true only when target itself was
	// StatusTimedOut, signaling the caller's desired transition happened.
	Resolve(ctx context.Context, id string, target Status, approver, comment string, now time.Time) (Request, bool, error)
}

// MemoryStore is a process-local, thread-safe Store. It is what New builds
// when no durable Store is supplied — correct as long as the process
// handling creation is the same one handling resolution, which holds for
// a long-running governance service even though it does not for a
// one-shot CLI invocation (the CLI instead wires a persistence-backed
// Store so `approval resolve` in a fresh process can see what `evaluate`
// created in an earlier one).
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (m *MemoryStore) Create(_ context.Context, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = &req
	return req, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, false, nil
	}
	return *req, true, nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, req := range m.requests {
		if tenantID == "" || req.TenantID == tenantID {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *MemoryStore) Resolve(_ context.Context, id string, target Status, approver, comment string, now time.Time) (Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, false, fmt.Errorf("approval: request %q not found", id)
	}
	if req.expired(now) {
		req.Status = StatusTimedOut
		req.ResolvedAt = now
		applied := target == StatusTimedOut
		if applied {
			req.ApproverID = approver
			req.Comment = comment
		}
		return *req, applied, nil
	}
	if req.Status != StatusPending {
		return *req, false, nil
	}
	req.Status = target
	req.ResolvedAt = now
	req.ApproverID = approver
	req.Comment = comment
	return *req, true, nil
}

// Coordinator is the orchestration layer: it owns the
// default timeout and event emission, and leaves persistence to Store.
type Coordinator struct {
	store          Store
	defaultTimeout time.Duration
	bus            *eventbus.Bus
}

// New creates a Coordinator backed by a fresh MemoryStore. bus may be nil
// to run without event emission.
func New(bus *eventbus.Bus, defaultTimeout time.Duration) *Coordinator {
	return NewWithStore(NewMemoryStore(), bus, defaultTimeout)
}

// NewWithStore creates a Coordinator over an arbitrary Store, e.g. a
// persistence-backed one obtained from pkg/persistence.
func NewWithStore(store Store, bus *eventbus.Bus, defaultTimeout time.Duration) *Coordinator {
	if defaultTimeout <= 0 {
		defaultTimeout = time.Hour
	}
	return &Coordinator{store: store, defaultTimeout: defaultTimeout, bus: bus}
}

// Create persists a new pending request and emits approval.requested. A
// Store write failure propagates to the caller unchanged — no
// tool_call.allowed event escapes this path regardless.
func (c *Coordinator) Create(ctx context.Context, req Request) (*Request, error) {
	now := time.Now().UTC()
	req.ID = uuid.New().String()
	req.Status = StatusPending
	req.CreatedAt = now
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = now.Add(c.defaultTimeout)
	}

	stored, err := c.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.Emit(ctx, eventbus.EventApprovalRequested, eventbus.Data{
			"requestId": stored.ID, "tool": stored.Tool, "agentId": stored.AgentID,
			"tenantId": stored.TenantID, "policyName": stored.PolicyName, "ruleName": stored.RuleName,
			"deadline": stored.ExpiresAt,
		})
	}
	return &stored, nil
}

// Approve resolves a pending request as approved.
func (c *Coordinator) Approve(ctx context.Context, requestID, approverID, comment string) (*Request, error) {
	return c.Resolve(ctx, requestID, StatusApproved, approverID, comment)
}

// Reject resolves a pending request as rejected.
func (c *Coordinator) Reject(ctx context.Context, requestID, approverID, reason string) (*Request, error) {
	return c.Resolve(ctx, requestID, StatusRejected, approverID, reason)
}

// Resolve is the general entry point for approving or rejecting a pending
// request by id: it delegates the
// optimistic compare-and-set to the Store and emits the matching terminal
// event only when the transition actually applied. A record this call finds
// pending but past its deadline is moved to timed-out by the Store; Resolve
// then emits approval.timeout and returns the record with an error. A
// contention loser (the record was already resolved or timed out before
// this call) returns an error and no event.
func (c *Coordinator) Resolve(ctx context.Context, requestID string, target Status, actorID, note string) (*Request, error) {
	now := time.Now().UTC()
	rec, applied, err := c.store.Resolve(ctx, requestID, target, actorID, note, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		if rec.Status == StatusTimedOut {
			if rec.ResolvedAt.Equal(now) {
				c.emitTimeout(ctx, rec)
			}
			return &rec, fmt.Errorf("approval: request %q timed out", requestID)
		}
		return nil, fmt.Errorf("approval: request %q is not pending (status=%s)", requestID, rec.Status)
	}

	if c.bus != nil {
		c.bus.Emit(ctx, eventTypeFor(target), eventbus.Data{
			"requestId": requestID, "tool": rec.Tool, "policyName": rec.PolicyName,
			"ruleName": rec.RuleName, "approverId": actorID, "comment": note,
		})
	}
	return &rec, nil
}

func eventTypeFor(target Status) eventbus.EventType {
	switch target {
	case StatusRejected:
		return eventbus.EventApprovalRejected
	case StatusTimedOut:
		return eventbus.EventApprovalTimeout
	default:
		return eventbus.EventApprovalGranted
	}
}

func (c *Coordinator) emitTimeout(ctx context.Context, rec Request) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(ctx, eventbus.EventApprovalTimeout, eventbus.Data{"requestId": rec.ID, "tool": rec.Tool})
}

// Get returns the request by ID, materializing an expired timeout first.
func (c *Coordinator) Get(ctx context.Context, requestID string) (*Request, bool, error) {
	rec, ok, err := c.store.Get(ctx, requestID)
	if err != nil || !ok {
		return nil, ok, err
	}
	if rec.expired(time.Now().UTC()) {
		if materialized, applied, rerr := c.store.Resolve(ctx, requestID, StatusTimedOut, "", "", time.Now().UTC()); rerr == nil && applied {
			c.emitTimeout(ctx, materialized)
			rec = materialized
		}
	}
	return &rec, true, nil
}

// ListPending returns every request currently pending for tenantID (""
// means every tenant), after materializing any timeouts discovered along
// the way. Re-scans are not needed since materialization happens inline.
func (c *Coordinator) ListPending(ctx context.Context, tenantID string) ([]Request, error) {
	all, err := c.store.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []Request
	now := time.Now().UTC()
	for _, req := range all {
		if req.expired(now) {
			if materialized, applied, rerr := c.store.Resolve(ctx, req.ID, StatusTimedOut, "", "", now); rerr == nil && applied {
				c.emitTimeout(ctx, materialized)
				req = materialized
			}
		}
		if req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}
