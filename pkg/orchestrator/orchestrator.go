// Package orchestrator composes the governance engine's components into
// its single externally-visible operation: Evaluate.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentbouncr/agentbouncr/pkg/approval"
	"github.com/agentbouncr/agentbouncr/pkg/audit"
	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
	"github.com/agentbouncr/agentbouncr/pkg/goverr"
	"github.com/agentbouncr/agentbouncr/pkg/injection"
	"github.com/agentbouncr/agentbouncr/pkg/killswitch"
	"github.com/agentbouncr/agentbouncr/pkg/observability"
	"github.com/agentbouncr/agentbouncr/pkg/policy"
	"github.com/agentbouncr/agentbouncr/pkg/tracecontext"
)

// PolicyStore is the subset of pkg/persistence.Store the engine depends on
// for resolving an agent's active policy. Kept narrow so Engine can be
// constructed in tests without a database.
type PolicyStore interface {
	LoadPolicy(ctx context.Context, agentID string) (*policy.Policy, error)
}

// Request is the inbound tool-call to evaluate.
type Request struct {
	AgentID    string
	Tool       string
	Parameters map[string]any
	TraceID    tracecontext.TraceID
	TenantID   string
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	Allowed          bool                 `json:"allowed"`
	RequiresApproval bool                 `json:"requiresApproval,omitempty"`
	ApprovalID       string               `json:"approvalId,omitempty"`
	Deadline         time.Time            `json:"deadline,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	TraceID          string               `json:"traceId"`
	AppliedRules     []policy.AppliedRule `json:"appliedRules,omitempty"`
}

// Engine is the orchestrator. All fields are safe for concurrent use
// except Policy, which is protected by policyMu for the inline-policy path.
type Engine struct {
	Bus            *eventbus.Bus
	KillSwitch     *killswitch.Manager
	PersistedStore PolicyStore
	AuditStore     audit.Store
	Approvals      *approval.Coordinator
	Observability  *observability.Provider
	TenantID       string

	policyMu sync.RWMutex
	policy   *policy.Policy
}

// New constructs an Engine. observabilityProvider may be nil, in which
// case Evaluate runs unwrapped (equivalent to a disabled provider).
func New(bus *eventbus.Bus, ks *killswitch.Manager, store PolicyStore, auditStore audit.Store, approvals *approval.Coordinator, obs *observability.Provider) *Engine {
	return &Engine{Bus: bus, KillSwitch: ks, PersistedStore: store, AuditStore: auditStore, Approvals: approvals, Observability: obs}
}

// SetPolicy installs an inline policy, bypassing PersistedStore for this
// engine's Evaluate calls until ClearPolicy is called.
func (e *Engine) SetPolicy(p *policy.Policy) {
	e.policyMu.Lock()
	e.policy = p
	e.policyMu.Unlock()
	if e.Bus != nil {
		e.Bus.Emit(context.Background(), eventbus.EventPolicyUpdated, eventbus.Data{"policyName": p.Name, "version": p.Version})
	}
}

// ClearPolicy removes the inline policy, falling back to PersistedStore.
func (e *Engine) ClearPolicy() {
	e.policyMu.Lock()
	e.policy = nil
	e.policyMu.Unlock()
}

// ForTenant returns an Engine scoped to tenantID, sharing the bus, policy
// engine state, and kill-switch manager (already per-tenant), but isolated
// on its own policy field.
func (e *Engine) ForTenant(tenantID string) *Engine {
	return &Engine{
		Bus: e.Bus, KillSwitch: e.KillSwitch, PersistedStore: e.PersistedStore,
		AuditStore: e.AuditStore, Approvals: e.Approvals, Observability: e.Observability,
		TenantID: tenantID,
	}
}

// Evaluate runs the seven ordered decision steps in sequence.
func (e *Engine) Evaluate(ctx context.Context, req Request) (Decision, error) {
	if req.AgentID == "" || req.Tool == "" {
		return Decision{}, goverr.ErrInvalidRequest.WithField("reason", "agent id and tool are required")
	}

	var trackDone func(string)
	if e.Observability != nil {
		ctx, trackDone = e.Observability.TrackEvaluate(ctx, req.AgentID, req.Tool)
	}
	finish := func(dec Decision, category string) (Decision, error) {
		if trackDone != nil {
			trackDone(category)
		}
		return dec, nil
	}
	finishErr := func(err error) (Decision, error) {
		if trackDone != nil {
			trackDone(string(goverr.CategoryToolError))
		}
		return Decision{}, err
	}

	// Step 1: trace resolution.
	_, trace := tracecontext.Resolve(ctx, req.TraceID)

	// Step 2: kill-switch short-circuit.
	scope := e.TenantID
	if e.KillSwitch != nil && e.KillSwitch.IsActive(scope) {
		status := e.KillSwitch.GetStatus(scope)
		reason := "Kill-Switch active: " + status.Reason
		dec := Decision{Allowed: false, Reason: reason, TraceID: string(trace.TraceID)}
		e.emit(ctx, eventbus.EventToolCallDenied, req, trace, eventbus.Data{
			"reason": reason, "killSwitch": true,
		})
		e.writeAudit(ctx, req, trace, dec, "", "killswitch_denial")
		return finish(dec, "")
	}

	// Advisory only: this pure heuristic never changes the decision below,
	// only what the caller observes alongside it.
	if findings := scanForInjection(req.Parameters); len(findings) > 0 {
		e.emit(ctx, eventbus.EventInjectionDetected, req, trace, eventbus.Data{"findings": findings})
	}

	// Step 3: policy resolution.
	activePolicy, err := e.resolvePolicy(ctx, req.AgentID)
	if err != nil {
		dec := Decision{Allowed: false, Reason: "fail-secure: policy resolution failed", TraceID: string(trace.TraceID)}
		e.emit(ctx, eventbus.EventToolCallDenied, req, trace, eventbus.Data{"reason": dec.Reason})
		return finish(dec, string(goverr.CategoryConfigError))
	}

	// Step 4: decision.
	result := policy.Evaluate(activePolicy, policy.Request{
		AgentID: req.AgentID, Tool: req.Tool, Parameters: req.Parameters, TraceID: string(trace.TraceID),
	})

	// Step 5: approval interception.
	if result.Allowed && requiresApproval(result) {
		return e.intercept(ctx, req, trace, activePolicy.Name, result, finish, finishErr)
	}

	// Step 6: event emission.
	dec := Decision{
		Allowed: result.Allowed, Reason: result.Reason, TraceID: string(trace.TraceID), AppliedRules: result.AppliedRules,
	}
	eventType := eventbus.EventToolCallAllowed
	failureCategory := ""
	if !result.Allowed {
		eventType = eventbus.EventToolCallDenied
		failureCategory = string(goverr.CategoryPolicyDenial)
	}
	e.emit(ctx, eventType, req, trace, eventbus.Data{"reason": result.Reason, "appliedRules": result.AppliedRules})

	// Step 7: audit write.
	e.writeAudit(ctx, req, trace, dec, failureCategory, "policy_evaluation")

	return finish(dec, "")
}

// scanForInjection runs the pure pattern-based heuristic over every string
// parameter value, the only place a tool call's payload is inspected for
// prompt-injection attempts.
func scanForInjection(params map[string]any) []injection.Finding {
	var findings []injection.Finding
	for _, v := range params {
		s, ok := v.(string)
		if !ok {
			continue
		}
		findings = append(findings, injection.Detect(s)...)
	}
	return findings
}

func requiresApproval(result policy.Decision) bool {
	for _, ar := range result.AppliedRules {
		if ar.Rule.RequireApproval {
			return true
		}
	}
	return false
}

// winningRuleName returns the name of the rule that won evaluation, the
// first entry of AppliedRules under the specificity-then-deny-first
// ordering — empty if the rule carries no name.
func winningRuleName(result policy.Decision) string {
	if len(result.AppliedRules) == 0 {
		return ""
	}
	return result.AppliedRules[0].Rule.Name
}

// intercept implements §4.9 creation: if no Approvals coordinator is
// configured, this fails secure and emits no audit record, preserving the
// "no approval infrastructure -> no approval" contract.
func (e *Engine) intercept(ctx context.Context, req Request, trace tracecontext.Context, policyName string, result policy.Decision, finish func(Decision, string) (Decision, error), finishErr func(error) (Decision, error)) (Decision, error) {
	if e.Approvals == nil {
		dec := Decision{Allowed: false, RequiresApproval: true, Reason: "approval infrastructure not available", TraceID: string(trace.TraceID)}
		e.emit(ctx, eventbus.EventToolCallDenied, req, trace, eventbus.Data{"reason": dec.Reason})
		return finish(dec, string(goverr.CategoryConfigError))
	}

	ruleName := winningRuleName(result)
	pending, err := e.Approvals.Create(ctx, approval.Request{
		TraceID: string(trace.TraceID), TenantID: e.TenantID, AgentID: req.AgentID,
		Tool: req.Tool, Parameters: req.Parameters, Reason: result.Reason,
		PolicyName: policyName, RuleName: ruleName,
	})
	if err != nil {
		return finishErr(err)
	}

	dec := Decision{
		Allowed: false, RequiresApproval: true, ApprovalID: pending.ID,
		Deadline: pending.ExpiresAt, Reason: result.Reason, TraceID: string(trace.TraceID),
	}
	return finish(dec, "")
}

func (e *Engine) emit(ctx context.Context, eventType eventbus.EventType, req Request, trace tracecontext.Context, data eventbus.Data) {
	if e.Bus == nil {
		return
	}
	if data == nil {
		data = eventbus.Data{}
	}
	event := eventbus.Event{
		Type: eventType, Timestamp: time.Now().UTC(), TraceID: string(trace.TraceID),
		AgentID: req.AgentID, TenantID: e.TenantID, Data: data,
	}
	e.Bus.EmitEvent(ctx, event)
}

func (e *Engine) resolvePolicy(ctx context.Context, agentID string) (*policy.Policy, error) {
	e.policyMu.RLock()
	inline := e.policy
	e.policyMu.RUnlock()
	if inline != nil {
		return inline, nil
	}
	if e.PersistedStore == nil {
		return policy.DefaultAllowAll(), nil
	}
	p, err := e.PersistedStore.LoadPolicy(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return policy.DefaultAllowAll(), nil
	}
	return p, nil
}

// writeAudit appends a best-effort audit record: failure here never
// changes the decision already returned to the caller, it only emits
// audit.write_failure.
func (e *Engine) writeAudit(ctx context.Context, req Request, trace tracecontext.Context, dec Decision, failureCategory, writeContext string) {
	if e.AuditStore == nil {
		return
	}
	result := "denied"
	if dec.Allowed {
		result = "allowed"
	}

	rec := audit.Record{
		ID: uuid.New().String(), TraceID: string(trace.TraceID), Timestamp: time.Now().UTC(),
		AgentID: req.AgentID, TenantID: e.TenantID, Tool: req.Tool, Parameters: req.Parameters,
		Result: result, Reason: dec.Reason, FailureCategory: failureCategory,
	}
	if _, err := audit.Append(ctx, e.AuditStore, rec); err != nil {
		e.emit(ctx, eventbus.EventAuditWriteFailure, req, trace, eventbus.Data{"context": writeContext, "error": err.Error()})
	}
}

// ResolveApproval implements the resolution half of the approval workflow:
// approved/rejected/timeout are mutually exclusive terminal transitions
// applied by Approvals' optimistic compare-and-set, each followed by an
// audit record — "allowed" for approved, "denied" for rejected and
// timeout, with the approval_timeout failure category set only on the
// timeout branch. A contention loser (someone else resolved it first, or
// it had already expired) returns the Coordinator's error and writes no
// audit record of its own.
func (e *Engine) ResolveApproval(ctx context.Context, requestID string, status approval.Status, approverID, comment string) (*approval.Request, error) {
	if e.Approvals == nil {
		return nil, goverr.ErrApprovalNotSupported.WithField("requestId", requestID)
	}

	resolved, err := e.Approvals.Resolve(ctx, requestID, status, approverID, comment)
	if err != nil {
		return resolved, err
	}

	result := "denied"
	failureCategory := ""
	switch status {
	case approval.StatusApproved:
		result = "allowed"
	case approval.StatusTimedOut:
		failureCategory = string(goverr.CategoryApprovalTimeout)
	}

	if e.AuditStore != nil {
		rec := audit.Record{
			ID: uuid.New().String(), TraceID: resolved.TraceID, Timestamp: time.Now().UTC(),
			AgentID: resolved.AgentID, TenantID: resolved.TenantID, Tool: resolved.Tool,
			Parameters: resolved.Parameters, Result: result,
			Reason: fmt.Sprintf("approval %s resolved %s by %s", requestID, status, approverID),
			FailureCategory: failureCategory,
		}
		if _, auditErr := audit.Append(ctx, e.AuditStore, rec); auditErr != nil && e.Bus != nil {
			e.Bus.Emit(ctx, eventbus.EventAuditWriteFailure, eventbus.Data{
				"context": "approval_resolution", "requestId": requestID, "error": auditErr.Error(),
			})
		}
	}
	return resolved, nil
}
