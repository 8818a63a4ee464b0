// Package toolwrap intercepts tool dispatch with a governance decision:
// Wrapper sits in front of a Dispatcher, calls orchestrator.Engine.Evaluate
// before delegating, and translates the resulting Decision into the error
// taxonomy of goverr.
package toolwrap

import (
	"context"
	"fmt"

	"github.com/agentbouncr/agentbouncr/pkg/goverr"
	"github.com/agentbouncr/agentbouncr/pkg/orchestrator"
)

// Dispatcher executes the real tool logic once governance has allowed it.
type Dispatcher interface {
	Dispatch(ctx context.Context, toolName string, params map[string]any) (any, error)
}

// Engine is the subset of *orchestrator.Engine the wrapper depends on.
type Engine interface {
	Evaluate(ctx context.Context, req orchestrator.Request) (orchestrator.Decision, error)
}

// Wrapper governs every call through an Engine before delegating to the next
// Dispatcher. Its own Dispatch also takes the calling agent's id, so a
// Wrapper does not itself satisfy Dispatcher.
type Wrapper struct {
	engine Engine
	next   Dispatcher
}

// New builds a Wrapper. next is required; Dispatch fails closed with
// CodeToolExecutionError if it is nil.
func New(engine Engine, next Dispatcher) *Wrapper {
	return &Wrapper{engine: engine, next: next}
}

// Dispatch evaluates the call, then either runs it through next or returns
// a structured error describing why it was refused.
func (w *Wrapper) Dispatch(ctx context.Context, agentID, toolName string, params map[string]any) (any, error) {
	dec, err := w.engine.Evaluate(ctx, orchestrator.Request{AgentID: agentID, Tool: toolName, Parameters: params})
	if err != nil {
		return nil, goverr.Wrap(goverr.CodeToolExecutionError, goverr.CategoryToolError, err, nil)
	}

	if !dec.Allowed {
		denied := goverr.ErrPolicyDenied.WithField("reason", dec.Reason).WithField("tool", toolName)
		if dec.RequiresApproval {
			denied = denied.WithField("approvalId", dec.ApprovalID).WithField("deadline", dec.Deadline)
		}
		return nil, denied
	}

	if w.next == nil {
		return nil, goverr.Wrap(goverr.CodeToolExecutionError, goverr.CategoryToolError,
			fmt.Errorf("no dispatcher configured"), map[string]any{"tool": toolName})
	}
	return w.next.Dispatch(ctx, toolName, params)
}
