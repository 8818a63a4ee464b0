// Package eventbus implements the non-blocking, fire-and-forget listener
// dispatch fabric: emit returns immediately,
// listeners run on the next scheduler turn with a 100ms execution deadline
// each, and a throwing or slow listener never affects another listener or
// the caller.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/tracecontext"
)

// EventType is the closed taxonomy of events the engine can emit.
type EventType string

const (
	EventToolCallAllowed EventType = "tool_call.allowed"
	EventToolCallDenied  EventType = "tool_call.denied"
	EventToolCallError   EventType = "tool_call.error"

	EventApprovalRequested EventType = "approval.requested"
	EventApprovalGranted   EventType = "approval.granted"
	EventApprovalRejected  EventType = "approval.rejected"
	EventApprovalTimeout   EventType = "approval.timeout"

	EventAgentStarted       EventType = "agent.started"
	EventAgentStopped       EventType = "agent.stopped"
	EventAgentError         EventType = "agent.error"
	EventAgentConfigChanged EventType = "agent.config_changed"

	EventPolicyCreated EventType = "policy.created"
	EventPolicyUpdated EventType = "policy.updated"
	EventPolicyDeleted EventType = "policy.deleted"

	EventKillSwitchActivated   EventType = "killswitch.activated"
	EventKillSwitchDeactivated EventType = "killswitch.deactivated"

	EventAuditIntegrityViolation EventType = "audit.integrity_violation"
	EventAuditWriteFailure       EventType = "audit.write_failure"

	EventInjectionDetected EventType = "injection.detected"
	EventRateLimitExceeded EventType = "rate_limit.exceeded"
)

// Data is the event's free-form payload.
type Data map[string]any

// Event is the envelope carried to every listener.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TraceID   string
	AgentID   string
	TenantID  string
	Data      Data
}

// Listener is invoked for every emission of its registered event type. It
// may return quickly, or block — the bus enforces the 100ms deadline
// regardless.
type Listener func(ctx context.Context, event Event)

// TraceResolver supplies the trace id for an emit call that doesn't carry
// one explicitly. It is invoked at most once per Emit call; a panic or
// error inside it is treated as "no trace id available" and the emission
// proceeds regardless.
type TraceResolver func() (tracecontext.TraceID, bool)

const listenerDeadline = 100 * time.Millisecond

// Bus is the mapping from event type to its ordered listener list.
type Bus struct {
	mu            sync.RWMutex
	listeners     map[EventType][]Listener
	traceResolver TraceResolver
	logger        *slog.Logger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		listeners: make(map[EventType][]Listener),
		logger:    slog.Default().With("component", "eventbus"),
	}
}

// WithTraceResolver attaches a resolver consulted once per Emit call.
func (b *Bus) WithTraceResolver(r TraceResolver) *Bus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.traceResolver = r
	return b
}

// On registers a listener for an event type; each call adds a new listener.
// Listeners cannot be removed one at a time or per event type: the only
// removal is RemoveAll, which clears every listener.
func (b *Bus) On(t EventType, l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[t] = append(b.listeners[t], l)
}

// RemoveAll clears every listener for every event type.
func (b *Bus) RemoveAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[EventType][]Listener)
}

// snapshot returns the listener slice for t, safe to range over without
// holding the lock — a concurrent On/RemoveAll never mutates a snapshot
// already taken.
func (b *Bus) snapshot(t EventType) []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ls := b.listeners[t]
	out := make([]Listener, len(ls))
	copy(out, ls)
	return out
}

// Emit resolves the trace id (consulting the resolver exactly once),
// builds the envelope, and dispatches it. It returns to the caller before
// any listener runs.
func (b *Bus) Emit(ctx context.Context, t EventType, data Data) {
	if data == nil {
		data = Data{}
	}
	event := Event{Type: t, Timestamp: time.Now().UTC(), Data: data}

	if b.traceResolver != nil {
		event.TraceID = resolveTraceID(b.traceResolver)
	}

	b.EmitEvent(ctx, event)
}

func resolveTraceID(resolver TraceResolver) (traceID string) {
	defer func() {
		if r := recover(); r != nil {
			traceID = ""
		}
	}()
	if id, ok := resolver(); ok {
		return string(id)
	}
	return ""
}

// EmitEvent dispatches a fully-formed event without consulting the trace
// resolver. Dispatch is deferred to the next scheduler turn for every
// listener, each independently, each under its own 100ms deadline.
func (b *Bus) EmitEvent(ctx context.Context, event Event) {
	listeners := b.snapshot(event.Type)
	for _, listener := range listeners {
		go b.dispatch(ctx, event, listener)
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event, listener Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("listener panicked", "event_type", event.Type, "panic", r)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Warn("listener panicked", "event_type", event.Type, "panic", r)
			}
			close(done)
		}()
		listener(ctx, event)
	}()

	select {
	case <-done:
	case <-time.After(listenerDeadline):
		b.logger.Warn("listener exceeded execution deadline", "event_type", event.Type, "deadline_ms", listenerDeadline.Milliseconds())
		// Intentionally not cancelled: the bus stops awaiting but the
		// listener's goroutine runs to completion on its own.
	}
}
