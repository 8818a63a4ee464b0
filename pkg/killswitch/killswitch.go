// Package killswitch implements a deterministic, tenant-scoped circuit
// breaker: two independent tiers (global, and one per tenant),
// first-write-wins idempotence, no CAS loop — activation is not a hot path.
package killswitch

import (
	"context"
	"sync"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
)

// GlobalScope is the sentinel tenant id meaning "the global tier".
const GlobalScope = ""

// State is the observable triple for one scope.
type State struct {
	Active      bool      `json:"active"`
	ActivatedAt time.Time `json:"activatedAt,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Store is the optional distributed backend behind a Manager, so activation
// is observable across every engine instance sharing it instead of living
// only in one process's map. RedisStore is the
// one implementation; the in-process map Manager uses without a Store
// remains the default.
type Store interface {
	Get(ctx context.Context, scope string) (State, bool, error)
	// SetIfAbsent claims scope atomically, reporting ok=false if another
	// caller already holds it active.
	SetIfAbsent(ctx context.Context, scope string, state State) (bool, error)
	Delete(ctx context.Context, scope string) error
}

// Manager holds the global state and the per-tenant map behind one mutex;
// the critical sections are O(1), so one lock is enough. When store is set,
// that in-process state is not used: Activate, Reset and every read go to
// the store (Redis, typically), so Activate/Reset are visible to every
// engine instance sharing it.
type Manager struct {
	mu      sync.Mutex
	global  State
	tenants map[string]State
	bus     *eventbus.Bus
	store   Store
}

// New creates a Manager. bus may be nil to run without event emission.
func New(bus *eventbus.Bus) *Manager {
	return &Manager{tenants: make(map[string]State), bus: bus}
}

// NewWithStore creates a Manager backed by a distributed Store (RedisStore,
// typically) instead of purely in-process state. store may be nil, in which
// case it behaves exactly like New.
func NewWithStore(bus *eventbus.Bus, store Store) *Manager {
	return &Manager{tenants: make(map[string]State), bus: bus, store: store}
}

// Activate sets the scope active if it is not already, recording an
// ISO-8601 timestamp and the reason, and emits killswitch.activated. A
// second activation for an already-active scope is a no-op: no state
// change, no event.
func (m *Manager) Activate(ctx context.Context, scope, reason string) {
	if m.store != nil {
		m.activateViaStore(ctx, scope, reason)
		return
	}

	m.mu.Lock()
	var alreadyActive bool
	var newState State
	if scope == GlobalScope {
		alreadyActive = m.global.Active
		if !alreadyActive {
			newState = State{Active: true, ActivatedAt: time.Now().UTC(), Reason: reason}
			m.global = newState
		}
	} else {
		alreadyActive = m.tenants[scope].Active
		if !alreadyActive {
			newState = State{Active: true, ActivatedAt: time.Now().UTC(), Reason: reason}
			m.tenants[scope] = newState
		}
	}
	m.mu.Unlock()

	if alreadyActive {
		return
	}

	if m.bus == nil {
		return
	}
	data := eventbus.Data{"reason": reason}
	if scope != GlobalScope {
		data["tenantId"] = scope
	}
	m.bus.Emit(ctx, eventbus.EventKillSwitchActivated, data)
}

// Reset clears the scope's state if it is currently active and emits
// killswitch.deactivated carrying both the reset reason (default "Manual
// reset") and the preserved previous activation reason. A reset on an
// already-inactive scope is a no-op.
func (m *Manager) Reset(ctx context.Context, scope, resetReason string) {
	if resetReason == "" {
		resetReason = "Manual reset"
	}

	if m.store != nil {
		m.resetViaStore(ctx, scope, resetReason)
		return
	}

	m.mu.Lock()
	var wasActive bool
	var previous State
	if scope == GlobalScope {
		wasActive = m.global.Active
		previous = m.global
		if wasActive {
			m.global = State{}
		}
	} else {
		wasActive = m.tenants[scope].Active
		previous = m.tenants[scope]
		if wasActive {
			delete(m.tenants, scope)
		}
	}
	m.mu.Unlock()

	if !wasActive {
		return
	}

	if m.bus == nil {
		return
	}
	data := eventbus.Data{"reason": resetReason, "previousReason": previous.Reason}
	if scope != GlobalScope {
		data["tenantId"] = scope
	}
	m.bus.Emit(ctx, eventbus.EventKillSwitchDeactivated, data)
}

// IsActive reports the scope's current activation state.
func (m *Manager) IsActive(scope string) bool {
	if m.store != nil {
		return m.GetStatus(scope).Active
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if scope == GlobalScope {
		return m.global.Active
	}
	return m.tenants[scope].Active
}

// GetStatus returns the scope's full triple.
func (m *Manager) GetStatus(scope string) State {
	if m.store != nil {
		st, ok, err := m.store.Get(context.Background(), scope)
		if err != nil || !ok {
			return State{}
		}
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if scope == GlobalScope {
		return m.global
	}
	return m.tenants[scope]
}

// activateViaStore is Activate's Redis-backed path: SetIfAbsent is the
// distributed first-write-wins claim, atomic at the store level so two
// engine instances racing to activate the same scope cannot both "win".
func (m *Manager) activateViaStore(ctx context.Context, scope, reason string) {
	state := State{Active: true, ActivatedAt: time.Now().UTC(), Reason: reason}
	claimed, err := m.store.SetIfAbsent(ctx, scope, state)
	if err != nil || !claimed {
		return
	}
	if m.bus == nil {
		return
	}
	data := eventbus.Data{"reason": reason}
	if scope != GlobalScope {
		data["tenantId"] = scope
	}
	m.bus.Emit(ctx, eventbus.EventKillSwitchActivated, data)
}

// resetViaStore is Reset's Redis-backed path. The check-then-delete is not
// atomic the way SetIfAbsent is, so a reset racing an activation can in
// principle observe a stale previousReason in its event data; the
// authoritative state (gone or present) is never left inconsistent since
// Delete itself is atomic.
func (m *Manager) resetViaStore(ctx context.Context, scope, resetReason string) {
	previous, wasActive, err := m.store.Get(ctx, scope)
	if err != nil || !wasActive {
		return
	}
	if err := m.store.Delete(ctx, scope); err != nil {
		return
	}
	if m.bus == nil {
		return
	}
	data := eventbus.Data{"reason": resetReason, "previousReason": previous.Reason}
	if scope != GlobalScope {
		data["tenantId"] = scope
	}
	m.bus.Emit(ctx, eventbus.EventKillSwitchDeactivated, data)
}
