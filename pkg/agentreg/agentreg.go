// Package agentreg is the registry of agents the governance engine knows
// about: their tenant, active policy version, and lifecycle status
// Evaluation itself never consults the registry — it is
// bookkeeping for operators, not a decision input.
package agentreg

import (
	"errors"
	"sync"
	"time"
)

// ErrAgentNotFound is returned by Get/Update/Remove for an unknown ID.
var ErrAgentNotFound = errors.New("agentreg: agent not found")

// Status is the agent's operational lifecycle state. Transitions are
// free-form: nothing in this package enforces an ordering between them.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusError      Status = "error"
)

// Agent is one registered entity subject to policy evaluation.
type Agent struct {
	ID            string    `json:"agentId"`
	TenantID      string    `json:"tenantId,omitempty"`
	Name          string    `json:"name"`
	PolicyVersion string    `json:"policyVersion,omitempty"`
	Status        Status    `json:"status"`
	RegisteredAt  time.Time `json:"registeredAt"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Registry is the persistence contract; InMemory is the default
// implementation and what agentbouncr ships without an external store.
type Registry interface {
	Register(agent Agent) (Agent, error)
	Get(id string) (Agent, error)
	Update(id string, mutate func(*Agent)) (Agent, error)
	Remove(id string) error
	ListAgents(tenantID string) []Agent
}

// InMemory is a thread-safe, process-local Registry.
type InMemory struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewInMemory creates an empty registry.
func NewInMemory() *InMemory {
	return &InMemory{agents: make(map[string]Agent)}
}

// Register inserts or overwrites an agent, stamping timestamps.
func (r *InMemory) Register(agent Agent) (Agent, error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[agent.ID]; ok {
		agent.RegisteredAt = existing.RegisteredAt
	} else {
		agent.RegisteredAt = now
	}
	if agent.Status == "" {
		agent.Status = StatusRegistered
	}
	agent.UpdatedAt = now
	r.agents[agent.ID] = agent
	return agent, nil
}

// Get returns a single agent by ID.
func (r *InMemory) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return agent, nil
}

// Update applies mutate to the stored agent under the write lock and
// restamps UpdatedAt, so callers never need to re-fetch-then-store.
func (r *InMemory) Update(id string, mutate func(*Agent)) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[id]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	mutate(&agent)
	agent.UpdatedAt = time.Now().UTC()
	r.agents[id] = agent
	return agent, nil
}

// Remove deletes an agent by ID.
func (r *InMemory) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return ErrAgentNotFound
	}
	delete(r.agents, id)
	return nil
}

// ListAgents returns every agent for tenantID, or every agent if tenantID is "".
func (r *InMemory) ListAgents(tenantID string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		if tenantID == "" || agent.TenantID == tenantID {
			out = append(out, agent)
		}
	}
	return out
}
