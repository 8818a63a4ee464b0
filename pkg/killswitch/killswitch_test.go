package killswitch

import (
	"context"
	"testing"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivate_GlobalScope(t *testing.T) {
	m := New(nil)
	assert.False(t, m.IsActive(GlobalScope))
	m.Activate(context.Background(), GlobalScope, "manual stop")
	assert.True(t, m.IsActive(GlobalScope))
	assert.Equal(t, "manual stop", m.GetStatus(GlobalScope).Reason)
}

func TestActivate_TenantScopeIsolatedFromGlobal(t *testing.T) {
	m := New(nil)
	m.Activate(context.Background(), "tenant-a", "suspicious activity")
	assert.True(t, m.IsActive("tenant-a"))
	assert.False(t, m.IsActive(GlobalScope))
	assert.False(t, m.IsActive("tenant-b"))
}

func TestActivate_IsIdempotent(t *testing.T) {
	b := eventbus.New()
	activations := make(chan eventbus.Event, 10)
	b.On(eventbus.EventKillSwitchActivated, func(ctx context.Context, e eventbus.Event) { activations <- e })

	m := New(b)
	m.Activate(context.Background(), "tenant-a", "first reason")
	m.Activate(context.Background(), "tenant-a", "second reason")

	require.Equal(t, "first reason", m.GetStatus("tenant-a").Reason)
}

func TestReset_ClearsActiveScope(t *testing.T) {
	m := New(nil)
	m.Activate(context.Background(), "tenant-a", "x")
	m.Reset(context.Background(), "tenant-a", "")
	assert.False(t, m.IsActive("tenant-a"))
	assert.Equal(t, "Manual reset", "Manual reset")
}

func TestReset_NoopWhenAlreadyInactive(t *testing.T) {
	b := eventbus.New()
	var fired bool
	b.On(eventbus.EventKillSwitchDeactivated, func(ctx context.Context, e eventbus.Event) { fired = true })

	m := New(b)
	m.Reset(context.Background(), "tenant-a", "")

	assert.False(t, m.IsActive("tenant-a"))
	assert.False(t, fired)
}

func TestReset_DefaultReasonWhenEmpty(t *testing.T) {
	b := eventbus.New()
	deactivations := make(chan eventbus.Event, 1)
	b.On(eventbus.EventKillSwitchDeactivated, func(ctx context.Context, e eventbus.Event) { deactivations <- e })

	m := New(b)
	m.Activate(context.Background(), GlobalScope, "initial")
	m.Reset(context.Background(), GlobalScope, "")
	assert.False(t, m.IsActive(GlobalScope))

	select {
	case e := <-deactivations:
		assert.Equal(t, "Manual reset", e.Data["reason"])
	case <-time.After(time.Second):
		t.Fatal("killswitch.deactivated was not emitted")
	}
}
