package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentbouncr/agentbouncr/pkg/tracecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_ReturnsBeforeListenerRuns(t *testing.T) {
	b := New()
	entered := make(chan struct{})
	b.On(EventToolCallAllowed, func(ctx context.Context, e Event) {
		close(entered)
	})

	b.Emit(context.Background(), EventToolCallAllowed, nil)

	select {
	case <-entered:
		t.Fatal("listener ran before Emit returned its synchronization point was observed synchronously")
	default:
	}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("listener never ran")
	}
}

func TestDispatchIsolation_PanicDoesNotBlockOtherListeners(t *testing.T) {
	b := New()
	var ran int32
	var wg sync.WaitGroup
	wg.Add(2)

	b.On(EventToolCallDenied, func(ctx context.Context, e Event) {
		defer wg.Done()
		panic("boom")
	})
	b.On(EventToolCallDenied, func(ctx context.Context, e Event) {
		defer wg.Done()
		atomic.AddInt32(&ran, 1)
	})

	b.Emit(context.Background(), EventToolCallDenied, nil)

	waitWithTimeout(t, &wg, time.Second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestEmitIsolationAcrossTypes(t *testing.T) {
	b := New()
	var calledWrongType int32
	b.On(EventToolCallAllowed, func(ctx context.Context, e Event) {
		atomic.AddInt32(&calledWrongType, 1)
	})

	done := make(chan struct{})
	b.On(EventToolCallDenied, func(ctx context.Context, e Event) {
		close(done)
	})

	b.Emit(context.Background(), EventToolCallDenied, nil)
	<-done

	assert.Equal(t, int32(0), atomic.LoadInt32(&calledWrongType))
}

func TestTraceResolver_ConsultedOnceAndPropagated(t *testing.T) {
	b := New().WithTraceResolver(func() (tracecontext.TraceID, bool) { return "abc123", true })
	got := make(chan Event, 1)
	b.On(EventToolCallAllowed, func(ctx context.Context, e Event) { got <- e })

	b.Emit(context.Background(), EventToolCallAllowed, nil)

	select {
	case e := <-got:
		require.Equal(t, "abc123", e.TraceID)
	case <-time.After(time.Second):
		t.Fatal("listener never ran")
	}
}

func TestTraceResolver_PanicTreatedAsAbsent(t *testing.T) {
	b := New().WithTraceResolver(func() (tracecontext.TraceID, bool) { panic("resolver exploded") })
	got := make(chan Event, 1)
	b.On(EventToolCallAllowed, func(ctx context.Context, e Event) { got <- e })

	b.Emit(context.Background(), EventToolCallAllowed, nil)

	select {
	case e := <-got:
		require.Equal(t, "", e.TraceID)
	case <-time.After(time.Second):
		t.Fatal("listener never ran")
	}
}

func TestRemoveAll(t *testing.T) {
	b := New()
	called := int32(0)
	b.On(EventToolCallAllowed, func(ctx context.Context, e Event) { atomic.AddInt32(&called, 1) })
	b.RemoveAll()
	b.Emit(context.Background(), EventToolCallAllowed, nil)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func waitWithTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for listeners")
	}
}
