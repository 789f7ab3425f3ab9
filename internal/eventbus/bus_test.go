package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestPublishRouteProcessedHappyPath(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	var got atomic.Value
	id := b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error {
		got.Store(e.EventID)
		return nil
	}), nil)
	require.NotEmpty(t, id)

	e := NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, 0)
	assert.True(t, b.Publish(e))

	require.True(t, waitFor(t, time.Second, func() bool { return got.Load() != nil }))
	assert.Equal(t, e.EventID, got.Load())

	stats := b.GetStatistics()
	assert.Equal(t, int64(1), stats.Published)
	require.True(t, waitFor(t, time.Second, func() bool { return b.GetStatistics().Processed == 1 }))
}

func TestHandlerFailureDeadLettersThenRetrySucceeds(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	var attempts int32
	b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return assert.AnError
		}
		return nil
	}), nil)

	e := NewEvent(CategoryAgentError, "agent", "decision_failed", nil, PriorityNormal, 0)
	assert.True(t, b.Publish(e))

	require.True(t, waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&attempts) >= 1 }))
	assert.Equal(t, int64(1), b.GetStatistics().DeadLettered)

	b.sweepDeadLetter(context.Background())

	require.True(t, waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&attempts) >= 2 }))
	require.True(t, waitFor(t, time.Second, func() bool { return b.GetStatistics().Processed == 1 }))
}

func TestDeadLetterExhaustionMarksFailed(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error {
		return assert.AnError
	}), nil)

	e := NewEvent(CategoryAgentError, "agent", "decision_failed", nil, PriorityNormal, 0)
	b.Publish(e)
	require.True(t, waitFor(t, time.Second, func() bool { return b.GetStatistics().DeadLettered == 1 }))

	for i := 0; i < maxRetries; i++ {
		b.sweepDeadLetter(context.Background())
		want := int64(i + 2)
		require.True(t, waitFor(t, time.Second, func() bool { return b.GetStatistics().DeadLettered == want }))
	}
	// Retry ceiling reached: the next sweep marks the event FAILED and drops it.
	b.sweepDeadLetter(context.Background())

	b.deadLetterMu.Lock()
	remaining := len(b.deadLetter)
	b.deadLetterMu.Unlock()
	assert.Zero(t, remaining)
}

func TestPublishReturnsFalseWhenQueueFull(t *testing.T) {
	b := New(Config{MaxQueueSize: 1, WorkerThreads: 1}, nil, nil, nil)
	// Fill the NORMAL priority queue directly without starting workers so
	// it stays full; other priorities are unaffected.
	b.queues[PriorityNormal] <- NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, 0)

	ok := b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, 0))
	assert.False(t, ok)
	assert.Equal(t, int64(1), b.GetStatistics().Failed)

	assert.True(t, b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "alert", nil, PriorityUrgent, 0)))
}

func TestPriorityOrderingDrainsHighestQueueFirst(t *testing.T) {
	b := New(Config{WorkerThreads: 1}, nil, nil, nil)

	var mu sync.Mutex
	var order []string
	b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error {
		mu.Lock()
		order = append(order, e.EventType)
		mu.Unlock()
		return nil
	}), nil)

	// Enqueue out of priority order before the worker pool starts, so all
	// five are already queued when draining begins.
	require.True(t, b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "low", nil, PriorityLow, 0)))
	require.True(t, b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "normal", nil, PriorityNormal, 0)))
	require.True(t, b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "urgent", nil, PriorityUrgent, 0)))
	require.True(t, b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "critical", nil, PriorityCritical, 0)))
	require.True(t, b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "high", nil, PriorityHigh, 0)))

	b.Initialize(context.Background())
	defer b.Shutdown()

	require.True(t, waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"urgent", "critical", "high", "normal", "low"}, order)
}

func TestStreamHandlerFanOutSurvivesPanic(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	var calls int32
	b.RegisterStreamHandler("panicker", func(e Event) {
		panic("boom")
	})
	b.RegisterStreamHandler("counter", func(e Event) {
		atomic.AddInt32(&calls, 1)
	})

	var handled int32
	b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}), nil)

	e := NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, 0)
	b.Publish(e)

	require.True(t, waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&handled) == 1 }))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFilterAndCategorySkipHandler(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	var calls int32
	h := HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	b.Subscribe(h, ByCategory(CategoryRegulatoryChangeDetected))

	b.Publish(NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, 0))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	b.Publish(NewEvent(CategoryRegulatoryChangeDetected, "monitor", "change", nil, PriorityNormal, 0))
	require.True(t, waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 }))
}

func TestSetWorkerThreadsRejectedWhileRunning(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	err := b.SetWorkerThreads(8)
	assert.ErrorIs(t, err, errBusRunning)
}

func TestEventExpiry(t *testing.T) {
	e := NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, e.IsExpired(time.Now().UTC()))

	noTTL := NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", nil, PriorityNormal, 0)
	assert.False(t, noTTL.IsExpired(time.Now().UTC().Add(time.Hour)))
}

func TestParseCategoryPriorityStateDefaults(t *testing.T) {
	assert.Equal(t, CategorySystemError, ParseCategory("not-a-real-category"))
	assert.Equal(t, CategoryAgentDecision, ParseCategory("agent_decision"))

	assert.Equal(t, PriorityNormal, ParsePriority("bogus"))
	assert.Equal(t, PriorityUrgent, ParsePriority("urgent"))

	assert.Equal(t, StateCreated, ParseState("bogus"))
	assert.Equal(t, StateProcessed, ParseState("processed"))
}

func TestCloneIsIndependent(t *testing.T) {
	e := NewEvent(CategorySystemHealthCheck, "monitor", "heartbeat", []byte(`{"a":1}`), PriorityNormal, 0)
	e.Headers["k"] = "v"

	clone := e.Clone()
	clone.Headers["k"] = "mutated"
	clone.Payload[0] = 'X'

	assert.Equal(t, "v", e.Headers["k"])
	assert.Equal(t, byte('{'), e.Payload[0])
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	id := b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error { return nil }), nil)
	assert.True(t, b.Unsubscribe(id))
	assert.False(t, b.Unsubscribe(id))
}

func TestPublishBatch(t *testing.T) {
	b := New(Config{}, nil, nil, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	events := []Event{
		NewEvent(CategorySystemHealthCheck, "monitor", "a", nil, PriorityNormal, 0),
		NewEvent(CategorySystemHealthCheck, "monitor", "b", nil, PriorityNormal, 0),
	}
	assert.True(t, b.PublishBatch(events))
	assert.Equal(t, int64(2), b.GetStatistics().Published)
}

type pinRecorder struct {
	mu     sync.Mutex
	pinned []string
}

func (p *pinRecorder) PinInFlight(changeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned = append(p.pinned, changeID)
}

func (p *pinRecorder) UnpinInFlight(changeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, id := range p.pinned {
		if id == changeID {
			p.pinned = append(p.pinned[:i], p.pinned[i+1:]...)
			return
		}
	}
}

func TestRoutingPinsAndUnpinsInFlightChange(t *testing.T) {
	pin := &pinRecorder{}
	b := New(Config{}, nil, pin, nil)
	b.Initialize(context.Background())
	defer b.Shutdown()

	done := make(chan struct{})
	b.Subscribe(HandlerFunc(func(ctx context.Context, e Event) error {
		close(done)
		return nil
	}), nil)

	e := NewEvent(CategoryRegulatoryChangeDetected, "monitor", "change", nil, PriorityNormal, 0)
	e.EventID = "evt-reg_change_1"
	b.Publish(e)

	<-done
	require.True(t, waitFor(t, time.Second, func() bool {
		pin.mu.Lock()
		defer pin.mu.Unlock()
		return len(pin.pinned) == 0
	}))
}
