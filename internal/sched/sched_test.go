package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/ir"
)

type fakeStates struct {
	mu     sync.Mutex
	states map[ir.ResourceID]ir.Lifecycle
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[ir.ResourceID]ir.Lifecycle)}
}

func (f *fakeStates) set(id ir.ResourceID, state ir.Lifecycle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = state
}

func (f *fakeStates) Get(id ir.ResourceID) (ir.Resource, ir.Lifecycle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	return ir.Resource{}, state, ok
}

func resID(name string) ir.ResourceID {
	return ir.ResourceID(ir.NewDomainID(name))
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(context.Background())
	}()
	t.Cleanup(func() {
		s.Stop()
		<-done
	})
}

func TestSubmitDispatchOrder(t *testing.T) {
	s := New(newFakeStates(), NewClock(), WithMaxConcurrentTasks(1))

	var mu sync.Mutex
	var order []string
	record := func(name string) Task {
		return func(ctx context.Context) (ir.Value, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return ir.Str(name), nil
		}
	}

	// Queue everything before the loop starts so ordering is exercised.
	_, err := s.Submit(record("low"), nil, 1)
	require.NoError(t, err)
	_, err = s.Submit(record("high"), nil, 9)
	require.NoError(t, err)
	_, err = s.Submit(record("high-later"), nil, 9)
	require.NoError(t, err)

	startScheduler(t, s)
	s.WaitAll()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "high-later", "low"}, order)
}

func TestHandleResult(t *testing.T) {
	s := New(newFakeStates(), NewClock())
	startScheduler(t, s)

	h, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		return ir.Int(7), nil
	}, nil, 0)
	require.NoError(t, err)

	v, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), v)
}

func TestSharedResourceSerializes(t *testing.T) {
	states := newFakeStates()
	r := resID("shared")
	states.set(r, ir.Live)

	s := New(states, NewClock(), WithMaxConcurrentTasks(4))
	startScheduler(t, s)

	var holders atomic.Int32
	var overlapped atomic.Bool
	hold := func(ctx context.Context) (ir.Value, error) {
		if holders.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		holders.Add(-1)
		return ir.Null{}, nil
	}

	for i := 0; i < 4; i++ {
		_, err := s.Submit(hold, []ir.ResourceID{r}, 0)
		require.NoError(t, err)
	}
	s.WaitAll()

	assert.False(t, overlapped.Load(), "two tasks claimed the same resource at once")
}

func TestNotRunnableUntilLive(t *testing.T) {
	states := newFakeStates()
	r := resID("gated")
	states.set(r, ir.Locked)

	s := New(states, NewClock())
	startScheduler(t, s)

	gated, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		return ir.Str("ran"), nil
	}, []ir.ResourceID{r}, 9)
	require.NoError(t, err)

	free, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		return ir.Str("free"), nil
	}, nil, 0)
	require.NoError(t, err)

	// The free task settles while the higher-priority gated one waits.
	_, err = free.Result()
	require.NoError(t, err)
	select {
	case <-gated.Done():
		t.Fatal("gated task ran against a locked resource")
	case <-time.After(10 * time.Millisecond):
	}

	states.set(r, ir.Live)
	s.wake()

	v, err := gated.Result()
	require.NoError(t, err)
	assert.Equal(t, ir.Str("ran"), v)
}

func TestCancelPending(t *testing.T) {
	s := New(newFakeStates(), NewClock(), WithMaxConcurrentTasks(1))
	startScheduler(t, s)

	release := make(chan struct{})
	blocker, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		<-release
		return ir.Null{}, nil
	}, nil, 9)
	require.NoError(t, err)

	victim, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		return ir.Null{}, nil
	}, nil, 0)
	require.NoError(t, err)

	s.Cancel(victim)
	close(release)

	_, err = blocker.Result()
	require.NoError(t, err)
	_, err = victim.Result()
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestCancelRunningCooperative(t *testing.T) {
	s := New(newFakeStates(), NewClock())
	startScheduler(t, s)

	started := make(chan struct{})
	h, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil, 0)
	require.NoError(t, err)

	<-started
	s.Cancel(h)

	_, err = h.Result()
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestLogicalDeadline(t *testing.T) {
	clock := NewClock()
	s := New(newFakeStates(), clock)

	// Submissions advance the clock past the deadline before the loop
	// starts, so the task times out deterministically.
	h, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		return ir.Null{}, nil
	}, nil, 0, WithDeadlineStep(1))
	require.NoError(t, err)
	clock.Next()
	clock.Next()

	startScheduler(t, s)
	_, err = h.Result()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestWallTimeout(t *testing.T) {
	s := New(newFakeStates(), NewClock())
	startScheduler(t, s)

	h, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil, 0, WithWallTimeout(5*time.Millisecond))
	require.NoError(t, err)

	_, err = h.Result()
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestSubmitAfterStop(t *testing.T) {
	s := New(newFakeStates(), NewClock())
	s.Stop()

	_, err := s.Submit(func(ctx context.Context) (ir.Value, error) {
		return ir.Null{}, nil
	}, nil, 0)
	require.Error(t, err)
	assert.True(t, IsClosed(err))
}
