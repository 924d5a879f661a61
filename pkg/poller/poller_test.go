package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollerFetchesImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int32
	p := New(Options[int]{Interval: 20 * time.Millisecond})
	defer p.Stop()

	p.Subscribe("deployments/prod", func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := p.Wait(ctx, "deployments/prod")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.Value, 1)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestPollerLastFetchWins(t *testing.T) {
	var (
		mu       sync.Mutex
		seen     []string
		firstErr = make(chan error, 1)
		calls    atomic.Int32
	)

	p := New(Options[string]{
		Interval: time.Hour,
		OnUpdate: func(s Snapshot[string]) {
			mu.Lock()
			seen = append(seen, s.Value)
			mu.Unlock()
		},
	})
	defer p.Stop()

	p.Subscribe("pods/prod", func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			firstErr <- ctx.Err()
			return "stale", nil
		}
		return "fresh", nil
	})

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, p.Invalidate("pods/"))

	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("superseded fetch was not cancelled")
	}

	require.Eventually(t, func() bool {
		snap, ok := p.Get("pods/prod")
		return ok && snap.Value == "fresh"
	}, time.Second, time.Millisecond)

	snap, _ := p.Get("pods/prod")
	assert.Equal(t, uint64(2), snap.Generation)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fresh"}, seen)
}

func TestPollerSlowFetchStillPublishes(t *testing.T) {
	var running, maxRunning, calls atomic.Int32
	p := New(Options[int]{Interval: 50 * time.Millisecond})
	defer p.Stop()

	p.Subscribe("deployments/", func(ctx context.Context) (int, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		select {
		case <-time.After(80 * time.Millisecond):
			return int(calls.Add(1)), nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := p.Wait(ctx, "deployments/")
	require.NoError(t, err)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 1, snap.Value)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), maxRunning.Load(), "ticks must not overlap a running fetch")
}

func TestPollerInvalidateMatchesPrefix(t *testing.T) {
	p := New(Options[int]{Interval: time.Hour})
	defer p.Stop()

	noop := func(context.Context) (int, error) { return 0, nil }
	p.Subscribe("deployments/prod/default", noop)
	p.Subscribe("deployments/staging/default", noop)
	p.Subscribe("services/prod/default", noop)

	assert.Equal(t, 2, p.Invalidate("deployments/"))
	assert.Equal(t, 3, p.Invalidate(""))
	assert.Equal(t, 0, p.Invalidate("jobs/"))
}

func TestPollerKeepsErrorSnapshots(t *testing.T) {
	p := New(Options[int]{Interval: time.Hour})
	defer p.Stop()

	boom := errors.New("connection refused")
	p.Subscribe("jobs/prod", func(context.Context) (int, error) { return 0, boom })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := p.Wait(ctx, "jobs/prod")
	require.NoError(t, err)
	assert.ErrorIs(t, snap.Err, boom)
}

func TestPollerStopsIdleQueries(t *testing.T) {
	p := New(Options[int]{Interval: 10 * time.Millisecond, IdleTTL: time.Minute})
	defer p.Stop()

	var mu sync.Mutex
	now := time.Now()
	p.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	p.Subscribe("configmaps/prod", func(context.Context) (int, error) { return 1, nil })
	assert.Len(t, p.Keys(), 1)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	assert.Eventually(t, func() bool { return len(p.Keys()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestPollerWaitUnknownKey(t *testing.T) {
	p := New(Options[int]{})
	defer p.Stop()

	_, err := p.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotSubscribed)
}

func TestPollerStopCancelsInFlight(t *testing.T) {
	p := New(Options[int]{Interval: time.Hour})

	started := make(chan struct{})
	p.Subscribe("slow", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	// subscribing after Stop is a no-op
	p.Subscribe("late", func(context.Context) (int, error) { return 0, nil })
	assert.Empty(t, p.Keys())
}
