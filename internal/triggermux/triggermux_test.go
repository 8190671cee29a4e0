package triggermux

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTrigger_InvokesReconcile(t *testing.T) {
	var calls int32
	m := New(0, func(ctx context.Context) { atomic.AddInt32(&calls, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	m.Trigger(ctx)
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 })
}

func TestTrigger_CoalescesBurstDuringReconcile(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	m := New(0, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.Trigger(ctx) // first reconcile begins and blocks on release
	<-started

	// Fire a burst of triggers while the first reconcile is in flight.
	for i := 0; i < 10; i++ {
		m.Trigger(ctx)
	}

	release <- struct{}{} // let the first reconcile finish
	// The coalesced follow-up needs to run and then block again; release it too.
	go func() {
		time.Sleep(20 * time.Millisecond)
		select {
		case release <- struct{}{}:
		default:
		}
	}()

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 2 })
	m.Stop()

	if got := atomic.LoadInt32(&calls); got > 2 {
		t.Errorf("expected the 10-trigger burst to coalesce into at most one follow-up, got %d total reconciles", got)
	}
}

func TestPeriodicTicker_FiresReconcile(t *testing.T) {
	var calls int32
	m := New(5*time.Millisecond, func(ctx context.Context) { atomic.AddInt32(&calls, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 2 })
}

func TestStop_WaitsForInFlightReconcile(t *testing.T) {
	var finished int32
	release := make(chan struct{})
	m := New(0, func(ctx context.Context) {
		<-release
		atomic.StoreInt32(&finished, 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	m.Trigger(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Stop()
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if atomic.LoadInt32(&finished) != 1 {
		t.Error("expected Stop to wait for the in-flight reconcile to finish")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(time.Millisecond):
		}
	}
}
