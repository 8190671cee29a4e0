// Package triggermux serializes a periodic ticker and external triggers
// (webhook, manual command) into single Reconcile() invocations, coalescing
// any trigger that arrives while a reconcile is already running into at most
// one pending follow-up (spec §4.6, §5).
package triggermux

import (
	"context"
	"log/slog"
	"time"
)

// ReconcileFunc performs one reconcile pass. Mux guarantees it is never
// called concurrently with itself.
type ReconcileFunc func(ctx context.Context)

// Option configures a Mux.
type Option func(*Mux)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mux) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Mux is the single owner task described in spec §9's design notes: webhook
// handlers (and the periodic ticker) send a trigger signal; the Mux's own
// goroutine is the only caller of ReconcileFunc, preserving the invariant
// that state mutation happens on one logical thread.
type Mux struct {
	reconcile ReconcileFunc
	interval  time.Duration
	logger    *slog.Logger

	wake   chan struct{} // buffered(1): a pending trigger signal
	done   chan struct{}
	cancel context.CancelFunc
}

// New constructs a Mux that invokes reconcile on each tick of interval and
// on every call to Trigger, coalescing bursts per spec §4.6. A zero or
// negative interval disables the periodic ticker; only explicit Trigger
// calls fire.
func New(interval time.Duration, reconcile ReconcileFunc, opts ...Option) *Mux {
	m := &Mux{
		reconcile: reconcile,
		interval:  interval,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the owner goroutine and, if configured, the periodic
// ticker. Non-blocking.
func (m *Mux) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.ownerLoop(ctx)

	if m.interval > 0 {
		go m.tickLoop(ctx)
	}
}

// Stop halts the periodic ticker cooperatively and waits for any in-flight
// reconcile (plus its coalesced follow-up, if any) to finish, per spec §5's
// shutdown contract.
func (m *Mux) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

// Trigger causes one invocation of ReconcileFunc on the owner goroutine. It
// never blocks: if a reconcile is already running (or another trigger is
// already pending), the signal is coalesced into at most one follow-up
// rather than queued, per spec §4.6. This is what keeps the webhook
// handler's enqueue step non-blocking per spec §5.
func (m *Mux) Trigger(context.Context) {
	select {
	case m.wake <- struct{}{}:
	default:
		// A trigger is already pending; this one coalesces into it.
	}
}

func (m *Mux) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logger.Debug("periodic reconcile trigger", slog.Duration("interval", m.interval))
			m.Trigger(ctx)
		}
	}
}

func (m *Mux) ownerLoop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			// Run a trigger that was still pending when Stop was called.
			select {
			case <-m.wake:
				m.reconcile(ctx)
			default:
			}
			return
		case <-m.wake:
			m.reconcile(ctx)
		}
	}
}
