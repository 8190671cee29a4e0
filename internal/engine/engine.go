// Package engine implements the reconciliation engine: the state machine
// that combines DNS observation, primary-path health, persisted operational
// state, and external alert triggers into idempotent, rate-limited
// mutations of the authoritative DNS record.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/dnsfailover/internal/metrics"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the engine's notion of "now", for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// Engine owns OperationalState and runs reconcile() under a single
// mutual-exclusion scope, per spec §4.5/§5.
type Engine struct {
	mu    sync.Mutex
	state OperationalState

	cfg      Config
	probe    HealthProbe
	observer DNSObserver
	provider ProviderClient
	store    StateStore

	logger *slog.Logger
	clock  func() time.Time
}

// New constructs an Engine and loads its initial OperationalState from
// store, per spec's "loaded once at process start" contract.
func New(ctx context.Context, cfg Config, probe HealthProbe, observer DNSObserver, provider ProviderClient, store StateStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		probe:    probe,
		observer: observer,
		provider: provider,
		store:    store,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	state, err := store.Load(ctx)
	if err != nil {
		e.logger.Warn("loading initial operational state failed, using default", slog.Any("error", err))
		state = DefaultState(e.clock())
	}
	e.state = state
	return e, nil
}

// Snapshot returns a point-in-time copy of the operational state, safe to
// serve from the HTTP surface without holding the engine's lock.
func (e *Engine) Snapshot() OperationalState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// ForceDualFailure drives the engine into DUAL_FAILURE per an explicit
// external trigger (spec §6's webhook alertname=DualFailure handling).
// current_target is left unchanged; exit happens via the next ordinary
// Reconcile once observations are consistent again.
func (e *Engine) ForceDualFailure(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Phase == PhaseDualFailure {
		return
	}
	from := e.state.Phase
	e.state.Phase = PhaseDualFailure
	e.state.StabilizationStart = nil
	e.persist(ctx)
	metrics.PhaseTransitionsTotal.WithLabelValues(string(from), string(PhaseDualFailure)).Inc()
	e.logger.Warn("forced dual failure", slog.String("from", string(from)))
}

// Reconcile runs one pass of the algorithm in spec §4.5. It never returns
// an error: all faults are converted to logged outcomes.
func (e *Engine) Reconcile(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	outcome := "no_change"
	defer func() {
		metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
		metrics.ReconciliationDuration.Observe(time.Since(start).Seconds())
		metrics.FailoverCount24h.Set(float64(e.state.FailoverCount24h))
		metrics.CurrentPhase.Reset()
		metrics.CurrentPhase.WithLabelValues(string(e.state.Phase)).Set(1)
	}()

	now := e.clock()

	healthy := e.probe.PrimaryHealthy(ctx)
	metrics.PrimaryHealthy.Set(boolToFloat(healthy))
	desired := TargetPrimary
	if !healthy {
		desired = TargetFailover
	}

	observedDNS := e.observer.Observe(ctx)
	metrics.DNSObservationsTotal.WithLabelValues(string(observedDNS)).Inc()

	apiTarget, err := e.provider.ReadTarget(ctx)
	if err != nil {
		e.logger.Warn("reading provider record failed, retrying next tick", slog.Any("error", err))
		outcome = "transient_error"
		return
	}

	if observedDNS != TargetUnknown && observedDNS != apiTarget {
		e.logger.Warn("resolver and provider disagree on current target",
			slog.String("resolver", string(observedDNS)),
			slog.String("provider", string(apiTarget)),
		)
	}

	// Step 2: drift correction. Observed reality wins over memory; phase is
	// never adjusted here.
	if (apiTarget == TargetPrimary || apiTarget == TargetFailover) && apiTarget != e.state.CurrentTarget {
		e.logger.Warn("drift detected, adopting provider's current target",
			slog.String("was", string(e.state.CurrentTarget)),
			slog.String("now", string(apiTarget)),
		)
		e.state.CurrentTarget = apiTarget
		e.persist(ctx)
		metrics.DriftCorrectionsTotal.Inc()
		outcome = "transition"
	}

	// Step 3: transition decision.
	if desired == e.state.CurrentTarget {
		steady := steadyPhaseFor(e.state.CurrentTarget)
		if e.state.Phase != steady {
			from := e.state.Phase
			e.state.StabilizationStart = nil
			e.state.Phase = steady
			e.persist(ctx)
			metrics.PhaseTransitionsTotal.WithLabelValues(string(from), string(steady)).Inc()
			outcome = "transition"
			e.logger.Info("condition reverted before threshold, clearing stabilization",
				slog.String("from", string(from)), slog.String("to", string(steady)))
		}
		return
	}

	if e.state.StabilizationStart == nil {
		if desired == TargetFailover && e.state.FailoverCount24h >= e.cfg.MaxFailovers24h {
			metrics.CircuitBreakerTripsTotal.Inc()
			e.logger.Error("circuit breaker tripped, refusing new failover",
				slog.Int("failover_count_24h", e.state.FailoverCount24h),
				slog.Int("max_failovers_24h", e.cfg.MaxFailovers24h),
			)
			return
		}

		from := e.state.Phase
		t := now
		e.state.StabilizationStart = &t
		if desired == TargetFailover {
			e.state.Phase = PhasePrimaryDegraded
		} else {
			e.state.Phase = PhaseRecovering
		}
		e.persist(ctx)
		metrics.PhaseTransitionsTotal.WithLabelValues(string(from), string(e.state.Phase)).Inc()
		outcome = "transition"
		e.logger.Info("beginning stabilization", slog.String("phase", string(e.state.Phase)))
		return
	}

	var required time.Duration
	switch e.state.Phase {
	case PhasePrimaryDegraded:
		required = e.cfg.StabilizationFailover
	case PhaseRecovering:
		required = e.cfg.StabilizationFailback
	default:
		return
	}

	elapsed := now.Sub(*e.state.StabilizationStart)
	if elapsed < required {
		return
	}

	if desired == TargetFailover {
		e.commitFailover(ctx, now)
	} else {
		e.commitFailback(ctx, now)
	}
	outcome = "commit"
}

func (e *Engine) commitFailover(ctx context.Context, now time.Time) {
	if e.cfg.DryRun {
		e.logger.Info("dry run: skipping provider write for failover commit")
	} else if err := e.provider.SetTarget(ctx, TargetFailover); err != nil {
		e.logger.Error("failover commit failed, will retry next tick", slog.Any("error", err))
		return
	}

	e.state.CurrentTarget = TargetFailover
	e.state.Phase = PhaseOnFailover
	e.state.LastChangeTime = now
	e.state.FailoverCount24h++
	e.state.StabilizationStart = nil
	e.persist(ctx)

	metrics.FailoversTotal.Inc()
	metrics.PhaseTransitionsTotal.WithLabelValues(string(PhasePrimaryDegraded), string(PhaseOnFailover)).Inc()
	e.logger.Warn("committed failover", slog.Int("failover_count_24h", e.state.FailoverCount24h), slog.Bool("dry_run", e.cfg.DryRun))
}

func (e *Engine) commitFailback(ctx context.Context, now time.Time) {
	if e.cfg.DryRun {
		e.logger.Info("dry run: skipping provider write for failback commit")
	} else if err := e.provider.SetTarget(ctx, TargetPrimary); err != nil {
		e.logger.Error("failback commit failed, will retry next tick", slog.Any("error", err))
		return
	}

	e.state.CurrentTarget = TargetPrimary
	e.state.Phase = PhasePrimaryHealthy
	e.state.LastChangeTime = now
	e.state.StabilizationStart = nil
	e.persist(ctx)

	metrics.FailbacksTotal.Inc()
	metrics.PhaseTransitionsTotal.WithLabelValues(string(PhaseRecovering), string(PhasePrimaryHealthy)).Inc()
	e.logger.Info("committed failback", slog.Bool("dry_run", e.cfg.DryRun))
}

// persist writes e.state via the StateStore. Failures are logged but do not
// abort the in-memory mutation, per spec §4.4/§7's StorePersist policy.
func (e *Engine) persist(ctx context.Context) {
	if err := e.state.checkInvariants(); err != nil {
		e.logger.Error("operational state violates invariants before persist", slog.Any("error", err))
	}

	if err := e.store.Save(ctx, e.state); err != nil {
		metrics.StatePersistsTotal.WithLabelValues("error").Inc()
		e.logger.Error("persisting operational state failed, will retry next tick", slog.Any("error", err))
		return
	}
	metrics.StatePersistsTotal.WithLabelValues("success").Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
