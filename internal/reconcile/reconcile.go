// Package reconcile implements the Status Reconciliation Loop: a
// periodic sweep that compares each locally-owned session's in-memory
// Connection Record against its External Status Projection and repairs
// drift, including the two stuck-phase rules spec.md names for a
// session that never settles. Grounded on
// internal/infra/coordinator/coordinator.go's robfig/cron scheduling
// shape, reusing alitto/pond for concurrent per-key fix-ups the way
// internal/pool uses it for blocking I/O offload.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"

	"waconnect/internal/domain/connstate"
	"waconnect/internal/domain/projection"
	"waconnect/internal/domain/sessionkey"
	"waconnect/internal/infra/statemgr"
	"waconnect/internal/pool"
	"waconnect/pkg/logger"
)

const (
	importStuckThreshold     = time.Minute
	connectingStuckThreshold = 2 * time.Minute
)

type Config struct {
	Interval time.Duration
}

func (c Config) WithDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Minute
	}
	return c
}

type phaseObservation struct {
	phase connstate.Phase
	since time.Time
}

// Reconciler is the Status Reconciliation Loop.
type Reconciler struct {
	cfg     Config
	pool    *pool.Pool
	state   *statemgr.Manager
	cron    *cron.Cron
	workers pond.Pool
	log     logger.Logger

	mu       sync.Mutex
	observed map[string]phaseObservation
}

func New(cfg Config, p *pool.Pool, state *statemgr.Manager, log logger.Logger) *Reconciler {
	return &Reconciler{
		cfg:      cfg.WithDefaults(),
		pool:     p,
		state:    state,
		cron:     cron.New(),
		workers:  pond.NewPool(8),
		log:      log.WithComponent("reconcile"),
		observed: make(map[string]phaseObservation),
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.cfg.Interval), func() {
		r.sweep(ctx)
	}); err != nil {
		return fmt.Errorf("register reconciliation schedule: %w", err)
	}
	r.cron.Start()

	go func() {
		<-ctx.Done()
		r.cron.Stop()
		r.workers.StopAndWait()
	}()
	return nil
}

// sweep compares every locally-owned session's in-memory record
// against its projection and repairs whichever view has drifted,
// fanning the per-key work out over the worker pool.
func (r *Reconciler) sweep(ctx context.Context) {
	keys := r.pool.Keys()
	var wg sync.WaitGroup
	for _, key := range keys {
		key := key
		wg.Add(1)
		r.workers.Submit(func() {
			defer wg.Done()
			if err := r.reconcileOne(ctx, key); err != nil {
				r.log.WithError(err).WithField("sessionKey", key.String()).Warn().Msg("reconciliation failed for session")
			}
		})
	}
	wg.Wait()
	r.pruneObserved(keys)
}

func (r *Reconciler) reconcileOne(ctx context.Context, key sessionkey.Key) error {
	record, err := r.pool.Status(ctx, key)
	if err != nil {
		return fmt.Errorf("read in-memory record: %w", err)
	}

	stuckFor := r.observe(key, record.Phase)

	proj, err := r.state.Get(ctx, key.String())
	if err != nil {
		// No projection yet (just attached) is not drift.
		return nil
	}

	if proj.Phase != string(record.Phase) {
		r.log.WithField("sessionKey", key.String()).
			WithField("memoryPhase", string(record.Phase)).
			WithField("projectionPhase", proj.Phase).
			Info().Msg("repairing projection drift from in-memory record")
		if err := r.state.ApplyDelta(ctx, key.String(), projection.Delta{"phase": string(record.Phase)}); err != nil {
			return fmt.Errorf("repair projection phase: %w", err)
		}
	}

	switch {
	case record.Phase.IsImporting() && stuckFor >= importStuckThreshold:
		r.log.WithField("sessionKey", key.String()).Warn().Msg("session stuck importing past threshold, forcing connected")
		return r.state.ApplyDelta(ctx, key.String(), projection.Delta{
			"phase":         string(connstate.PhaseConnected),
			"syncCompleted": true,
		})

	case record.Phase == connstate.PhaseConnecting && stuckFor >= connectingStuckThreshold:
		r.log.WithField("sessionKey", key.String()).Warn().Msg("session stuck connecting past threshold, requesting reconnect")
		if err := r.pool.Reconnect(ctx, key); err != nil {
			return fmt.Errorf("request reconnect for stuck session: %w", err)
		}
	}

	return nil
}

// observe tracks how long a session has held its current phase across
// sweeps and returns that duration, resetting the clock whenever the
// phase changes.
func (r *Reconciler) observe(key sessionkey.Key, phase connstate.Phase) time.Duration {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	obs, ok := r.observed[key.String()]
	if !ok || obs.phase != phase {
		r.observed[key.String()] = phaseObservation{phase: phase, since: now}
		return 0
	}
	return now.Sub(obs.since)
}

// pruneObserved drops tracking state for sessions no longer attached
// locally, so a detached-then-reattached key starts its stuck-phase
// clock fresh.
func (r *Reconciler) pruneObserved(liveKeys []sessionkey.Key) {
	live := make(map[string]struct{}, len(liveKeys))
	for _, k := range liveKeys {
		live[k.String()] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.observed {
		if _, ok := live[k]; !ok {
			delete(r.observed, k)
		}
	}
}
