// Package pool implements the Connection Pool: one owner goroutine
// per session key, driving a whatsmeow-backed protocol.Session
// through the phase machine in internal/domain/connstate, with
// projection writes, event publishes and most ownership-activity
// updates offloaded to a bounded worker pool. Proxy allocation and
// rotation, outbound sends and reconnect backoff waits run on the owner
// goroutine itself, so its event loop waits for them. Grounded on the teacher's map+RWMutex status-tracking shape
// (internal/infra/whatsapp/connection/manager.go's ConnectionManager)
// generalized from a flat status map to one goroutine per session.
package pool

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-playground/validator/v10"

	"waconnect/internal/domain/connstate"
	"waconnect/internal/domain/sessionkey"
	"waconnect/internal/domain/waerrors"
	"waconnect/internal/infra/coordinator"
	"waconnect/internal/infra/eventbus"
	"waconnect/internal/infra/proxyalloc"
	"waconnect/internal/infra/ratelimit"
	"waconnect/internal/infra/sessionstore"
	"waconnect/internal/infra/statemgr"
	"waconnect/internal/protocol"
	"waconnect/pkg/logger"
)

const (
	qrTimeout        = 90 * time.Second
	stableOpenWindow = 30 * time.Second
	importGrace      = 3 * time.Second
	syncTimeout      = 90 * time.Second
	attachDeadline   = 30 * time.Second
	maxReconnects    = 5
	reconnectBase    = 5 * time.Second
)

type Config struct {
	MaxReconnectAttempts int
	AutoReconnect        bool
	ReconnectRatePerHour int
}

func (c Config) WithDefaults() Config {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = maxReconnects
	}
	if c.ReconnectRatePerHour <= 0 {
		c.ReconnectRatePerHour = 50
	}
	return c
}

// Pool owns every live session actor on this instance.
type Pool struct {
	cfg Config

	deviceStore *protocol.DeviceStore
	proxies     *proxyalloc.Allocator
	sessions    *sessionstore.Store
	state       *statemgr.Manager
	coord       *coordinator.Coordinator
	bus         *eventbus.Bus
	limiter     *ratelimit.Limiter
	backups     *sessionstore.BackupScheduler
	workers     pond.Pool
	log         logger.Logger

	mu     sync.RWMutex
	actors map[string]*sessionActor
}

func New(
	cfg Config,
	deviceStore *protocol.DeviceStore,
	proxies *proxyalloc.Allocator,
	sessions *sessionstore.Store,
	state *statemgr.Manager,
	coord *coordinator.Coordinator,
	bus *eventbus.Bus,
	limiter *ratelimit.Limiter,
	log logger.Logger,
) *Pool {
	return &Pool{
		cfg:         cfg.WithDefaults(),
		deviceStore: deviceStore,
		proxies:     proxies,
		sessions:    sessions,
		state:       state,
		coord:       coord,
		bus:         bus,
		limiter:     limiter,
		workers:     pond.NewPool(32),
		log:         log.WithComponent("pool"),
		actors:      make(map[string]*sessionActor),
	}
}

// SetBackupScheduler attaches the hybrid-mode session backup scheduler,
// so Attach/Detach can keep it informed of which keys are live. Left
// nil in local/cloud storage modes, where there is nothing to track.
func (p *Pool) SetBackupScheduler(backups *sessionstore.BackupScheduler) {
	p.backups = backups
}

// AttachOptions carries everything Attach needs to start or resume a
// session; Country drives the Proxy Allocator when proxying is enabled.
type AttachOptions struct {
	Key             sessionkey.Key
	Country         string `validate:"omitempty,len=2"`
	UseProxy        bool
	ExistingWaJID   string
	PairViaPhone    bool
	PhoneForPairing string `validate:"required_if=PairViaPhone true"`
}

var optionsValidator = validator.New()

// Attach starts a new owner goroutine for key (or returns nil at once
// if one is already running), acquires cluster-wide
// ownership via the Instance Coordinator, and kicks off the
// connect-or-pair sequence. It is idempotent: a second Attach call for
// an already-attached key is a no-op success.
func (p *Pool) Attach(ctx context.Context, opts AttachOptions) error {
	if err := opts.Key.Validate(); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	if err := optionsValidator.Struct(opts); err != nil {
		return fmt.Errorf("attach: invalid options: %w", err)
	}

	keyStr := opts.Key.String()

	p.mu.Lock()
	if _, exists := p.actors[keyStr]; exists {
		p.mu.Unlock()
		return nil
	}

	if p.coord != nil {
		if err := p.coord.AcquireOwnership(ctx, keyStr); err != nil {
			p.mu.Unlock()
			return fmt.Errorf("attach %s: %w", keyStr, err)
		}
	}

	actor := newSessionActor(opts.Key, p)
	p.actors[keyStr] = actor
	p.mu.Unlock()

	if err := p.state.Initialize(ctx, keyStr); err != nil {
		p.log.WithError(err).WithField("sessionKey", keyStr).Warn().Msg("failed to seed projection on attach")
	}

	if p.backups != nil {
		p.backups.Track(opts.Key)
	}

	go actor.run(ctx, opts)
	return nil
}

// Detach stops a session's owner goroutine, disconnects the protocol
// client, and releases cluster ownership, preserving credentials (the
// "preserving" shutdown mode — a detach is not a delete).
func (p *Pool) Detach(ctx context.Context, key sessionkey.Key) error {
	keyStr := key.String()

	p.mu.Lock()
	actor, exists := p.actors[keyStr]
	if !exists {
		p.mu.Unlock()
		return fmt.Errorf("detach %s: %w", keyStr, waerrors.ErrSessionNotFound)
	}
	delete(p.actors, keyStr)
	p.mu.Unlock()

	actor.stop()

	if p.backups != nil {
		p.backups.Untrack(key)
	}

	if p.proxies != nil {
		if err := p.proxies.Release(ctx, keyStr); err != nil {
			p.log.WithError(err).WithField("sessionKey", keyStr).Warn().Msg("failed to release proxy on detach")
		}
	}

	if p.coord != nil {
		if err := p.coord.ReleaseOwnership(ctx, keyStr); err != nil {
			p.log.WithError(err).WithField("sessionKey", keyStr).Warn().Msg("failed to release ownership on detach")
		}
	}
	return nil
}

// Reconnect forces an immediate reconnect attempt outside the normal
// backoff schedule — used by the Status Reconciliation Loop and by an
// operator action.
func (p *Pool) Reconnect(ctx context.Context, key sessionkey.Key) error {
	actor, err := p.actorFor(key)
	if err != nil {
		return err
	}
	actor.requestReconnect()
	return nil
}

// Send queues an outbound message on the session's mailbox and waits
// for the result. The owner goroutine delivers it itself, so its event
// loop waits for the protocol round-trip.
func (p *Pool) Send(ctx context.Context, key sessionkey.Key, to, text string) error {
	actor, err := p.actorFor(key)
	if err != nil {
		return err
	}
	return actor.send(ctx, to, text)
}

func (p *Pool) Status(ctx context.Context, key sessionkey.Key) (connstate.Record, error) {
	actor, err := p.actorFor(key)
	if err != nil {
		return connstate.Record{}, err
	}
	return actor.snapshot(), nil
}

func (p *Pool) actorFor(key sessionkey.Key) (*sessionActor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	actor, ok := p.actors[key.String()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, waerrors.ErrSessionNotFound)
	}
	return actor, nil
}

// Keys returns every session key currently attached on this instance,
// used by the Status Reconciliation Loop to iterate live sessions.
func (p *Pool) Keys() []sessionkey.Key {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]sessionkey.Key, 0, len(p.actors))
	for _, actor := range p.actors {
		out = append(out, actor.key)
	}
	return out
}

// Close signals every owner goroutine to stop, without waiting for
// them to exit, then waits for the worker pool's queued tasks; used
// during graceful shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	actors := make([]*sessionActor, 0, len(p.actors))
	for _, a := range p.actors {
		actors = append(actors, a)
	}
	p.actors = make(map[string]*sessionActor)
	p.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	p.workers.StopAndWait()
}

func reconnectDelay(attempt int) time.Duration {
	d := reconnectBase * time.Duration(math.Pow(2, float64(attempt-1)))
	return d
}
