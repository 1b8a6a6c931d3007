package coordinator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/uptrace/bun"

	"waconnect/internal/domain/instance"
	"waconnect/internal/domain/waerrors"
	"waconnect/pkg/logger"
)

type Config struct {
	InstanceID        string
	InstanceURL       string
	Capacity          int
	HeartbeatInterval time.Duration
	InstanceTimeout   time.Duration
	CleanupInterval   time.Duration
	Policy            instance.Policy
}

func (c Config) WithDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.InstanceTimeout <= 0 {
		c.InstanceTimeout = 45 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.Policy == "" {
		c.Policy = instance.PolicyLeastConnections
	}
	return c
}

// Coordinator implements the Instance Coordinator.
type Coordinator struct {
	cfg  Config
	db   *bun.DB
	cron *cron.Cron
	log  logger.Logger

	mu          sync.RWMutex
	activeCount int

	// rrCursor advances on every round_robin placement/routing decision,
	// rotating across whatever candidate set that call observes.
	rrCursor uint64
}

func New(cfg Config, db *bun.DB, log logger.Logger) *Coordinator {
	return &Coordinator{
		cfg:  cfg.WithDefaults(),
		db:   db,
		cron: cron.New(),
		log:  log.WithComponent("coordinator"),
	}
}

// Start registers this instance and begins heartbeating and
// stale-instance cleanup on their respective cron schedules, grounded
// on mercator-hq-jupiter/pkg/evidence/retention/scheduler.go's
// wrap-a-*cron.Cron shape.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.register(ctx); err != nil {
		return fmt.Errorf("register instance: %w", err)
	}

	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.cfg.HeartbeatInterval), func() {
		if err := c.heartbeat(ctx); err != nil {
			c.log.WithError(err).Warn().Msg("heartbeat failed")
		}
	}); err != nil {
		return fmt.Errorf("register heartbeat schedule: %w", err)
	}

	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.cfg.CleanupInterval), func() {
		if err := c.cleanupStale(ctx); err != nil {
			c.log.WithError(err).Warn().Msg("stale instance cleanup failed")
		}
	}); err != nil {
		return fmt.Errorf("register cleanup schedule: %w", err)
	}

	c.cron.Start()

	go func() {
		<-ctx.Done()
		c.cron.Stop()
	}()

	return nil
}

func (c *Coordinator) register(ctx context.Context) error {
	now := time.Now()
	row := &instanceRow{
		ID:            c.cfg.InstanceID,
		URL:           c.cfg.InstanceURL,
		StartedAt:     now,
		LastHeartbeat: now,
		Capacity:      c.cfg.Capacity,
	}
	_, err := c.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("url = EXCLUDED.url").
		Set("last_heartbeat = EXCLUDED.last_heartbeat").
		Exec(ctx)
	return err
}

// heartbeat refreshes this instance's liveness row along with its
// current resource ratios, sourced from shirou/gopsutil/v4 (declared
// in the mt21625457-aicodex2api go.mod, wired here from general API
// knowledge — see DESIGN.md).
func (c *Coordinator) heartbeat(ctx context.Context) error {
	cpuRatio, memRatio := c.resourceRatios()

	c.mu.RLock()
	active := c.activeCount
	c.mu.RUnlock()

	_, err := c.db.NewUpdate().Model((*instanceRow)(nil)).
		Set("last_heartbeat = ?", time.Now()).
		Set("active_count = ?", active).
		Set("cpu_ratio = ?", cpuRatio).
		Set("memory_ratio = ?", memRatio).
		Where("id = ?", c.cfg.InstanceID).
		Exec(ctx)
	return err
}

func (c *Coordinator) resourceRatios() (cpuRatio, memRatio float64) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuRatio = percents[0] / 100
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memRatio = vm.UsedPercent / 100
	}
	return cpuRatio, memRatio
}

// cleanupStale removes instance rows whose heartbeat is older than
// InstanceTimeout and releases any ownership rows they held, so other
// instances can re-acquire those sessions.
func (c *Coordinator) cleanupStale(ctx context.Context) error {
	cutoff := time.Now().Add(-c.cfg.InstanceTimeout)

	var stale []instanceRow
	if err := c.db.NewSelect().Model(&stale).Where("last_heartbeat < ?", cutoff).Scan(ctx); err != nil {
		return fmt.Errorf("select stale instances: %w", err)
	}

	for _, row := range stale {
		if _, err := c.db.NewDelete().Model((*ownershipRow)(nil)).Where("instance_id = ?", row.ID).Exec(ctx); err != nil {
			c.log.WithError(err).WithField("instanceId", row.ID).Warn().Msg("failed to release ownership for stale instance")
		}
		if _, err := c.db.NewDelete().Model((*instanceRow)(nil)).Where("id = ?", row.ID).Exec(ctx); err != nil {
			c.log.WithError(err).WithField("instanceId", row.ID).Warn().Msg("failed to delete stale instance")
			continue
		}
		c.log.WithField("instanceId", row.ID).Info().Msg("reclaimed stale instance")
	}
	return nil
}

// AcquireOwnership attempts to claim sessionKey for this instance via
// a compare-and-set INSERT ... ON CONFLICT, succeeding if no other
// instance owns it, or if the current owner's heartbeat is older than
// InstanceTimeout (or its instance row is gone), in which case this
// instance takes the session over.
func (c *Coordinator) AcquireOwnership(ctx context.Context, sessionKey string) error {
	now := time.Now()
	staleCutoff := now.Add(-c.cfg.InstanceTimeout)
	row := &ownershipRow{
		SessionKey:   sessionKey,
		InstanceID:   c.cfg.InstanceID,
		AcquiredAt:   now,
		LastActivity: now,
	}

	res, err := c.db.NewInsert().Model(row).
		On("CONFLICT (session_key) DO UPDATE").
		Set("instance_id = EXCLUDED.instance_id").
		Set("acquired_at = EXCLUDED.acquired_at").
		Set("last_activity = EXCLUDED.last_activity").
		Where("waconnect_ownership.instance_id = ? OR NOT EXISTS (SELECT 1 FROM waconnect_instances WHERE id = waconnect_ownership.instance_id AND last_heartbeat > ?)", c.cfg.InstanceID, staleCutoff).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("acquire ownership: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return waerrors.ErrOwnershipDenied
	}

	c.mu.Lock()
	c.activeCount++
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) ReleaseOwnership(ctx context.Context, sessionKey string) error {
	_, err := c.db.NewDelete().Model((*ownershipRow)(nil)).
		Where("session_key = ? AND instance_id = ?", sessionKey, c.cfg.InstanceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release ownership: %w", err)
	}

	c.mu.Lock()
	if c.activeCount > 0 {
		c.activeCount--
	}
	c.mu.Unlock()
	return nil
}

// UpdateActivity bumps sessionKey's last_activity timestamp, used by
// the Connection Pool to keep ownership fresh for sessions that are
// actively sending or receiving traffic rather than merely connected.
func (c *Coordinator) UpdateActivity(ctx context.Context, sessionKey string) error {
	_, err := c.db.NewUpdate().Model((*ownershipRow)(nil)).
		Set("last_activity = ?", time.Now()).
		Where("session_key = ? AND instance_id = ?", sessionKey, c.cfg.InstanceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update activity: %w", err)
	}
	return nil
}

// candidateInstances loads every instance whose heartbeat hasn't
// expired, ordered by id so round_robin rotates over a stable
// sequence rather than whatever order Postgres happens to return.
func (c *Coordinator) candidateInstances(ctx context.Context) ([]instanceRow, error) {
	var rows []instanceRow
	if err := c.db.NewSelect().Model(&rows).
		Where("last_heartbeat > ?", time.Now().Add(-c.cfg.InstanceTimeout)).
		OrderExpr("id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("select candidate instances: %w", err)
	}
	return rows, nil
}

// pickBest applies cfg.Policy over candidates, returning the chosen
// row and whether any candidate had capacity at all.
func (c *Coordinator) pickBest(candidates []instanceRow) (instanceRow, bool) {
	withCapacity := make([]instanceRow, 0, len(candidates))
	for _, cand := range candidates {
		if cand.HasCapacity(c.cfg.Capacity) {
			withCapacity = append(withCapacity, cand)
		}
	}
	if len(withCapacity) == 0 {
		return instanceRow{}, false
	}

	switch c.cfg.Policy {
	case instance.PolicyRoundRobin:
		idx := atomic.AddUint64(&c.rrCursor, 1) - 1
		return withCapacity[idx%uint64(len(withCapacity))], true
	case instance.PolicyResourceBased:
		best := withCapacity[0]
		for _, cand := range withCapacity[1:] {
			if cand.CPURatio+cand.MemoryRatio < best.CPURatio+best.MemoryRatio {
				best = cand
			}
		}
		return best, true
	default:
		best := withCapacity[0]
		for _, cand := range withCapacity[1:] {
			if cand.ActiveCount < best.ActiveCount {
				best = cand
			}
		}
		return best, true
	}
}

// PlaceNew picks the instance sessionKey's new session should be
// placed on, honoring the configured Policy. A single-instance
// deployment always places locally.
func (c *Coordinator) PlaceNew(ctx context.Context, sessionKey string) (string, error) {
	candidates, err := c.candidateInstances(ctx)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return c.cfg.InstanceID, nil
	}

	best, ok := c.pickBest(candidates)
	if !ok {
		return "", waerrors.ErrCapacityReached
	}
	return best.ID, nil
}

// BestInstanceFor returns an advisory placement recommendation for
// sessionKey, used by OwnershipDenied callers to redirect to the
// instance that should own it instead of retrying locally. Returns
// ok=false when no instance currently has capacity.
func (c *Coordinator) BestInstanceFor(ctx context.Context, sessionKey string) (string, bool, error) {
	candidates, err := c.candidateInstances(ctx)
	if err != nil {
		return "", false, err
	}
	if len(candidates) == 0 {
		return "", false, nil
	}

	best, ok := c.pickBest(candidates)
	if !ok {
		return "", false, nil
	}
	return best.ID, true, nil
}

func (r instanceRow) HasCapacity(globalCap int) bool {
	cap := r.Capacity
	if cap <= 0 {
		cap = globalCap
	}
	return cap <= 0 || r.ActiveCount < cap
}
