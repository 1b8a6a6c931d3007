package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"waconnect/internal/app/config"
	"waconnect/internal/domain/instance"
	"waconnect/internal/infra/coordinator"
	"waconnect/internal/infra/eventbus"
	"waconnect/internal/infra/proxyalloc"
	"waconnect/internal/infra/ratelimit"
	"waconnect/internal/infra/secretstore"
	"waconnect/internal/infra/sessionstore"
	"waconnect/internal/infra/statemgr"
	"waconnect/internal/pool"
	"waconnect/internal/protocol"
	"waconnect/internal/reconcile"
	"waconnect/pkg/logger"
)

// Container wires every component of the connection runtime, in the
// dependency order SPEC_FULL.md's component design lays out: Secret
// Store, Proxy Allocator, Session Store, Instance Coordinator,
// Connection State Manager, Connection Pool, Status Reconciliation
// Loop. Grounded on the teacher's Container/NewContainer/initX/Close
// shape (internal/app/container.go's original session/message/group
// wiring), generalized from HTTP use-case construction to
// infrastructure-component construction.
type Container struct {
	DB  *bun.DB
	RDB *redis.Client

	Secrets     *secretstore.Store
	Proxies     *proxyalloc.Allocator
	Sessions    *sessionstore.Store
	DeviceStore *protocol.DeviceStore
	Coordinator *coordinator.Coordinator
	State       *statemgr.Manager
	Bus         *eventbus.Bus
	Limiter     *ratelimit.Limiter
	Backups     *sessionstore.BackupScheduler
	Pool        *pool.Pool
	Reconciler  *reconcile.Reconciler

	Admin *AdminServerConfig

	Logger logger.Logger
}

// AdminServerConfig carries the values adminserver.New needs; kept
// here rather than constructing the server itself so main can choose
// when to start listening.
type AdminServerConfig struct {
	Addr string
}

func NewContainer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Container, error) {
	c := &Container{Logger: log.WithComponent("container")}

	db, err := coordinator.OpenDB(cfg.GetDatabaseDSN(), c.Logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c.DB = db

	if err := coordinator.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate instance/ownership tables: %w", err)
	}
	if err := statemgr.Migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate projections table: %w", err)
	}

	c.RDB = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	c.initSecrets()

	if err := c.initProxies(cfg); err != nil {
		return nil, err
	}

	if err := c.initSessionStore(cfg); err != nil {
		return nil, err
	}

	deviceStore, err := protocol.NewDeviceStore(ctx, cfg.GetDatabaseDSN(), c.Logger)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	c.DeviceStore = deviceStore

	c.Coordinator = coordinator.New(coordinator.Config{
		InstanceID:        cfg.Runtime.InstanceURL,
		InstanceURL:       cfg.Runtime.InstanceURL,
		Capacity:          cfg.Runtime.MaxConnectionsPerInstance,
		HeartbeatInterval: cfg.Runtime.InstanceHeartbeatInterval,
		InstanceTimeout:   cfg.Runtime.InstanceTimeout,
		Policy:            instance.Policy(cfg.Runtime.LoadBalanceStrategy),
	}, c.DB, c.Logger)

	c.Bus = eventbus.New(c.RDB, c.Logger)
	c.State = statemgr.New(statemgr.Config{}, c.DB, c.Bus, c.Logger)
	c.Limiter = ratelimit.New(c.RDB, cfg.WhatsApp.StorePrefix)

	c.Pool = pool.New(pool.Config{
		MaxReconnectAttempts: cfg.Runtime.MaxReconnectAttempts,
		AutoReconnect:        cfg.Runtime.AutoReconnect,
		ReconnectRatePerHour: 50,
	}, c.DeviceStore, c.Proxies, c.Sessions, c.State, c.Coordinator, c.Bus, c.Limiter, c.Logger)

	if c.Backups != nil {
		c.Pool.SetBackupScheduler(c.Backups)
	}

	c.Reconciler = reconcile.New(reconcile.Config{
		Interval: cfg.Runtime.ReconciliationInterval,
	}, c.Pool, c.State, c.Logger)

	c.Admin = &AdminServerConfig{Addr: cfg.App.Host + ":" + cfg.App.Port}

	c.Logger.Info().Msg("container initialized successfully")
	return c, nil
}

func (c *Container) initSecrets() {
	c.Secrets = secretstore.New(secretstore.EnvResolver{}, 10*time.Minute, c.Logger)
}

func (c *Container) initProxies(cfg *config.Config) error {
	if !cfg.Proxy.Enabled {
		return nil
	}

	apiKey := c.Secrets.GetOrDefault("PROXY_VENDOR_API_KEY", cfg.Proxy.VendorAPIKey)
	vendor := proxyalloc.NewHTTPVendor(cfg.Proxy.VendorBaseURL, apiKey, cfg.WhatsApp.StorePrefix, c.Logger)
	oracle := proxyalloc.NewStaticOracle(proxyalloc.DefaultProximityTable())

	c.Proxies = proxyalloc.New(proxyalloc.Config{
		AvailabilityTTL: cfg.Proxy.AvailabilityTTL,
		StrictMode:      cfg.Proxy.StrictMode,
	}, vendor, oracle, c.Logger)

	return nil
}

func (c *Container) initSessionStore(cfg *config.Config) error {
	mode := sessionstore.Mode(cfg.SessionStore.StorageType)

	var cloud sessionstore.CloudBackend
	if mode == sessionstore.ModeCloud || mode == sessionstore.ModeHybrid {
		cloud = sessionstore.NewS3Backend(cfg.SessionStore.Bucket, cfg.SessionStore.S3Region, cfg.SessionStore.S3Endpoint, cfg.SessionStore.S3AccessKey, cfg.SessionStore.S3SecretKey, c.Logger)
	}

	var encKey []byte
	if cfg.SessionStore.EncryptionKey != "" {
		encKey = []byte(cfg.SessionStore.EncryptionKey)
	}

	c.Sessions = sessionstore.New(mode, cfg.SessionStore.StoragePath, cloud, encKey, c.Logger)

	if mode == sessionstore.ModeHybrid {
		c.Backups = sessionstore.NewBackupScheduler(c.Sessions, cfg.SessionStore.BackupInterval, c.Logger)
		if err := c.Backups.Start(context.Background()); err != nil {
			return fmt.Errorf("start session backup scheduler: %w", err)
		}
	}
	return nil
}

// Start begins the Instance Coordinator's heartbeat/cleanup cron and
// the Status Reconciliation Loop, both of which run for the lifetime
// of ctx.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start instance coordinator: %w", err)
	}
	if err := c.Reconciler.Start(ctx); err != nil {
		return fmt.Errorf("start reconciliation loop: %w", err)
	}
	return nil
}

// Close releases every resource the container opened, in reverse
// dependency order.
func (c *Container) Close() error {
	c.Logger.Info().Msg("closing container")

	c.Pool.Close()
	c.State.Close()

	if c.RDB != nil {
		if err := c.RDB.Close(); err != nil {
			c.Logger.WithError(err).Warn().Msg("failed to close redis client")
		}
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.WithError(err).Error().Msg("failed to close database")
			return err
		}
	}

	c.Logger.Info().Msg("container closed successfully")
	return nil
}
