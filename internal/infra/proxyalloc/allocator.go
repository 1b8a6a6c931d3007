// Package proxyalloc implements the Proxy Allocator: it purchases a
// vendor proxy IP for a session key, falls back across countries when
// the requested one is out of stock, and caches per-country
// availability on a TTL. Grounded on the zedaapi proxy-pool.go.go
// reference file's PoolManager/PoolConfig/provider-registry shape
// (periodic sync loop with context.CancelFunc + sync.WaitGroup, a
// WithDefaults() zero-value-replacement config helper).
package proxyalloc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"waconnect/internal/domain/proxy"
	"waconnect/internal/domain/waerrors"
	"waconnect/pkg/logger"
)

type Config struct {
	AvailabilityTTL time.Duration
	StrictMode      bool
	RetryAttempts   int
	BaseBackoff     time.Duration
}

func (c Config) WithDefaults() Config {
	if c.AvailabilityTTL <= 0 {
		c.AvailabilityTTL = time.Hour
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	return c
}

// Vendor is the proxy vendor's surface: purchase, release and
// availability check. HTTPVendor implements it with POST and DELETE on
// /zone/<zone>/ips, passing the country or ip as a query parameter; it
// sends no JSON request body.
type Vendor interface {
	PurchaseIP(ctx context.Context, country string) (proxy.Assignment, error)
	ReleaseIP(ctx context.Context, assignment proxy.Assignment) error
	CheckAvailability(ctx context.Context, country string) (bool, error)
}

// Allocator is the Proxy Allocator.
type Allocator struct {
	cfg        Config
	vendor     Vendor
	oracle     proxy.CountryOracle
	availCache *gocache.Cache
	mu         sync.Mutex
	assigned   map[string]proxy.Assignment
	log        logger.Logger
}

func New(cfg Config, vendor Vendor, oracle proxy.CountryOracle, log logger.Logger) *Allocator {
	cfg = cfg.WithDefaults()
	return &Allocator{
		cfg:        cfg,
		vendor:     vendor,
		oracle:     oracle,
		availCache: gocache.New(cfg.AvailabilityTTL, cfg.AvailabilityTTL*2),
		assigned:   make(map[string]proxy.Assignment),
		log:        log.WithComponent("proxy-allocator"),
	}
}

// Allocate purchases a proxy for sessionKey in the requested country,
// falling back through the country oracle when the vendor has no
// stock, and failing closed with ErrProxyUnavailable in strict mode
// once the fallback chain is exhausted.
func (a *Allocator) Allocate(ctx context.Context, sessionKey, country string) (proxy.Assignment, error) {
	tried := make([]string, 0, 4)
	current := country

	for {
		tried = append(tried, current)

		if avail, ok := a.checkCached(current); ok && !avail {
			a.log.WithField("country", current).Debug().Msg("country marked unavailable by cache, skipping vendor call")
		} else {
			assignment, err := a.purchaseWithRetry(ctx, current)
			if err == nil {
				assignment.SessionKey = sessionKey
				a.setCached(current, true)
				a.mu.Lock()
				a.assigned[sessionKey] = assignment
				a.mu.Unlock()
				return assignment, nil
			}
			a.setCached(current, false)
			a.log.WithError(err).WithField("country", current).Warn().Msg("proxy vendor has no stock for country")
		}

		next, ok := a.oracle.Fallback(country, tried)
		if !ok {
			if a.cfg.StrictMode {
				return proxy.Assignment{}, fmt.Errorf("%w: exhausted fallback chain %v", waerrors.ErrProxyUnavailable, tried)
			}
			return proxy.Assignment{}, waerrors.ErrProxyUnavailable
		}
		current = next
	}
}

// Release returns a session's proxy to the vendor.
func (a *Allocator) Release(ctx context.Context, sessionKey string) error {
	a.mu.Lock()
	assignment, ok := a.assigned[sessionKey]
	if ok {
		delete(a.assigned, sessionKey)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := a.vendor.ReleaseIP(ctx, assignment); err != nil {
		return fmt.Errorf("%w: %v", waerrors.ErrProxyVendorError, err)
	}
	return nil
}

// Rotate releases a session's current proxy and purchases a fresh one
// in the same country (falling back through the oracle exactly like
// Allocate), used when egress fails with a network error that
// suggests the assigned IP has gone bad.
func (a *Allocator) Rotate(ctx context.Context, sessionKey, country string) (proxy.Assignment, error) {
	if err := a.Release(ctx, sessionKey); err != nil {
		a.log.WithError(err).WithField("sessionKey", sessionKey).Warn().Msg("failed to release proxy before rotating, proceeding anyway")
	}
	return a.Allocate(ctx, sessionKey, country)
}

func (a *Allocator) checkCached(country string) (available bool, ok bool) {
	v, found := a.availCache.Get(country)
	if !found {
		return false, false
	}
	return v.(proxy.Availability).Available, true
}

func (a *Allocator) setCached(country string, available bool) {
	a.availCache.SetDefault(country, proxy.Availability{
		Country: country, Available: available, CheckedAt: time.Now(),
	})
}

// purchaseWithRetry retries failed vendor purchases with exponential
// backoff and jitter. Every error is retried the same way: a 4xx
// response is not told apart from a 5xx or a network error. Matching the teacher's own hand-rolled retry
// shape (internal/infra/whatsapp/connection/manager.go ConnectWithRetry)
// rather than pulling in a dedicated backoff library.
func (a *Allocator) purchaseWithRetry(ctx context.Context, country string) (proxy.Assignment, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.RetryAttempts; attempt++ {
		assignment, err := a.vendor.PurchaseIP(ctx, country)
		if err == nil {
			return assignment, nil
		}
		lastErr = err

		if attempt == a.cfg.RetryAttempts-1 {
			break
		}

		backoff := a.cfg.BaseBackoff * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		select {
		case <-ctx.Done():
			return proxy.Assignment{}, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return proxy.Assignment{}, fmt.Errorf("%w: %v", waerrors.ErrProxyVendorError, lastErr)
}
