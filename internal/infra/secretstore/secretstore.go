// Package secretstore resolves credentials (vendor API keys, session
// encryption keys, database passwords) lazily and caches them on a
// TTL, falling back to environment variables when no external
// secret manager is configured — grounded on the teacher's
// getEnv-with-default config pattern (internal/app/config/config.go)
// generalized into a pluggable resolver plus a go-cache TTL layer
// (patrickmn/go-cache, declared in the mt21625457-aicodex2api go.mod).
package secretstore

import (
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"waconnect/pkg/logger"
)

// Resolver looks up one secret by name from an external source (vault,
// cloud secrets manager, ...). No concrete external-vendor resolver is
// grounded in the example pack, so the Store falls back to env vars
// when none is configured — the pluggable seam exists for one to be
// added later without touching call sites.
type Resolver interface {
	Resolve(name string) (string, bool, error)
}

// EnvResolver resolves a secret from the process environment.
type EnvResolver struct{}

func (EnvResolver) Resolve(name string) (string, bool, error) {
	v, ok := os.LookupEnv(name)
	return v, ok, nil
}

// Store lazily resolves and TTL-caches secrets.
type Store struct {
	resolver Resolver
	cache    *gocache.Cache
	log      logger.Logger
}

func New(resolver Resolver, ttl time.Duration, log logger.Logger) *Store {
	if resolver == nil {
		resolver = EnvResolver{}
	}
	return &Store{
		resolver: resolver,
		cache:    gocache.New(ttl, ttl*2),
		log:      log.WithComponent("secretstore"),
	}
}

// Get resolves a secret, consulting the TTL cache first.
func (s *Store) Get(name string) (string, error) {
	if v, ok := s.cache.Get(name); ok {
		return v.(string), nil
	}

	v, found, err := s.resolver.Resolve(name)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", name, err)
	}
	if !found {
		return "", fmt.Errorf("secret %q not found", name)
	}

	s.cache.SetDefault(name, v)
	return v, nil
}

// GetOrDefault resolves a secret, returning def when it is absent
// rather than an error — used for optional credentials like a proxy
// vendor key that is only required when USE_PROXY is enabled.
func (s *Store) GetOrDefault(name, def string) string {
	v, err := s.Get(name)
	if err != nil {
		return def
	}
	return v
}

// Invalidate drops a cached secret, forcing the next Get to re-resolve
// it — used after a rotation is detected.
func (s *Store) Invalidate(name string) {
	s.cache.Delete(name)
}
