package sessionstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"waconnect/internal/domain/sessionkey"
	"waconnect/pkg/logger"
)

// BackupScheduler periodically backs up every tracked session key to
// the cloud tier in hybrid mode, grounded on
// mercator-hq-jupiter/pkg/evidence/retention/scheduler.go's
// wrap-a-*cron.Cron / Start(ctx) / goroutine-awaiting-ctx.Done shape.
type BackupScheduler struct {
	store    *Store
	cron     *cron.Cron
	interval time.Duration
	log      logger.Logger

	mu   sync.RWMutex
	keys map[sessionkey.Key]struct{}
}

func NewBackupScheduler(store *Store, interval time.Duration, log logger.Logger) *BackupScheduler {
	return &BackupScheduler{
		store:    store,
		cron:     cron.New(),
		interval: interval,
		keys:     make(map[sessionkey.Key]struct{}),
		log:      log.WithComponent("sessionstore-backup"),
	}
}

func (s *BackupScheduler) Track(key sessionkey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = struct{}{}
}

func (s *BackupScheduler) Untrack(key sessionkey.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}

func (s *BackupScheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.interval)
	_, err := s.cron.AddFunc(spec, func() { s.runBackupCycle(ctx) })
	if err != nil {
		return fmt.Errorf("register backup schedule: %w", err)
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()

	return nil
}

func (s *BackupScheduler) runBackupCycle(ctx context.Context) {
	s.mu.RLock()
	keys := make([]sessionkey.Key, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	for _, key := range keys {
		if err := s.store.BackupOne(ctx, key); err != nil {
			s.log.WithError(err).WithField("sessionKey", key.String()).Warn().Msg("session backup failed")
		}
	}
}
