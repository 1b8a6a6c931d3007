// Package sessionstore implements the Session Store in its three
// modes (local, cloud, hybrid), grounded on
// mt21625457-aicodex2api/backend/internal/service/sora_s3_storage.go's
// lazily-initialized, mutex-guarded S3 client pattern for the cloud
// tier, and stdlib file I/O for the local tier.
package sessionstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"waconnect/internal/domain/sessionkey"
	"waconnect/pkg/logger"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeCloud  Mode = "cloud"
	ModeHybrid Mode = "hybrid"
)

// CloudBackend is the subset of S3 operations the hybrid/cloud tiers
// need; see s3backend.go for the aws-sdk-go-v2 implementation.
type CloudBackend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type Store struct {
	mode          Mode
	localRoot     string
	cloud         CloudBackend
	encryptionKey []byte
	log           logger.Logger
}

func New(mode Mode, localRoot string, cloud CloudBackend, encryptionKey []byte, log logger.Logger) *Store {
	return &Store{
		mode:          mode,
		localRoot:     localRoot,
		cloud:         cloud,
		encryptionKey: encryptionKey,
		log:           log.WithComponent("sessionstore"),
	}
}

func (s *Store) localPath(key sessionkey.Key, file string) string {
	return filepath.Join(s.localRoot, key.UserID, key.Phone, file)
}

func (s *Store) objectKey(key sessionkey.Key, file string) string {
	return key.StoragePath() + "/" + file
}

// Write persists one credential file. In cloud mode it goes straight
// to the cloud tier; in local and hybrid mode it goes to the local
// tier only (the source of truth in hybrid mode), and the cloud tier
// is updated by the periodic backup ticker, not on every write, per
// spec.md's hybrid-mode description.
func (s *Store) Write(ctx context.Context, key sessionkey.Key, file string, data []byte) error {
	payload := data
	if len(s.encryptionKey) > 0 {
		enc, err := encrypt(s.encryptionKey, data)
		if err != nil {
			return fmt.Errorf("encrypt session file: %w", err)
		}
		payload = enc
	}

	if s.mode == ModeCloud {
		return s.cloud.Put(ctx, s.objectKey(key, file), payload)
	}

	path := s.localPath(key, file)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key sessionkey.Key, file string) ([]byte, error) {
	var payload []byte
	var err error

	switch s.mode {
	case ModeCloud:
		payload, err = s.cloud.Get(ctx, s.objectKey(key, file))
	default:
		payload, err = os.ReadFile(s.localPath(key, file))
		if err != nil && s.mode == ModeHybrid {
			payload, err = s.cloud.Get(ctx, s.objectKey(key, file))
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	if len(s.encryptionKey) > 0 {
		return decrypt(s.encryptionKey, payload)
	}
	return payload, nil
}

func (s *Store) Delete(ctx context.Context, key sessionkey.Key, file string) error {
	if s.mode != ModeCloud {
		if err := os.Remove(s.localPath(key, file)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete local session file: %w", err)
		}
	}
	if s.mode == ModeCloud || s.mode == ModeHybrid {
		if err := s.cloud.Delete(ctx, s.objectKey(key, file)); err != nil {
			return fmt.Errorf("delete cloud session file: %w", err)
		}
	}
	return nil
}

// BackupOne copies every file under a session's local directory to
// the cloud tier — the hybrid mode's periodic backup unit of work.
func (s *Store) BackupOne(ctx context.Context, key sessionkey.Key) error {
	if s.mode != ModeHybrid {
		return nil
	}

	dir := filepath.Join(s.localRoot, key.UserID, key.Phone)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read session dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if err := s.cloud.Put(ctx, s.objectKey(key, entry.Name()), data); err != nil {
			return fmt.Errorf("backup %s: %w", entry.Name(), err)
		}
	}
	return nil
}
