package sessionstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"waconnect/internal/domain/sessionkey"
	"waconnect/pkg/logger"
)

func testLogger() logger.Logger {
	zl := zerolog.Nop()
	return logger.NewZerologLogger(&zl)
}

type fakeCloud struct {
	objects map[string][]byte
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{objects: make(map[string][]byte)}
}

func (f *fakeCloud) Put(ctx context.Context, key string, data []byte) error {
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeCloud) Get(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeCloud) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func TestStoreLocalWriteReadRoundTrip(t *testing.T) {
	store := New(ModeLocal, t.TempDir(), nil, nil, testLogger())
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	data := []byte("device credentials")
	if err := store.Write(context.Background(), key, "creds.json", data); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	got, err := store.Read(context.Background(), key, "creds.json")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read() = %q, want %q", got, data)
	}
}

func TestStoreLocalWriteEncrypted(t *testing.T) {
	encKey := bytes.Repeat([]byte{0x11}, 32)
	store := New(ModeLocal, t.TempDir(), nil, encKey, testLogger())
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	data := []byte("device credentials")
	if err := store.Write(context.Background(), key, "creds.json", data); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	got, err := store.Read(context.Background(), key, "creds.json")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read() with encryption = %q, want %q", got, data)
	}
}

func TestStoreHybridFallsBackToCloud(t *testing.T) {
	cloud := newFakeCloud()
	store := New(ModeHybrid, t.TempDir(), cloud, nil, testLogger())
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	data := []byte("cloud-only blob")
	if err := cloud.Put(context.Background(), store.objectKey(key, "creds.json"), data); err != nil {
		t.Fatalf("seeding cloud object failed: %v", err)
	}

	got, err := store.Read(context.Background(), key, "creds.json")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read() fallback = %q, want %q", got, data)
	}
}

func TestStoreDeleteRemovesLocalFile(t *testing.T) {
	store := New(ModeLocal, t.TempDir(), nil, nil, testLogger())
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	if err := store.Write(context.Background(), key, "creds.json", []byte("x")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := store.Delete(context.Background(), key, "creds.json"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Read(context.Background(), key, "creds.json"); err == nil {
		t.Error("expected Read to fail after Delete")
	}
}

func TestBackupOneCopiesLocalFilesToCloud(t *testing.T) {
	cloud := newFakeCloud()
	store := New(ModeHybrid, t.TempDir(), cloud, nil, testLogger())
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}

	data := []byte("device credentials")
	if err := store.Write(context.Background(), key, "creds.json", data); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	if err := store.BackupOne(context.Background(), key); err != nil {
		t.Fatalf("BackupOne returned error: %v", err)
	}

	got, ok := cloud.objects[store.objectKey(key, "creds.json")]
	if !ok {
		t.Fatal("expected BackupOne to have uploaded the credential file")
	}
	if !bytes.Equal(got, data) {
		t.Errorf("uploaded object = %q, want %q", got, data)
	}
}

func TestBackupOneIsNoopOutsideHybridMode(t *testing.T) {
	store := New(ModeLocal, t.TempDir(), nil, nil, testLogger())
	key, err := sessionkey.New("user-1", "5511999999999")
	if err != nil {
		t.Fatalf("unexpected error building key: %v", err)
	}
	if err := store.BackupOne(context.Background(), key); err != nil {
		t.Errorf("BackupOne in local mode should be a no-op, got error: %v", err)
	}
}
